package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/nevindra/dossier"
)

// SignaturesFileName is the signature file's name inside the memory directory.
const SignaturesFileName = "signatures.cbor"

// MinEnrollTurns is the shortest history Enroll accepts.
const MinEnrollTurns = 3

var (
	ErrNotEnoughHistory = errors.New("memory: not enough conversation history to enroll")
	ErrNoUserTurns      = errors.New("memory: history has no user turns to enroll")
)

// Enroll computes userID's identity signature as the mean embedding of the
// user turns in history and persists it, replacing any previous signature.
// history is counted in full: assistant turns count towards MinEnrollTurns
// but are not embedded.
func (s *System) Enroll(ctx context.Context, userID string, history []dossier.ChatMessage) error {
	if userID == "" {
		return ErrMissingSpeaker
	}
	if len(history) < MinEnrollTurns {
		return ErrNotEnoughHistory
	}
	var texts []string
	for _, m := range history {
		if m.Role == dossier.RoleUser && m.Content != "" {
			texts = append(texts, m.Content)
		}
	}
	if len(texts) == 0 {
		return ErrNoUserTurns
	}

	embs, err := s.embedMany(dossier.WithPurpose(ctx, dossier.PurposeEnroll), texts)
	if err != nil {
		return fmt.Errorf("embed history: %w", err)
	}
	sig, err := meanVector(embs)
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.signatures)
	if next == nil {
		next = make(map[string][]float32, 1)
	}
	next[userID] = sig
	if err := saveSignatures(s.sigPath, next); err != nil {
		return fmt.Errorf("save signatures: %w", err)
	}
	s.signatures = next
	s.logger.Info("user enrolled", "user_id", userID, "turns", len(texts))
	return nil
}

// Identify returns the enrolled user whose signature is most similar to
// text, if that similarity reaches IdentifyThreshold. With no signatures
// enrolled it returns immediately without embedding anything.
func (s *System) Identify(ctx context.Context, text string) (string, bool) {
	s.mu.Lock()
	sigs := s.signatures
	s.mu.Unlock()
	if len(sigs) == 0 {
		return "", false
	}

	vec, err := s.embed(dossier.WithPurpose(ctx, dossier.PurposeIdentify), text)
	if err != nil {
		s.logger.Warn("identify embedding failed", "error", err)
		return "", false
	}

	best, bestScore := "", float32(-2)
	for _, id := range slices.Sorted(maps.Keys(sigs)) {
		if score := CosineSimilarity(vec, sigs[id]); score > bestScore {
			best, bestScore = id, score
		}
	}
	if bestScore < s.cfg.IdentifyThreshold {
		s.logger.Debug("no identity match", "best", best, "score", bestScore)
		return "", false
	}
	s.logger.Info("user identified", "user_id", best, "score", bestScore)
	return best, true
}

// Enrolled returns the ids with a stored signature, sorted.
func (s *System) Enrolled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.signatures))
}

func loadSignatures(path string) (map[string][]float32, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string][]float32), nil
	}
	if err != nil {
		return nil, err
	}
	sigs := make(map[string][]float32)
	if err := unmarshal(data, &sigs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return sigs, nil
}

func saveSignatures(path string, sigs map[string][]float32) error {
	data, err := marshal(sigs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}
