package memory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/nevindra/dossier"
)

// Config controls recall and identification thresholds and the budgets for
// the model calls the memory system makes on its own.
type Config struct {
	Dir               string        // root directory for vectors and signatures
	TopK              int           // maximum recalled facts
	Threshold         float32       // minimum cosine similarity for recall
	IdentifyThreshold float32       // minimum cosine similarity for identification
	TaskModel         string        // model for extraction calls; "" uses the provider default
	TaskTimeout       time.Duration // per extraction call
	EmbedTimeout      time.Duration // per embedding call
}

// DefaultConfig returns the default thresholds rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		TopK:              3,
		Threshold:         0.5,
		IdentifyThreshold: 0.75,
		TaskTimeout:       60 * time.Second,
		EmbedTimeout:      30 * time.Second,
	}
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) { s.logger = l }
}

// System is the process-wide memory. It is safe for concurrent use.
type System struct {
	mu         sync.Mutex
	vectors    *VectorStore
	log        Log
	signatures map[string][]float32 // replaced on enroll, never mutated in place

	cfg       Config
	sigPath   string
	llm       dossier.Provider
	embedding dossier.EmbeddingProvider
	logger    *slog.Logger
}

// Open loads vectors and signatures from cfg.Dir and takes ownership of log.
// Records in the log whose vector is missing are tolerated and never recalled.
func Open(cfg Config, log Log, llm dossier.Provider, emb dossier.EmbeddingProvider, opts ...Option) (*System, error) {
	if log == nil {
		return nil, fmt.Errorf("memory: log is required")
	}
	if llm == nil || emb == nil {
		return nil, fmt.Errorf("memory: chat and embedding providers are required")
	}
	s := &System{
		log:       log,
		cfg:       cfg,
		sigPath:   filepath.Join(cfg.Dir, SignaturesFileName),
		llm:       llm,
		embedding: emb,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}

	vs, err := NewVectorStore(filepath.Join(cfg.Dir, "vectors"), s.logger)
	if err != nil {
		return nil, err
	}
	loaded, err := vs.LoadAll()
	if err != nil {
		return nil, err
	}
	s.vectors = vs

	sigs, err := loadSignatures(s.sigPath)
	if err != nil {
		s.logger.Warn("signatures unreadable, starting empty", "path", s.sigPath, "error", err)
		sigs = make(map[string][]float32)
	}
	s.signatures = sigs

	orphans := 0
	for _, rec := range log.All() {
		if !vs.Has(rec.ID) {
			orphans++
		}
	}
	s.logger.Info("memory loaded",
		"vectors", loaded, "records", log.Len(), "orphans", orphans, "signatures", len(sigs))
	return s, nil
}

// Close releases the log.
func (s *System) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Close()
}

// Len returns the number of records in the log.
func (s *System) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Len()
}

// Records returns a snapshot of the log.
func (s *System) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.All()
}

// Remember embeds text and stores it as a fact spoken by speakerID about
// entityID. The vector is written before the log row, so a failure between
// the two leaves an unreferenced vector rather than a row without one.
func (s *System) Remember(ctx context.Context, speakerID, entityID, text string) (Record, error) {
	if speakerID == "" {
		return Record{}, ErrMissingSpeaker
	}
	if entityID == "" {
		return Record{}, ErrMissingEntity
	}
	if text == "" {
		return Record{}, ErrEmptyText
	}

	vec, err := s.embed(dossier.WithPurpose(ctx, dossier.PurposeRemember), text)
	if err != nil {
		return Record{}, fmt.Errorf("embed fact: %w", err)
	}

	rec := Record{
		ID:        dossier.NewID(),
		Timestamp: time.Now().UTC(),
		SpeakerID: speakerID,
		EntityID:  entityID,
		Text:      text,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.vectors.Put(rec.ID, vec); err != nil {
		return Record{}, err
	}
	if err := s.log.Append(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("append fact: %w", err)
	}
	if err := appendManifest(s.cfg.Dir, entityID, rec.ID); err != nil {
		s.logger.Warn("manifest not updated", "entity_id", entityID, "error", err)
	}
	s.logger.Debug("fact remembered", "id", rec.ID, "speaker_id", speakerID, "entity_id", entityID)
	return rec, nil
}

// RememberUtterance rewrites a raw utterance into a standalone fact, routes
// it to its primary subject and stores it. When routing yields nothing the
// fact is attributed to the speaker. model selects the chat model for both
// calls; "" falls back to the configured task model.
func (s *System) RememberUtterance(ctx context.Context, speakerID, utterance, model string) (Record, error) {
	if speakerID == "" {
		return Record{}, ErrMissingSpeaker
	}
	if model == "" {
		model = s.cfg.TaskModel
	}

	raw, err := s.complete(dossier.WithPurpose(ctx, dossier.PurposeRewrite), model, RewritePrompt(speakerID, utterance),
		dossier.Temperature(rewriteTemperature).WithMaxTokens(rewriteMaxTokens))
	if err != nil {
		return Record{}, fmt.Errorf("rewrite fact: %w", err)
	}
	fact := ParseFact(raw)
	if fact == "" {
		return Record{}, fmt.Errorf("rewrite fact: %w", ErrEmptyText)
	}

	raw, err = s.complete(dossier.WithPurpose(ctx, dossier.PurposeRoute), model, RoutePrompt(fact),
		dossier.Temperature(routeTemperature).WithMaxTokens(routeMaxTokens))
	if err != nil {
		return Record{}, fmt.Errorf("route fact: %w", err)
	}
	entityID := ParseSubject(raw)
	if entityID == "" {
		entityID = speakerID
	}
	return s.Remember(ctx, speakerID, entityID, fact)
}

func (s *System) complete(ctx context.Context, model, prompt string, params *dossier.GenerationParams) (string, error) {
	if s.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()
	}
	resp, err := s.llm.Chat(ctx, dossier.ChatRequest{
		Messages:         []dossier.ChatMessage{dossier.UserMessage(prompt)},
		Model:            model,
		GenerationParams: params,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *System) embed(ctx context.Context, text string) ([]float32, error) {
	if s.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		defer cancel()
	}
	return dossier.EmbedOne(ctx, s.embedding, text)
}

func (s *System) embedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if s.cfg.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.EmbedTimeout)
		defer cancel()
	}
	embs, err := s.embedding.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embs) != len(texts) {
		return nil, &dossier.ErrLLM{Provider: s.embedding.Name(),
			Message: fmt.Sprintf("got %d embeddings for %d inputs", len(embs), len(texts))}
	}
	return embs, nil
}
