package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/nevindra/dossier"
)

// Scored is a recalled record with its similarity to the query.
type Scored struct {
	Record
	Score float32
}

// Recall returns up to TopK fact texts relevant to query from userID's point
// of view, best match first. It never fails: any extraction, embedding or
// scoring problem is logged and yields an empty result.
//
// When the query's subjects include "self", candidates are facts spoken by
// or about userID. Otherwise candidates are facts spoken by userID about one
// of the named subjects, so two users' facts about different people who
// share a name never mix.
func (s *System) Recall(ctx context.Context, userID, query string) (out []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("recall panicked", "user_id", userID, "panic", fmt.Sprint(r))
			out = nil
		}
	}()

	scored := s.recallScored(ctx, userID, query)
	if len(scored) == 0 {
		return nil
	}
	out = make([]string, len(scored))
	for i, sc := range scored {
		out[i] = sc.Text
	}
	return out
}

func (s *System) recallScored(ctx context.Context, userID, query string) []Scored {
	if s.Len() == 0 {
		return nil
	}

	raw, err := s.complete(dossier.WithPurpose(ctx, dossier.PurposeSubjects), s.cfg.TaskModel, SubjectsPrompt(query),
		dossier.Temperature(subjectsTemperature).WithMaxTokens(subjectsMaxTokens))
	if err != nil {
		s.logger.Warn("subject extraction failed", "user_id", userID, "error", err)
		return nil
	}
	subjects := ParseSubjects(raw)
	if len(subjects) == 0 {
		s.logger.Debug("no subjects in query", "user_id", userID)
		return nil
	}

	s.mu.Lock()
	var candidates []Record
	if slices.Contains(subjects, SelfSubject) {
		candidates = s.log.BySpeakerOrEntity(userID)
	} else {
		candidates = s.log.BySpeakerAndEntities(userID, subjects)
	}
	ids := make([]string, len(candidates))
	for i, rec := range candidates {
		ids[i] = rec.ID
	}
	vecs := s.vectors.Get(ids)
	s.mu.Unlock()

	if len(candidates) == 0 || len(vecs) == 0 {
		s.logger.Debug("no candidate facts", "user_id", userID, "subjects", subjects, "candidates", len(candidates))
		return nil
	}

	qvec, err := s.embed(dossier.WithPurpose(ctx, dossier.PurposeRecall), query)
	if err != nil {
		s.logger.Warn("query embedding failed", "user_id", userID, "error", err)
		return nil
	}

	ranked := rank(qvec, candidates, vecs, s.cfg.TopK, s.cfg.Threshold)
	s.logger.Debug("recall", "user_id", userID, "subjects", subjects,
		"candidates", len(candidates), "hits", len(ranked))
	return ranked
}

// rank scores candidates that have a vector, orders them by descending
// similarity (stable on ties, so log order breaks them), drops those below
// threshold and keeps at most topK.
func rank(query []float32, candidates []Record, vecs []Vector, topK int, threshold float32) []Scored {
	byID := make(map[string][]float32, len(vecs))
	for _, v := range vecs {
		byID[v.ID] = v.Values
	}
	scored := make([]Scored, 0, len(vecs))
	for _, rec := range candidates {
		values, ok := byID[rec.ID]
		if !ok {
			continue
		}
		scored = append(scored, Scored{Record: rec, Score: CosineSimilarity(query, values)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	out := scored[:0]
	for _, sc := range scored {
		if topK > 0 && len(out) >= topK {
			break
		}
		if sc.Score < threshold {
			break
		}
		out = append(out, sc)
	}
	return out
}
