package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nevindra/dossier"
	"github.com/nevindra/dossier/cards"
	"github.com/nevindra/dossier/memory"
)

// --- test doubles ---

// scriptedLLM answers main chat turns with reply and records every request.
type scriptedLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []dossier.ChatRequest
}

func (f *scriptedLLM) Name() string { return "scripted" }

func (f *scriptedLLM) Chat(_ context.Context, req dossier.ChatRequest) (dossier.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return dossier.ChatResponse{}, f.err
	}
	return dossier.ChatResponse{Content: f.reply}, nil
}

func (f *scriptedLLM) requests() []dossier.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dossier.ChatRequest(nil), f.reqs...)
}

type remembered struct {
	Speaker, Utterance, Model string
}

type enrolled struct {
	User    string
	History []dossier.ChatMessage
}

type fakeMemory struct {
	mu         sync.Mutex
	recall     []string
	recallFn   func(userID, query string) []string
	identify   string
	remembered []remembered
	enrolled   []enrolled
	queries    []string
}

func (f *fakeMemory) Recall(_ context.Context, userID, query string) []string {
	f.mu.Lock()
	fn := f.recallFn
	f.queries = append(f.queries, userID+":"+query)
	out := f.recall
	f.mu.Unlock()
	if fn != nil {
		return fn(userID, query)
	}
	return out
}

func (f *fakeMemory) RememberUtterance(_ context.Context, speakerID, utterance, model string) (memory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remembered = append(f.remembered, remembered{speakerID, utterance, model})
	return memory.Record{SpeakerID: speakerID, EntityID: speakerID, Text: utterance}, nil
}

func (f *fakeMemory) Enroll(_ context.Context, userID string, history []dossier.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrolled = append(f.enrolled, enrolled{userID, history})
	return nil
}

func (f *fakeMemory) Identify(context.Context, string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identify, f.identify != ""
}

func (f *fakeMemory) rememberedCalls() []remembered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remembered(nil), f.remembered...)
}

// fakeCards serves card texts from a map keyed by kind and id.
type fakeCards map[cards.Kind]map[string]string

func (f fakeCards) Has(k cards.Kind, id string) bool {
	_, ok := f[k][id]
	return ok
}

func (f fakeCards) Text(k cards.Kind, id string) string {
	if s, ok := f[k][id]; ok {
		return s
	}
	return k.Fallback()
}

func testCards() fakeCards {
	return fakeCards{
		cards.Persona: {"DEFAULT": "You are Dossier.", "PIRATE": "You are a pirate."},
		cards.Ability: {"DEFAULT": "You can remember things.", "CODER": "You write Go."},
		cards.Engine:  {"DEFAULT": "Be brief.", "VERBOSE": "Explain everything."},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultPersona = "default"
	cfg.DefaultAbility = "default"
	cfg.DefaultEngine = "default"
	cfg.Loadouts = map[string]Loadout{
		"CAPTAIN": {Persona: "pirate", Ability: "coder", Engine: "verbose"},
	}
	return cfg
}

func newTestAgent(llm dossier.Provider, mem Memory) *Agent {
	return New(testConfig(), llm, mem, testCards())
}

// --- end-to-end doubles backed by memory.System ---

// routingLLM plays every role the memory system asks the model for: it
// echoes statements as facts, names the first capitalized word as the
// subject and answers main chat turns with a fixed reply.
type routingLLM struct {
	mu   sync.Mutex
	main []dossier.ChatRequest

	// busy counts main chat calls in flight; overlaps counts calls that
	// started while another was running.
	busy, overlaps atomic.Int32
}

func (f *routingLLM) Name() string { return "routing" }

func (f *routingLLM) Chat(_ context.Context, req dossier.ChatRequest) (dossier.ChatResponse, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.HasSuffix(prompt, "Factual Memory:"):
		return dossier.ChatResponse{Content: quoted(prompt)}, nil
	case strings.HasSuffix(prompt, "Subjects:"), strings.HasSuffix(prompt, "Subject:"):
		return dossier.ChatResponse{Content: firstName(quoted(prompt))}, nil
	}
	if f.busy.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	defer f.busy.Add(-1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.main = append(f.main, req)
	return dossier.ChatResponse{Content: "Noted."}, nil
}

func (f *routingLLM) mainRequests() []dossier.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dossier.ChatRequest(nil), f.main...)
}

// quoted returns the last double-quoted string in s.
func quoted(s string) string {
	end := strings.LastIndex(s, `"`)
	if end <= 0 {
		return ""
	}
	start := strings.LastIndex(s[:end], `"`)
	if start < 0 {
		return ""
	}
	return s[start+1 : end]
}

// firstName returns the first capitalized word after the first word.
func firstName(s string) string {
	words := strings.Fields(strings.Trim(s, "?.!"))
	for i, w := range words {
		if i > 0 && w != "" && w[0] >= 'A' && w[0] <= 'Z' {
			return strings.Trim(w, "?.!,")
		}
	}
	if len(words) > 0 {
		return words[0]
	}
	return ""
}

// flatEmbedding maps every text to the same vector so ranking never filters;
// only scoping decides what is recalled.
type flatEmbedding struct{}

func (flatEmbedding) Name() string    { return "flat" }
func (flatEmbedding) Dimensions() int { return 2 }

func (flatEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no input")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 1}
	}
	return out, nil
}
