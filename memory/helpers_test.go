package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nevindra/dossier"
)

// --- test doubles ---

type fakeChat struct {
	mu      sync.Mutex
	respond func(prompt string) (string, error)
	prompts []string
	reqs    []dossier.ChatRequest
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Chat(_ context.Context, req dossier.ChatRequest) (dossier.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prompt := req.Messages[len(req.Messages)-1].Content
	f.prompts = append(f.prompts, prompt)
	f.reqs = append(f.reqs, req)
	if f.respond == nil {
		return dossier.ChatResponse{}, nil
	}
	out, err := f.respond(prompt)
	return dossier.ChatResponse{Content: out}, err
}

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// subjectsFor answers subject-extraction prompts with a fixed list.
func subjectsFor(list string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		if strings.Contains(prompt, "Subjects:") {
			return list, nil
		}
		return "", errors.New("unexpected prompt")
	}
}

type fakeEmbedding struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	def   []float32
	err   error
	calls int
}

func (f *fakeEmbedding) Name() string    { return "fake-embed" }
func (f *fakeEmbedding) Dimensions() int { return 3 }

func (f *fakeEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vecs[t]; ok {
			out[i] = v
			continue
		}
		if f.def == nil {
			return nil, errors.New("no vector for " + t)
		}
		out[i] = f.def
	}
	return out, nil
}

func (f *fakeEmbedding) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSystem(t *testing.T, dir string, chat *fakeChat, emb *fakeEmbedding) *System {
	t.Helper()
	log, err := OpenCSVLog(dir+"/"+LogFileName, nil)
	if err != nil {
		t.Fatalf("OpenCSVLog: %v", err)
	}
	s, err := Open(DefaultConfig(dir), log, chat, emb)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
