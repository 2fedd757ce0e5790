package main

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nevindra/dossier"
	"github.com/nevindra/dossier/agent"
	"github.com/nevindra/dossier/internal/config"
	memsqlite "github.com/nevindra/dossier/memory/sqlite"
)

func TestParseFlags(t *testing.T) {
	f, help, err := parseFlags([]string{"-p", "bb", "--engine", "F1", "-c", "/etc/dossier.toml"})
	if err != nil || help {
		t.Fatalf("parseFlags: %v help=%v", err, help)
	}
	cfg := config.Default()
	f.apply(&cfg)
	got := [3]string{cfg.Agent.DefaultPersona, cfg.Agent.DefaultAbility, cfg.Agent.DefaultEngine}
	if want := [3]string{"bb", "01", "F1"}; got != want {
		t.Errorf("cards = %v, want %v", got, want)
	}
	if f.config != "/etc/dossier.toml" {
		t.Errorf("config = %q", f.config)
	}

	if _, _, err := parseFlags([]string{"extra"}); err == nil {
		t.Error("expected error for positional argument")
	}
	if _, help, _ := parseFlags([]string{"--help"}); !help {
		t.Error("--help not reported")
	}
}

func TestAgentConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Loadouts = map[string]config.LoadoutConfig{"test99": {Persona: "AA", Ability: "99", Engine: "F0"}}
	ac := agentConfig(cfg)
	if ac.InitialUser != "agent_memory" || ac.ChatTimeout != cfg.LLM.Timeout || ac.Workers != 4 {
		t.Errorf("agent config = %+v", ac)
	}
	want := map[string]agent.Loadout{"TEST99": {Persona: "AA", Ability: "99", Engine: "F0"}}
	if diff := cmp.Diff(want, ac.Loadouts); diff != "" {
		t.Errorf("loadouts (-want +got):\n%s", diff)
	}
}

func TestOpenLogBackends(t *testing.T) {
	for _, backend := range []string{config.BackendCSV, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			mc := config.Default().Memory
			mc.Dir = t.TempDir()
			mc.LogBackend = backend
			l, err := openLog(context.Background(), mc, newLogger("debug"))
			if err != nil {
				t.Fatalf("openLog: %v", err)
			}
			defer l.Close()
			_, isSQLite := l.(*memsqlite.Log)
			if isSQLite != (backend == config.BackendSQLite) {
				t.Errorf("backend %s opened %T", backend, l)
			}
			if l.Len() != 0 {
				t.Errorf("Len = %d", l.Len())
			}
		})
	}
}

type unavailableLLM struct{ calls int }

func (u *unavailableLLM) Name() string { return "unavailable" }

func (u *unavailableLLM) Chat(context.Context, dossier.ChatRequest) (dossier.ChatResponse, error) {
	u.calls++
	return dossier.ChatResponse{}, &dossier.ErrHTTP{Status: 503, Body: "overloaded"}
}

type unavailableEmbedding struct{ calls int }

func (u *unavailableEmbedding) Name() string    { return "unavailable" }
func (u *unavailableEmbedding) Dimensions() int { return 2 }

func (u *unavailableEmbedding) Embed(context.Context, []string) ([][]float32, error) {
	u.calls++
	return nil, &dossier.ErrHTTP{Status: 503, Body: "overloaded"}
}

func TestDefaultConfigDoesNotRetry(t *testing.T) {
	llm, emb := &unavailableLLM{}, &unavailableEmbedding{}
	chat, embed := withRetry(config.Default().LLM, llm, emb, newLogger("error"))

	if _, err := chat.Chat(context.Background(), dossier.ChatRequest{}); err == nil {
		t.Error("expected chat error")
	}
	if _, err := embed.Embed(context.Background(), []string{"hi"}); err == nil {
		t.Error("expected embed error")
	}
	if llm.calls != 1 || emb.calls != 1 {
		t.Errorf("calls chat=%d embed=%d, want one attempt each", llm.calls, emb.calls)
	}
}

func TestRetryIsOptIn(t *testing.T) {
	llm, emb := &unavailableLLM{}, &unavailableEmbedding{}
	lc := config.Default().LLM
	lc.RetryAttempts = 3
	chat, embed := withRetry(lc, llm, emb, newLogger("error"))
	if chat == dossier.Provider(llm) || embed == dossier.EmbeddingProvider(emb) {
		t.Error("providers not wrapped when retry_attempts > 1")
	}
}
