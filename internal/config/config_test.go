package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dossier.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Agent.InitialUser != "agent_memory" {
		t.Errorf("initial user = %q", cfg.Agent.InitialUser)
	}
	if cfg.LLM.Timeout != 180*time.Second || cfg.LLM.TaskTimeout != 60*time.Second || cfg.Embedding.Timeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v/%v", cfg.LLM.Timeout, cfg.LLM.TaskTimeout, cfg.Embedding.Timeout)
	}
	if cfg.Memory.TopK != 3 || cfg.Memory.Threshold != 0.5 || cfg.Memory.IdentifyThreshold != 0.75 {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if cfg.LLM.RetryAttempts != 1 {
		t.Errorf("retry attempts = %d, want a single attempt", cfg.LLM.RetryAttempts)
	}
	if cfg.LLM.MonitorInterval != 5*time.Second {
		t.Errorf("monitor interval = %v", cfg.LLM.MonitorInterval)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := writeConfig(t, `
[llm]
model = "qwen3"
timeout = "2m"
monitor_interval = "10s"

[agent]
default_persona = "BB"

[memory]
log_backend = "sqlite"
top_k = 5

[loadouts]
CODER = { persona = "AA", ability = "07", engine = "F1" }
`)
	t.Setenv("DOSSIER_CONFIG", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "qwen3" || cfg.LLM.TaskModel != "qwen3" {
		t.Errorf("model = %q task = %q", cfg.LLM.Model, cfg.LLM.TaskModel)
	}
	if cfg.LLM.Timeout != 2*time.Minute || cfg.LLM.MonitorInterval != 10*time.Second {
		t.Errorf("timeout = %v monitor = %v", cfg.LLM.Timeout, cfg.LLM.MonitorInterval)
	}
	if cfg.Agent.DefaultPersona != "BB" || cfg.Agent.DefaultEngine != "F0" {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Memory.LogBackend != BackendSQLite || cfg.Memory.TopK != 5 || cfg.Memory.Threshold != 0.5 {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	want := map[string]LoadoutConfig{
		"TEST99": {Persona: "AA", Ability: "99", Engine: "F0"},
		"CODER":  {Persona: "AA", Ability: "07", Engine: "F1"},
	}
	if diff := cmp.Diff(want, cfg.Loadouts); diff != "" {
		t.Errorf("loadouts (-want +got):\n%s", diff)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DOSSIER_LLM_API_KEY", "env-key")
	t.Setenv("DOSSIER_LLM_BASE_URL", "http://gpu:9000/v1")
	t.Setenv("DOSSIER_OBSERVER_ENABLED", "1")

	cfg, err := Load("/nonexistent/path.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "env-key" || cfg.LLM.BaseURL != "http://gpu:9000/v1" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if cfg.Embedding.APIKey != "env-key" {
		t.Errorf("embedding key should fall back to llm key, got %q", cfg.Embedding.APIKey)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer should be enabled")
	}
}

func TestConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, "[server]\naddr = \":9999\"\n")
	t.Setenv("DOSSIER_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := map[string]string{
		"syntax":    "[llm\nmodel = 1",
		"backend":   "[memory]\nlog_backend = \"redis\"",
		"loadout":   "[loadouts]\nX = { persona = \"AA\" }",
		"top_k":     "[memory]\ntop_k = 0",
		"threshold": "[memory]\nthreshold = 2.0",
		"retry":     "[llm]\nretry_attempts = 0",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Memory.LogBackend = "redis"
	cfg.Memory.TopK = 0
	err := cfg.validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"log_backend", "top_k"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
