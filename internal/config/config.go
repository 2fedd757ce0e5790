// Package config loads the server configuration: built-in defaults, then a
// TOML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is read when neither --config nor DOSSIER_CONFIG is set.
const DefaultPath = "dossier.toml"

type Config struct {
	Server    ServerConfig             `toml:"server"`
	LLM       LLMConfig                `toml:"llm"`
	Embedding EmbeddingConfig          `toml:"embedding"`
	Agent     AgentConfig              `toml:"agent"`
	Memory    MemoryConfig             `toml:"memory"`
	Prompts   PromptsConfig            `toml:"prompts"`
	Log       LogConfig                `toml:"log"`
	Observer  ObserverConfig           `toml:"observer"`
	Loadouts  map[string]LoadoutConfig `toml:"loadouts"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LLMConfig struct {
	BaseURL     string        `toml:"base_url"`
	APIKey      string        `toml:"api_key"`
	Model       string        `toml:"model"`
	Timeout     time.Duration `toml:"timeout"`
	TaskTimeout time.Duration `toml:"task_timeout"`
	// TaskModel runs the memory extraction prompts; empty uses Model.
	TaskModel string `toml:"task_model"`
	// RetryAttempts above 1 opts into retrying 429/502/503 responses.
	// Failures surface on the first attempt by default.
	RetryAttempts int `toml:"retry_attempts"`
	// MonitorInterval polls the backend's model list; 0 disables polling.
	MonitorInterval time.Duration `toml:"monitor_interval"`
}

type EmbeddingConfig struct {
	BaseURL    string        `toml:"base_url"`
	APIKey     string        `toml:"api_key"`
	Model      string        `toml:"model"`
	Dimensions int           `toml:"dimensions"`
	Timeout    time.Duration `toml:"timeout"`
}

type AgentConfig struct {
	InitialUser    string `toml:"initial_user"`
	DefaultPersona string `toml:"default_persona"`
	DefaultAbility string `toml:"default_ability"`
	DefaultEngine  string `toml:"default_engine"`
	ContextLimit   int    `toml:"context_limit"`
}

// Log backends for MemoryConfig.LogBackend.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
)

type MemoryConfig struct {
	Dir               string  `toml:"dir"`
	LogBackend        string  `toml:"log_backend"`
	TopK              int     `toml:"top_k"`
	Threshold         float64 `toml:"threshold"`
	IdentifyThreshold float64 `toml:"identify_threshold"`
	Workers           int     `toml:"workers"`
}

type PromptsConfig struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type ObserverConfig struct {
	Enabled     bool   `toml:"enabled"`
	ServiceName string `toml:"service_name"`
}

// LoadoutConfig names one card of each kind.
type LoadoutConfig struct {
	Persona string `toml:"persona"`
	Ability string `toml:"ability"`
	Engine  string `toml:"engine"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: "127.0.0.1:8000"},
		LLM: LLMConfig{
			BaseURL:         "http://127.0.0.1:8001/v1",
			Model:           "local",
			Timeout:         180 * time.Second,
			TaskTimeout:     60 * time.Second,
			RetryAttempts:   1,
			MonitorInterval: 5 * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://127.0.0.1:8001/v1",
			Model:   "local",
			Timeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			InitialUser:    "agent_memory",
			DefaultPersona: "AA",
			DefaultAbility: "01",
			DefaultEngine:  "F0",
			ContextLimit:   128 * 1024,
		},
		Memory: MemoryConfig{
			Dir:               "memory",
			LogBackend:        BackendCSV,
			TopK:              3,
			Threshold:         0.5,
			IdentifyThreshold: 0.75,
			Workers:           4,
		},
		Prompts:  PromptsConfig{Dir: "prompts", Watch: true},
		Log:      LogConfig{Level: "info"},
		Observer: ObserverConfig{ServiceName: "dossier"},
		Loadouts: map[string]LoadoutConfig{
			"TEST99": {Persona: "AA", Ability: "99", Engine: "F0"},
		},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// An empty path falls back to DOSSIER_CONFIG, then DefaultPath. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DOSSIER_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Env overrides
	if v := os.Getenv("DOSSIER_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DOSSIER_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("DOSSIER_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("DOSSIER_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.TaskModel == "" {
		cfg.LLM.TaskModel = cfg.LLM.Model
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	switch strings.ToLower(c.Memory.LogBackend) {
	case BackendCSV, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("memory.log_backend: unknown backend %q", c.Memory.LogBackend))
	}
	if c.Memory.Threshold < -1 || c.Memory.Threshold > 1 {
		errs = append(errs, fmt.Errorf("memory.threshold: %v outside [-1, 1]", c.Memory.Threshold))
	}
	if c.Memory.IdentifyThreshold < -1 || c.Memory.IdentifyThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory.identify_threshold: %v outside [-1, 1]", c.Memory.IdentifyThreshold))
	}
	if c.LLM.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("llm.retry_attempts: must be at least 1, got %d", c.LLM.RetryAttempts))
	}
	if c.Memory.TopK < 1 {
		errs = append(errs, fmt.Errorf("memory.top_k: must be positive, got %d", c.Memory.TopK))
	}
	for name, lo := range c.Loadouts {
		if lo.Persona == "" || lo.Ability == "" || lo.Engine == "" {
			errs = append(errs, fmt.Errorf("loadouts.%s: persona, ability and engine are all required", name))
		}
	}
	return errors.Join(errs...)
}
