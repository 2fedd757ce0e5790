// Command dossier serves the memory-backed conversational agent over an
// OpenAI-compatible HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/nevindra/dossier"
	"github.com/nevindra/dossier/agent"
	"github.com/nevindra/dossier/cards"
	"github.com/nevindra/dossier/internal/config"
	"github.com/nevindra/dossier/internal/server"
	"github.com/nevindra/dossier/memory"
	memsqlite "github.com/nevindra/dossier/memory/sqlite"
	"github.com/nevindra/dossier/observer"
	"github.com/nevindra/dossier/provider/openaicompat"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dossier: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	config  string
	persona string
	ability string
	engine  string
}

func parseFlags(args []string) (flags, bool, error) {
	var f flags
	fs := pflag.NewFlagSet("dossier", pflag.ContinueOnError)
	fs.StringVarP(&f.config, "config", "c", "", "path to the TOML config (default: $DOSSIER_CONFIG or dossier.toml)")
	fs.StringVarP(&f.persona, "persona", "p", "", "default persona id (e.g. AA)")
	fs.StringVarP(&f.ability, "ability", "a", "", "default ability id (e.g. 01)")
	fs.StringVarP(&f.engine, "engine", "e", "", "default engine id (e.g. F0)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return f, true, nil
		}
		return f, false, err
	}
	if fs.NArg() > 0 {
		return f, false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return f, false, nil
}

// apply lets command-line card ids override the config file.
func (f flags) apply(cfg *config.Config) {
	if f.persona != "" {
		cfg.Agent.DefaultPersona = f.persona
	}
	if f.ability != "" {
		cfg.Agent.DefaultAbility = f.ability
	}
	if f.engine != "" {
		cfg.Agent.DefaultEngine = f.engine
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	f, help, err := parseFlags(os.Args[1:])
	if help || err != nil {
		return err
	}

	// 1. Load config
	cfg, err := config.Load(f.config)
	if err != nil {
		return err
	}
	f.apply(&cfg)
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create providers
	backend := openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL,
		openaicompat.WithName("llm"), openaicompat.WithLogger(logger))
	var chatLLM dossier.Provider = backend
	var embedding dossier.EmbeddingProvider = openaicompat.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model,
		cfg.Embedding.BaseURL, cfg.Embedding.Dimensions, openaicompat.WithEmbeddingName("embedding"))
	chatLLM, embedding = withRetry(cfg.LLM, chatLLM, embedding, logger)

	var agentOpts []agent.Option
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			return fmt.Errorf("observer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("observer shutdown", "error", err)
			}
		}()
		chatLLM = observer.WrapProvider(chatLLM, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		agentOpts = append(agentOpts, agent.WithTracer(observer.NewTracer()))
	}

	// 3. Open memory
	memLog, err := openLog(ctx, cfg.Memory, logger)
	if err != nil {
		return err
	}
	memCfg := memory.DefaultConfig(cfg.Memory.Dir)
	memCfg.TopK = cfg.Memory.TopK
	memCfg.Threshold = float32(cfg.Memory.Threshold)
	memCfg.IdentifyThreshold = float32(cfg.Memory.IdentifyThreshold)
	memCfg.TaskModel = cfg.LLM.TaskModel
	memCfg.TaskTimeout = cfg.LLM.TaskTimeout
	memCfg.EmbedTimeout = cfg.Embedding.Timeout
	mem, err := memory.Open(memCfg, memLog, chatLLM, embedding, memory.WithLogger(logger))
	if err != nil {
		memLog.Close()
		return err
	}
	defer mem.Close()

	// 4. Load prompt cards
	registry := cards.NewRegistry(cfg.Prompts.Dir, cards.WithLogger(logger))
	if err := registry.Load(); err != nil {
		logger.Warn("prompt cards not loaded, using fallbacks", "dir", cfg.Prompts.Dir, "error", err)
	}
	if cfg.Prompts.Watch {
		w, err := cards.NewWatcher(registry, cards.OnReload(func(err error) {
			if err != nil {
				logger.Warn("prompt card reload failed", "error", err)
			}
		}))
		if err != nil {
			logger.Warn("prompt card watcher disabled", "error", err)
		} else {
			w.Start(ctx)
			defer w.Stop()
		}
	}
	for _, k := range cards.Kinds {
		logger.Info("prompt cards", "kind", k.String(), "ids", strings.Join(registry.IDs(k), ","))
	}

	// 5. Create agent
	a := agent.New(agentConfig(cfg), chatLLM, mem, registry, append(agentOpts, agent.WithLogger(logger))...)
	var handler agent.Handler = a
	if inst != nil {
		handler = observer.WrapAgent(a, inst)
	}

	// 6. Serve
	srvOpts := []server.Option{
		server.WithModel(cfg.LLM.Model),
		server.WithModels(backend),
		server.WithEmbedding(embedding, cfg.Embedding.Model),
		server.WithLogger(logger),
	}
	if cfg.LLM.MonitorInterval > 0 {
		mon := server.NewModelMonitor(backend, cfg.LLM.MonitorInterval, logger)
		go mon.Run(ctx)
		srvOpts = append(srvOpts, server.WithMonitor(mon))
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.New(handler, srvOpts...),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.LLM.Timeout + time.Minute,
		IdleTimeout:  2 * time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "initial_user", cfg.Agent.InitialUser,
			"persona", cfg.Agent.DefaultPersona, "ability", cfg.Agent.DefaultAbility, "engine", cfg.Agent.DefaultEngine)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	return nil
}

func openLog(ctx context.Context, cfg config.MemoryConfig, logger *slog.Logger) (memory.Log, error) {
	switch strings.ToLower(cfg.LogBackend) {
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("memory dir: %w", err)
		}
		return memsqlite.Open(ctx, filepath.Join(cfg.Dir, "memory_log.db"), memsqlite.WithLogger(logger))
	default:
		return memory.OpenCSVLog(filepath.Join(cfg.Dir, memory.LogFileName), logger)
	}
}

func agentConfig(cfg config.Config) agent.Config {
	ac := agent.DefaultConfig()
	ac.InitialUser = cfg.Agent.InitialUser
	ac.DefaultPersona = cfg.Agent.DefaultPersona
	ac.DefaultAbility = cfg.Agent.DefaultAbility
	ac.DefaultEngine = cfg.Agent.DefaultEngine
	ac.ContextLimit = cfg.Agent.ContextLimit
	ac.ChatTimeout = cfg.LLM.Timeout
	ac.Workers = cfg.Memory.Workers
	ac.Loadouts = make(map[string]agent.Loadout, len(cfg.Loadouts))
	for id, lo := range cfg.Loadouts {
		ac.Loadouts[cards.NormalizeID(id)] = agent.Loadout{Persona: lo.Persona, Ability: lo.Ability, Engine: lo.Engine}
	}
	return ac
}

// withRetry wraps the providers only when the config opts into more than one
// attempt.
func withRetry(lc config.LLMConfig, llm dossier.Provider, emb dossier.EmbeddingProvider, logger *slog.Logger) (dossier.Provider, dossier.EmbeddingProvider) {
	if lc.RetryAttempts <= 1 {
		return llm, emb
	}
	opts := []dossier.RetryOption{dossier.RetryMaxAttempts(lc.RetryAttempts), dossier.RetryLogger(logger)}
	return dossier.WithRetry(llm, opts...), dossier.WithEmbeddingRetry(emb, opts...)
}
