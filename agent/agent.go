// Package agent runs the conversational pipeline: it resolves who is
// speaking, dispatches commands, recalls scoped long-term memories, builds
// the prompt, calls the model and hands memorable utterances to the
// background memory writer.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nevindra/dossier"
	"github.com/nevindra/dossier/cards"
	"github.com/nevindra/dossier/memory"
)

// DefaultInitialUser is the anonymous dossier active until someone identifies.
const DefaultInitialUser = "agent_memory"

// DefaultChatTimeout bounds the main model call.
const DefaultChatTimeout = 180 * time.Second

// Request is one incoming user message.
type Request struct {
	Text  string // text of the user's message
	Model string // model requested by the client; "" uses the provider default
}

// Handler handles one conversational turn. It always returns a reply.
type Handler interface {
	Handle(ctx context.Context, req Request) string
}

// Memory is the long-term memory the agent reads from and writes to.
type Memory interface {
	Recall(ctx context.Context, userID, query string) []string
	RememberUtterance(ctx context.Context, speakerID, utterance, model string) (memory.Record, error)
	Enroll(ctx context.Context, userID string, history []dossier.ChatMessage) error
	Identify(ctx context.Context, text string) (string, bool)
}

// Cards resolves prompt card ids to text.
type Cards interface {
	Has(k cards.Kind, id string) bool
	Text(k cards.Kind, id string) string
}

// Loadout is a named bundle of persona, ability and engine ids.
type Loadout struct {
	Persona string
	Ability string
	Engine  string
}

// Config holds the agent's process-wide defaults.
type Config struct {
	InitialUser    string
	DefaultPersona string
	DefaultAbility string
	DefaultEngine  string
	Loadouts       map[string]Loadout // keyed by uppercase id
	ContextLimit   int
	ChatTimeout    time.Duration
	Workers        int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		InitialUser:  DefaultInitialUser,
		ContextLimit: DefaultContextLimit,
		ChatTimeout:  DefaultChatTimeout,
		Workers:      DefaultWorkers,
	}
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithTracer wraps every stage in a span.
func WithTracer(t dossier.Tracer) Option {
	return func(a *Agent) { a.tracer = t }
}

// Agent owns the dossier registry and runs turns one at a time.
type Agent struct {
	// mu serializes Handle and guards dossiers and active.
	mu       sync.Mutex
	dossiers map[string]*Dossier
	active   string

	cfg    Config
	llm    dossier.Provider
	memory Memory
	cards  Cards
	pool   *pool
	stages []Stage
	tracer dossier.Tracer
	logger *slog.Logger
}

var _ Handler = (*Agent)(nil)

// New creates an Agent with the initial dossier active.
func New(cfg Config, llm dossier.Provider, mem Memory, cardSet Cards, opts ...Option) *Agent {
	if cfg.InitialUser == "" {
		cfg.InitialUser = DefaultInitialUser
	}
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = DefaultContextLimit
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = DefaultChatTimeout
	}
	cfg.DefaultPersona = cards.NormalizeID(cfg.DefaultPersona)
	cfg.DefaultAbility = cards.NormalizeID(cfg.DefaultAbility)
	cfg.DefaultEngine = cards.NormalizeID(cfg.DefaultEngine)

	a := &Agent{
		dossiers: make(map[string]*Dossier),
		active:   cfg.InitialUser,
		cfg:      cfg,
		llm:      llm,
		memory:   mem,
		cards:    cardSet,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = nopLogger
	}
	if encoding() == nil {
		a.logger.Warn("token encoding unavailable, estimating context by characters", "encoding", tokenEncoding)
	}
	a.pool = newPool(cfg.Workers, a.logger)
	a.dossiers[cfg.InitialUser] = newDossier(cfg.InitialUser, cfg)
	a.stages = a.pipeline()
	return a
}

// Handle runs one turn. Stage errors and panics become a fatal-error reply;
// nothing escapes as an error.
func (a *Agent) Handle(ctx context.Context, req Request) (resp string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	t := &Turn{Request: req, Text: req.Text, Dossier: a.activeDossier(), Continue: true}
	halted := ""

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("turn panicked", "user_id", t.Dossier.UserID,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			resp = fatalResponse(fmt.Sprint(r))
			return
		}
		a.logger.Info("turn handled", "user_id", t.Dossier.UserID, "halted_at", halted,
			"recalled", len(t.Recalled), "duration", time.Since(start))
	}()

	for _, st := range a.stages {
		if err := a.runStage(ctx, st, t); err != nil {
			a.logger.Error("stage failed", "stage", st.Name(), "user_id", t.Dossier.UserID, "error", err)
			return fatalResponse(err.Error())
		}
		if !t.Continue {
			halted = st.Name()
			break
		}
	}
	return t.Response
}

func (a *Agent) runStage(ctx context.Context, st Stage, t *Turn) error {
	if a.tracer == nil {
		return st.Process(ctx, t)
	}
	ctx, span := a.tracer.Start(ctx, "agent.stage."+st.Name(),
		dossier.StringAttr("user_id", t.Dossier.UserID))
	defer span.End()
	err := st.Process(ctx, t)
	if err != nil {
		span.Error(err)
	}
	span.SetAttr(dossier.BoolAttr("continue", t.Continue))
	return err
}

// FatalPrefix starts the reply to a turn that failed inside the pipeline.
const FatalPrefix = "Fatal Server Error: "

func fatalResponse(msg string) string {
	return FatalPrefix + msg
}

// ActiveUser returns the id of the active dossier.
func (a *Agent) ActiveUser() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Wait blocks until all background memory work submitted so far is done.
func (a *Agent) Wait() { a.pool.Wait() }

// activeDossier returns the active dossier, falling back to the initial one.
// Caller holds mu.
func (a *Agent) activeDossier() *Dossier {
	if d, ok := a.dossiers[a.active]; ok {
		return d
	}
	a.active = a.cfg.InitialUser
	return a.dossiers[a.cfg.InitialUser]
}

// switchDossier makes userID active, creating its dossier with the process
// defaults on first use. Caller holds mu.
func (a *Agent) switchDossier(userID string) *Dossier {
	d, ok := a.dossiers[userID]
	if !ok {
		d = newDossier(userID, a.cfg)
		a.dossiers[userID] = d
	}
	a.active = userID
	a.logger.Info("active dossier switched", "user_id", userID,
		"persona", d.PersonaID, "ability", d.AbilityID, "engine", d.EngineID)
	return d
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
