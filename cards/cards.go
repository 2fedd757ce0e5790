// Package cards loads persona, ability and engine prompt cards from YAML
// files and keeps them current as the files change.
//
// Cards live in three subdirectories of the prompts directory:
//
//	personas/<ID>_<slug>.persona.yaml   keys: name, persona
//	abilities/<ID>_<slug>.ability.yaml  keys: name, abilities
//	engines/<ID>_<slug>.engine.yaml     keys: name, engine
//
// The card ID is the part of the file name before the first underscore,
// uppercased.
package cards

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Kind identifies one of the three card families.
type Kind int

const (
	Persona Kind = iota
	Ability
	Engine
)

var kinds = [...]struct {
	name, dir, ext, field, fallback string
}{
	Persona: {"persona", "personas", ".persona.yaml", "persona", "You are a helpful AI."},
	Ability: {"ability", "abilities", ".ability.yaml", "abilities", "You have no special abilities."},
	Engine:  {"engine", "engines", ".engine.yaml", "engine", "You should respond directly."},
}

// Kinds lists every card kind.
var Kinds = []Kind{Persona, Ability, Engine}

func (k Kind) String() string { return kinds[k].name }

// Dir returns the subdirectory holding cards of this kind.
func (k Kind) Dir() string { return kinds[k].dir }

// Fallback is the text used when no card of this kind is selected or found.
func (k Kind) Fallback() string { return kinds[k].fallback }

// Card is one loaded prompt card.
type Card struct {
	ID   string
	Name string
	Text string
	Path string
}

// cardFile is the YAML shape shared by all kinds; only the field matching
// the kind is read.
type cardFile struct {
	Name      string `yaml:"name"`
	Persona   string `yaml:"persona"`
	Abilities string `yaml:"abilities"`
	Engine    string `yaml:"engine"`
}

func (f cardFile) text(k Kind) string {
	switch k {
	case Persona:
		return f.Persona
	case Ability:
		return f.Abilities
	case Engine:
		return f.Engine
	}
	return ""
}

// NormalizeID canonicalizes a card id as typed by a user or found in config.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry holds the loaded cards. It is safe for concurrent use; Load
// swaps in a complete new set so readers never see a partial reload.
type Registry struct {
	mu     sync.RWMutex
	dir    string
	cards  [len(kinds)]map[string]Card
	logger *slog.Logger
}

// NewRegistry returns an empty registry rooted at dir. Call Load to read cards.
func NewRegistry(dir string, opts ...Option) *Registry {
	r := &Registry{dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	for i := range r.cards {
		r.cards[i] = map[string]Card{}
	}
	return r
}

// Dir returns the prompts directory.
func (r *Registry) Dir() string { return r.dir }

// Load rereads every card. Missing directories are treated as empty; files
// that fail to parse or lack required keys are logged and skipped.
func (r *Registry) Load() error {
	var next [len(kinds)]map[string]Card
	for _, k := range Kinds {
		m, err := r.loadKind(k)
		if err != nil {
			return err
		}
		next[k] = m
	}
	r.mu.Lock()
	r.cards = next
	r.mu.Unlock()
	r.logger.Info("cards loaded",
		"personas", len(next[Persona]), "abilities", len(next[Ability]), "engines", len(next[Engine]))
	return nil
}

func (r *Registry) loadKind(k Kind) (map[string]Card, error) {
	out := map[string]Card{}
	dir := filepath.Join(r.dir, k.Dir())
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s cards: %w", k, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, kinds[k].ext) {
			continue
		}
		card, err := readCard(k, filepath.Join(dir, name))
		if err != nil {
			r.logger.Warn("skipping card", "kind", k.String(), "file", name, "error", err)
			continue
		}
		if prev, dup := out[card.ID]; dup {
			r.logger.Warn("duplicate card id, keeping first", "kind", k.String(), "id", card.ID,
				"kept", filepath.Base(prev.Path), "skipped", name)
			continue
		}
		out[card.ID] = card
	}
	return out, nil
}

// CardID derives a card ID from its file name.
func CardID(k Kind, fileName string) string {
	stem := strings.TrimSuffix(filepath.Base(fileName), kinds[k].ext)
	id, _, _ := strings.Cut(stem, "_")
	return NormalizeID(id)
}

func readCard(k Kind, path string) (Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Card{}, err
	}
	var f cardFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Card{}, fmt.Errorf("parse yaml: %w", err)
	}
	text := f.text(k)
	if f.Name == "" || text == "" {
		return Card{}, fmt.Errorf("missing 'name' or '%s' key", kinds[k].field)
	}
	id := CardID(k, path)
	if id == "" {
		return Card{}, fmt.Errorf("empty card id")
	}
	return Card{ID: id, Name: f.Name, Text: text, Path: path}, nil
}

// Get returns the card of kind k with the given id.
func (r *Registry) Get(k Kind, id string) (Card, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cards[k][NormalizeID(id)]
	return c, ok
}

// Has reports whether a card exists.
func (r *Registry) Has(k Kind, id string) bool {
	_, ok := r.Get(k, id)
	return ok
}

// Text returns the card's text, or the kind's fallback when absent.
func (r *Registry) Text(k Kind, id string) string {
	if c, ok := r.Get(k, id); ok {
		return c.Text
	}
	return k.Fallback()
}

// IDs returns the loaded ids of kind k, sorted.
func (r *Registry) IDs(k Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.cards[k]))
}

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
