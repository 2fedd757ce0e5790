package agent

import (
	"slices"

	"github.com/nevindra/dossier"
)

// WorkingMemoryCapacity is how many turns a Dossier keeps.
const WorkingMemoryCapacity = 20

// Dossier is one user's session state: the selected prompt cards and a
// bounded FIFO of recent messages. It is not persisted and is only touched
// while the owning Agent's lock is held.
type Dossier struct {
	UserID    string
	PersonaID string
	AbilityID string
	EngineID  string

	history []dossier.ChatMessage
	// identityPrompted is set once the anonymous user has been asked who
	// they are, so the next unidentified message gets the explicit hint.
	identityPrompted bool
}

func newDossier(userID string, cfg Config) *Dossier {
	return &Dossier{
		UserID:    userID,
		PersonaID: cfg.DefaultPersona,
		AbilityID: cfg.DefaultAbility,
		EngineID:  cfg.DefaultEngine,
	}
}

// AddMessage appends a message, evicting the oldest beyond capacity.
func (d *Dossier) AddMessage(role, content string) {
	if len(d.history) == WorkingMemoryCapacity {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, dossier.ChatMessage{Role: role, Content: content})
}

// History returns a snapshot of working memory, oldest first.
func (d *Dossier) History() []dossier.ChatMessage {
	return slices.Clone(d.history)
}

func (d *Dossier) Len() int { return len(d.history) }
