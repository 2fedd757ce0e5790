package memory

import (
	"errors"
	"time"
)

var (
	ErrMissingID      = errors.New("memory: record id is required")
	ErrMissingSpeaker = errors.New("memory: speaker_id is required")
	ErrMissingEntity  = errors.New("memory: entity_id is required")
	ErrEmptyText      = errors.New("memory: record text is empty")
)

// Record is one fact in the log. Records are immutable once appended; the
// embedding lives in the VectorStore under the same ID.
type Record struct {
	ID        string
	Timestamp time.Time
	SpeakerID string // who uttered or caused the fact
	EntityID  string // who or what the fact is about (may equal SpeakerID)
	Text      string // rewritten, self-contained statement
}

// Validate reports the first missing required field.
func (r Record) Validate() error {
	switch {
	case r.ID == "":
		return ErrMissingID
	case r.SpeakerID == "":
		return ErrMissingSpeaker
	case r.EntityID == "":
		return ErrMissingEntity
	case r.Text == "":
		return ErrEmptyText
	}
	return nil
}
