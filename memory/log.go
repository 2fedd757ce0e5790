package memory

import (
	"context"
	"slices"
)

// Log is the append-only fact log. Implementations keep every record in a
// RecordIndex so reads never touch storage.
type Log interface {
	// Append validates rec, persists it and then makes it visible to readers.
	Append(ctx context.Context, rec Record) error
	All() []Record
	BySpeaker(speakerID string) []Record
	ByEntity(entityID string) []Record
	// BySpeakerAndEntities returns records spoken by speakerID whose entity
	// is one of entityIDs, in append order.
	BySpeakerAndEntities(speakerID string, entityIDs []string) []Record
	// BySpeakerOrEntity returns records spoken by id or about id, in append order.
	BySpeakerOrEntity(id string) []Record
	Len() int
	Close() error
}

// RecordIndex holds records in append order with per-speaker and per-entity
// position lists maintained incrementally. Not safe for concurrent use.
type RecordIndex struct {
	records   []Record
	bySpeaker map[string][]int
	byEntity  map[string][]int
}

func NewRecordIndex() *RecordIndex {
	return &RecordIndex{
		bySpeaker: make(map[string][]int),
		byEntity:  make(map[string][]int),
	}
}

// Add appends rec to the index. It does not validate.
func (x *RecordIndex) Add(rec Record) {
	pos := len(x.records)
	x.records = append(x.records, rec)
	x.bySpeaker[rec.SpeakerID] = append(x.bySpeaker[rec.SpeakerID], pos)
	x.byEntity[rec.EntityID] = append(x.byEntity[rec.EntityID], pos)
}

func (x *RecordIndex) Len() int { return len(x.records) }

// All returns a copy of every record in append order.
func (x *RecordIndex) All() []Record {
	return slices.Clone(x.records)
}

func (x *RecordIndex) BySpeaker(speakerID string) []Record {
	return x.collect(x.bySpeaker[speakerID])
}

func (x *RecordIndex) ByEntity(entityID string) []Record {
	return x.collect(x.byEntity[entityID])
}

func (x *RecordIndex) BySpeakerAndEntities(speakerID string, entityIDs []string) []Record {
	if len(entityIDs) == 0 {
		return nil
	}
	var out []Record
	for _, pos := range x.bySpeaker[speakerID] {
		if slices.Contains(entityIDs, x.records[pos].EntityID) {
			out = append(out, x.records[pos])
		}
	}
	return out
}

func (x *RecordIndex) BySpeakerOrEntity(id string) []Record {
	a, b := x.bySpeaker[id], x.byEntity[id]
	out := make([]Record, 0, len(a)+len(b))
	// Both lists are ascending; merge and drop positions present in both.
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var pos int
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			pos = a[i]
			i++
		case i >= len(a) || b[j] < a[i]:
			pos = b[j]
			j++
		default:
			pos = a[i]
			i++
			j++
		}
		out = append(out, x.records[pos])
	}
	return out
}

func (x *RecordIndex) collect(positions []int) []Record {
	if len(positions) == 0 {
		return nil
	}
	out := make([]Record, len(positions))
	for i, pos := range positions {
		out[i] = x.records[pos]
	}
	return out
}
