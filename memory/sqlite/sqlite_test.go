package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nevindra/dossier/memory"
)

func newTestLog(t *testing.T, path string) *Log {
	t.Helper()
	l, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")
	l := newTestLog(t, path)

	ts := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	want := []memory.Record{
		{ID: "1", Timestamp: ts, SpeakerID: "scott", EntityID: "sarah", Text: "Sarah is Scott's sister."},
		{ID: "2", Timestamp: ts, SpeakerID: "fred", EntityID: "sarah", Text: "Sarah is Fred's coworker."},
		{ID: "3", Timestamp: ts, SpeakerID: "fred", EntityID: "scott", Text: "Scott owes Fred lunch."},
	}
	for _, r := range want {
		if err := l.Append(ctx, r); err != nil {
			t.Fatalf("Append(%s): %v", r.ID, err)
		}
	}
	l.Close()

	reopened := newTestLog(t, path)
	if diff := cmp.Diff(want, reopened.All()); diff != "" {
		t.Errorf("reloaded log mismatch (-want +got):\n%s", diff)
	}
	got := reopened.BySpeakerOrEntity("scott")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "3" {
		t.Errorf("BySpeakerOrEntity(scott) = %+v", got)
	}
	if got := reopened.BySpeakerAndEntities("fred", []string{"sarah"}); len(got) != 1 || got[0].ID != "2" {
		t.Errorf("BySpeakerAndEntities(fred, sarah) = %+v", got)
	}
}

func TestAppendValidates(t *testing.T) {
	l := newTestLog(t, filepath.Join(t.TempDir(), "memory.db"))
	err := l.Append(context.Background(), memory.Record{ID: "1", EntityID: "x", Text: "t"})
	if !errors.Is(err, memory.ErrMissingSpeaker) {
		t.Errorf("err = %v, want ErrMissingSpeaker", err)
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestAppendDuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t, filepath.Join(t.TempDir(), "memory.db"))
	r := memory.Record{ID: "1", Timestamp: time.Now(), SpeakerID: "a", EntityID: "b", Text: "t"}
	if err := l.Append(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(ctx, r); err == nil {
		t.Error("duplicate id should fail")
	}
	if l.Len() != 1 {
		t.Errorf("failed insert must not be indexed, Len = %d", l.Len())
	}
}
