package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func rec(id, speaker, entity string) Record {
	return Record{ID: id, SpeakerID: speaker, EntityID: entity, Text: "fact " + id}
}

func ids(recs []Record) []string {
	var out []string
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestRecordIndexQueries(t *testing.T) {
	x := NewRecordIndex()
	x.Add(rec("1", "scott", "sarah"))
	x.Add(rec("2", "fred", "sarah"))
	x.Add(rec("3", "scott", "scott"))
	x.Add(rec("4", "fred", "scott"))
	x.Add(rec("5", "scott", "denver"))

	tests := []struct {
		name string
		got  []Record
		want []string
	}{
		{"by speaker", x.BySpeaker("scott"), []string{"1", "3", "5"}},
		{"by entity", x.ByEntity("sarah"), []string{"1", "2"}},
		{"speaker and entities", x.BySpeakerAndEntities("scott", []string{"sarah", "denver"}), []string{"1", "5"}},
		{"speaker and no entities", x.BySpeakerAndEntities("scott", nil), nil},
		{"speaker or entity", x.BySpeakerOrEntity("scott"), []string{"1", "3", "4", "5"}},
		{"unknown", x.BySpeaker("nobody"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ids(tt.got)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if x.Len() != 5 {
		t.Errorf("Len = %d, want 5", x.Len())
	}
}

func TestRecordIndexAllIsCopy(t *testing.T) {
	x := NewRecordIndex()
	x.Add(rec("1", "a", "b"))
	all := x.All()
	all[0].Text = "changed"
	if x.All()[0].Text != "fact 1" {
		t.Error("All should return a copy")
	}
}

func TestCSVLogAppendAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), LogFileName)
	l, err := OpenCSVLog(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	want := []Record{
		{ID: "a", Timestamp: ts, SpeakerID: "scott", EntityID: "sarah", Text: "Sarah is Scott's sister."},
		{ID: "b", Timestamp: ts, SpeakerID: "fred", EntityID: "sarah", Text: "Sarah, Fred's coworker, said \"hi\"\nand left."},
	}
	for _, r := range want {
		if err := l.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	reopened, err := OpenCSVLog(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, reopened.All()); diff != "" {
		t.Errorf("reopened log mismatch (-want +got):\n%s", diff)
	}
	if got := ids(reopened.BySpeaker("fred")); len(got) != 1 || got[0] != "b" {
		t.Errorf("BySpeaker(fred) = %v", got)
	}

	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), "id,timestamp,speaker_id,entity_id,text\n") {
		t.Errorf("missing header: %q", data)
	}
}

func TestCSVLogRejectsInvalid(t *testing.T) {
	l, err := OpenCSVLog(filepath.Join(t.TempDir(), LogFileName), nil)
	if err != nil {
		t.Fatal(err)
	}
	err = l.Append(context.Background(), Record{ID: "x", EntityID: "e", Text: "t"})
	if !errors.Is(err, ErrMissingSpeaker) {
		t.Errorf("err = %v, want ErrMissingSpeaker", err)
	}
	err = l.Append(context.Background(), Record{ID: "x", SpeakerID: "s", Text: "t"})
	if !errors.Is(err, ErrMissingEntity) {
		t.Errorf("err = %v, want ErrMissingEntity", err)
	}
	if l.Len() != 0 {
		t.Errorf("invalid records must not be indexed, Len = %d", l.Len())
	}
}

func TestCSVLogSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	content := "id,timestamp,speaker_id,entity_id,text\n" +
		"a,2026-03-01T12:00:00Z,scott,sarah,ok\n" +
		"short,row\n" +
		",2026-03-01T12:00:00Z,scott,sarah,no id\n" +
		"b,2026-03-01 12:00:00.5,fred,fred,legacy timestamp\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := OpenCSVLog(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(l.All())); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if l.All()[1].Timestamp.IsZero() {
		t.Error("legacy timestamp should parse")
	}
}

func TestCSVLogSkipsBrokenQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFileName)
	content := "id,timestamp,speaker_id,entity_id,text\n" +
		"a,2026-03-01T12:00:00Z,scott,sarah,ok\n" +
		"bad,2026-03-01T12:00:00Z,scott,sarah,\"broken\"quote\n" +
		"b,2026-03-01T12:00:01Z,fred,fred,after the bad row\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := OpenCSVLog(path, nil)
	if err != nil {
		t.Fatalf("a malformed row must not fail the open: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids(l.All())); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
