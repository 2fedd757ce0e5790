package memory

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LogFileName is the CSV log's file name inside the memory directory.
const LogFileName = "memory_log.csv"

var csvHeader = []string{"id", "timestamp", "speaker_id", "entity_id", "text"}

// timestamp layouts accepted on read; the first is used on write.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// CSVLog is a Log persisted as a single CSV table. Every Append rewrites the
// whole table through a temp file and rename, so the file on disk is always
// a complete table.
type CSVLog struct {
	*RecordIndex
	path   string
	logger *slog.Logger
}

var _ Log = (*CSVLog)(nil)

// OpenCSVLog loads the table at path if it exists. Rows with too few columns
// or no id are logged and skipped.
func OpenCSVLog(path string, logger *slog.Logger) (*CSVLog, error) {
	if logger == nil {
		logger = nopLogger
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log dir: %w", err)
	}
	l := &CSVLog{RecordIndex: NewRecordIndex(), path: path, logger: logger}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	row := 0
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		row++
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			l.logger.Warn("skipping unparseable log row", "line", perr.Line, "error", perr.Err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read log %s: %w", path, err)
		}
		if row == 1 && len(fields) > 0 && fields[0] == csvHeader[0] {
			continue
		}
		rec, ok := l.parseRow(row, fields)
		if ok {
			l.Add(rec)
		}
	}
	return l, nil
}

func (l *CSVLog) parseRow(row int, fields []string) (Record, bool) {
	if len(fields) < len(csvHeader) {
		l.logger.Warn("skipping short log row", "row", row, "columns", len(fields))
		return Record{}, false
	}
	rec := Record{
		ID:        fields[0],
		SpeakerID: fields[2],
		EntityID:  fields[3],
		Text:      fields[4],
	}
	if rec.ID == "" {
		l.logger.Warn("skipping log row without id", "row", row)
		return Record{}, false
	}
	rec.Timestamp = parseTimestamp(fields[1])
	if rec.Timestamp.IsZero() && fields[1] != "" {
		l.logger.Warn("unparseable log timestamp", "row", row, "value", fields[1])
	}
	return rec, true
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Append writes the table plus rec to disk, then indexes rec. On a write
// error the index is left unchanged.
func (l *CSVLog) Append(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range l.records {
		if err := w.Write(csvRow(r)); err != nil {
			return err
		}
	}
	if err := w.Write(csvRow(rec)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	if err := writeFileAtomic(l.path, buf.Bytes()); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	l.Add(rec)
	return nil
}

func csvRow(r Record) []string {
	ts := ""
	if !r.Timestamp.IsZero() {
		ts = r.Timestamp.UTC().Format(timestampLayouts[0])
	}
	return []string{r.ID, ts, r.SpeakerID, r.EntityID, r.Text}
}

func (l *CSVLog) Close() error { return nil }
