package memory

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const vectorExt = ".cbor"

// vectorFile is the on-disk shape of one vector.
type vectorFile struct {
	Embedding []float32 `cbor:"embedding"`
}

// Vector pairs a record ID with its embedding.
type Vector struct {
	ID     string
	Values []float32
}

// VectorStore keeps one file per embedding in dir and an in-memory index of
// all of them. Stored slices are never mutated after Put, so callers may
// read them without holding the owner's lock.
type VectorStore struct {
	dir    string
	index  map[string][]float32
	logger *slog.Logger
}

// NewVectorStore creates dir if needed. Call LoadAll to populate the index.
func NewVectorStore(dir string, logger *slog.Logger) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vector dir: %w", err)
	}
	if logger == nil {
		logger = nopLogger
	}
	return &VectorStore{dir: dir, index: make(map[string][]float32), logger: logger}, nil
}

// LoadAll reads every vector file in the directory into the index and
// returns how many were loaded. Unreadable or corrupt files are logged and
// skipped.
func (v *VectorStore) LoadAll() (int, error) {
	entries, err := os.ReadDir(v.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read vector dir: %w", err)
	}
	loaded := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, vectorExt) || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, vectorExt)
		data, err := os.ReadFile(filepath.Join(v.dir, name))
		if err != nil {
			v.logger.Warn("skipping unreadable vector", "id", id, "error", err)
			continue
		}
		var f vectorFile
		if err := unmarshal(data, &f); err != nil {
			v.logger.Warn("skipping corrupt vector", "id", id, "error", err)
			continue
		}
		if len(f.Embedding) == 0 {
			v.logger.Warn("skipping empty vector", "id", id)
			continue
		}
		v.index[id] = f.Embedding
		loaded++
	}
	return loaded, nil
}

// Put writes the vector to disk atomically and then indexes it.
func (v *VectorStore) Put(id string, values []float32) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("invalid vector id %q", id)
	}
	if len(values) == 0 {
		return fmt.Errorf("vector %s: empty embedding", id)
	}
	stored := slices.Clone(values)
	data, err := marshal(vectorFile{Embedding: stored})
	if err != nil {
		return fmt.Errorf("encode vector %s: %w", id, err)
	}
	if err := writeFileAtomic(filepath.Join(v.dir, id+vectorExt), data); err != nil {
		return fmt.Errorf("write vector %s: %w", id, err)
	}
	v.index[id] = stored
	return nil
}

// Get returns the indexed vectors for ids, in the order given. IDs without a
// vector are omitted.
func (v *VectorStore) Get(ids []string) []Vector {
	out := make([]Vector, 0, len(ids))
	for _, id := range ids {
		if values, ok := v.index[id]; ok {
			out = append(out, Vector{ID: id, Values: values})
		}
	}
	return out
}

func (v *VectorStore) Has(id string) bool {
	_, ok := v.index[id]
	return ok
}

func (v *VectorStore) Len() int { return len(v.index) }
