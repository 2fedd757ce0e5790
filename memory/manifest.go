package memory

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Per-entity manifests list the record ids stored about each entity, one per
// line, under <dir>/dossiers/<entity>/. They exist for inspecting and pruning
// data by hand; recall never reads them.
const (
	DossiersDirName  = "dossiers"
	ManifestFileName = "memory_manifest.txt"
)

// ManifestPath returns the manifest file for entityID under dir, or "" when
// the id sanitizes to nothing.
func ManifestPath(dir, entityID string) string {
	name := SanitizeID(entityID)
	if name == "" {
		return ""
	}
	return filepath.Join(dir, DossiersDirName, name, ManifestFileName)
}

func appendManifest(dir, entityID, id string) error {
	path := ManifestPath(dir, entityID)
	if path == "" {
		return fmt.Errorf("manifest: entity %q has no usable name", entityID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("manifest: %w", err)
	}
	return f.Close()
}

// Manifest returns the record ids listed for entityID, oldest first. A
// missing manifest yields nil.
func (s *System) Manifest(entityID string) ([]string, error) {
	path := ManifestPath(s.cfg.Dir, entityID)
	if path == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer f.Close()
	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, sc.Err()
}
