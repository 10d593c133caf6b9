// Package registry maps model aliases to model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"sessiond/internal/common/fsutil"
	"sessiond/pkg/types"
)

// GGUFScanner builds a registry from the *.gguf files in a directory.
type GGUFScanner struct{}

func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan lists dir. The ID (and alias) of each model is its file name including
// the extension; Path is absolute. Results are sorted by ID.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return nil, err
	}
	if !fsutil.PathExists(abs) {
		return nil, fmt.Errorf("models dir %s: %w", abs, os.ErrNotExist)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, types.Model{ID: name, Name: name, Path: filepath.Join(abs, name)})
	}
	slices.SortFunc(models, func(a, b types.Model) int { return strings.Compare(a.ID, b.ID) })
	return models, nil
}

// LoadDir scans dir with the default scanner.
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

// Lookup returns the model with the given id.
func Lookup(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}
