// Package corpus owns the on-disk document corpus read by the ingestion
// pipeline and the staging area uploads land in before they join it.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ragbridge/internal/util"
)

var ErrInvalidFilename = errors.New("invalid document filename")

// Store is a flat directory of source documents keyed by original filename.
type Store struct {
	Dir string
}

func NewStore(dir string) (*Store, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Store{Dir: dir}, nil
}

// CleanName reduces an uploaded filename to a single path element.
func CleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	return base, nil
}

func (s *Store) Path(name string) (string, error) {
	base, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, base), nil
}

func (s *Store) Exists(name string) (bool, error) {
	p, err := s.Path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat document: %w", err)
	}
}

// Adopt renames a staged upload into the corpus under name. The rename is the
// only way a document appears here, so readers never observe a partial file.
// Staging and corpus must share a filesystem; a cross-device move fails rather
// than falling back to a copy.
func (s *Store) Adopt(st *Staged, name string) (string, error) {
	if st == nil {
		return "", errors.New("nothing staged")
	}
	target, err := s.Path(name)
	if err != nil {
		return "", err
	}
	if err := os.Rename(st.Path, target); err != nil {
		return "", fmt.Errorf("atomic move upload: %w", err)
	}
	st.adopted = true
	return target, nil
}

// List returns the document filenames in the corpus, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
