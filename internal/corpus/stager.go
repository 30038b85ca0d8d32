package corpus

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"ragbridge/internal/util"

	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("upload exceeds size limit")

// Stager writes inbound uploads into a private staging directory. A staged
// file belongs to one request until it is adopted into the Store or discarded.
type Stager struct {
	Dir         string
	MaxBytes    int64
	ValidatePDF bool
}

type Staged struct {
	Path     string
	Filename string
	Size     int64
	SHA256   string

	adopted bool
}

func NewStager(dir string, maxBytes int64, validatePDF bool) (*Stager, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &Stager{Dir: dir, MaxBytes: maxBytes, ValidatePDF: validatePDF}, nil
}

// Stage copies src into the staging directory. An empty upload is staged with
// Size 0 and left for the caller to reject; anything over MaxBytes or failing
// PDF validation is removed and reported.
func (s *Stager) Stage(src io.Reader, filename string) (*Staged, error) {
	name, err := CleanName(filename)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.Dir, "upload-"+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	st := &Staged{Path: path, Filename: name}

	r := src
	if s.MaxBytes > 0 {
		r = io.LimitReader(src, s.MaxBytes+1)
	}
	out := &countingWriter{w: f}
	sum, err := util.SHA256HexFromReader(io.TeeReader(r, out))
	n := out.n
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = st.Discard()
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if s.MaxBytes > 0 && n > s.MaxBytes {
		_ = st.Discard()
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.MaxBytes)
	}
	st.Size = n
	st.SHA256 = sum

	if s.ValidatePDF && n > 0 {
		if err := ValidatePDF(path); err != nil {
			_ = st.Discard()
			return nil, err
		}
	}
	return st, nil
}

// Discard removes the staged file unless it was adopted into the corpus.
func (st *Staged) Discard() error {
	if st == nil || st.adopted {
		return nil
	}
	if err := os.Remove(st.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove staged upload: %w", err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
