package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"
)

var ErrInvalidDocument = errors.New("invalid PDF document")

var pdfMagic = []byte("%PDF-")

// ValidatePDF checks the header and that the cross-reference structure parses
// to at least one page.
func ValidatePDF(path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	head := make([]byte, len(pdfMagic))
	if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
		return fmt.Errorf("%w: missing %%PDF- header", ErrInvalidDocument)
	}
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat pdf: %w", err)
	}

	// the parser panics on some truncated files
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidDocument, r)
		}
	}()
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if r.NumPage() == 0 {
		return fmt.Errorf("%w: no pages", ErrInvalidDocument)
	}
	return nil
}
