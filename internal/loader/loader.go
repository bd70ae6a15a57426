// Package loader extracts plain text from uploaded documents. Supported
// formats are PDF, DOCX and plain text; every result goes through
// textfix.FixText so downstream stages never see broken encodings.
package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/kbchat/internal/textfix"
)

// ErrUnsupportedExtension is returned for files that are not pdf, docx or txt.
//
//nolint:staticcheck // user-facing message
var ErrUnsupportedExtension = errors.New("Unsupported file extension.")

// ReadError wraps a failure inside one of the format extractors.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("An error occurred while reading the file: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

type extractFunc func(data []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".txt":  extractTXT,
}

// Extensions lists the supported file extensions, dot included.
func Extensions() []string {
	return []string{".pdf", ".docx", ".txt"}
}

// Supported reports whether name has an extension Load can handle. The
// extension is matched case-insensitively.
func Supported(name string) bool {
	_, ok := extractors[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Load dispatches on the extension of name and returns the repaired text.
// An empty string with a nil error means the file had no extractable text.
func Load(name string, data []byte) (string, error) {
	extract, ok := extractors[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return "", ErrUnsupportedExtension
	}

	text, err := extract(data)
	if err != nil {
		return "", &ReadError{Err: err}
	}
	if text == "" {
		return "", nil
	}
	return textfix.FixText(text), nil
}

func extractTXT(data []byte) (string, error) {
	return textfix.FixEncoding(data), nil
}
