package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads a file and extracts its text content.
type Loader interface {
	Load(path string) (string, error)
}

// ErrUnsupported marks files no loader can extract text from; the walker
// skips them instead of failing the run.
var ErrUnsupported = errors.New("unsupported file type")

// TextLoader reads plain text files as-is.
type TextLoader struct{}

func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Load(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// AutoLoader selects the extractor by file extension.
type AutoLoader struct {
	text Loader
	pdf  Loader
	docx Loader
}

// NewAutoLoader builds the default router. pdf may be nil to select the
// plain extractor.
func NewAutoLoader(pdf Loader) *AutoLoader {
	if pdf == nil {
		pdf = NewPDFLoader()
	}
	return &AutoLoader{
		text: NewTextLoader(),
		pdf:  pdf,
		docx: NewDocxLoader(),
	}
}

func (l *AutoLoader) Load(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return l.pdf.Load(path)
	case ".docx":
		return l.docx.Load(path)
	case ".txt", ".md", ".markdown", ".text":
		return l.text.Load(path)
	default:
		return "", ErrUnsupported
	}
}
