package report

import (
	"fmt"
	"io"
	"strings"
)

// Renderer writes a Document in one output format.
type Renderer interface {
	// Extension is the file extension of the output, dot included.
	Extension() string
	Render(w io.Writer, doc *Document) error
}

// NewRenderer returns the renderer for format ("pdf" or "txt").
func NewRenderer(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "pdf":
		return PDFRenderer{}, nil
	case "txt", "text":
		return TextRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}
}

const generatedLayout = "2006-01-02 15:04:05"
