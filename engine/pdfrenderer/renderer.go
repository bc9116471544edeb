package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
)

// PreviewDPI is the resolution thumbnails are rendered at.
const PreviewDPI = 72

// ErrPageOutOfRange is returned when a page index is not in the document.
var ErrPageOutOfRange = errors.New("page out of range")

// Renderer turns exported PDF bytes back into page images for previews
type Renderer interface {
	// PageCount returns the number of pages in the document
	PageCount(pdf []byte) (int, error)

	// RenderPage renders one zero-based page at the given DPI
	RenderPage(pdf []byte, index int, dpi int) (image.Image, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// NewRenderer creates the named renderer. "pdfium" (the default) is pure Go
// on WebAssembly, "fitz" needs CGo and MuPDF.
func NewRenderer(kind string) (Renderer, error) {
	switch kind {
	case "", "pdfium":
		r, err := NewPDFiumRenderer()
		if err != nil {
			return nil, err
		}
		return r, nil
	case "fitz":
		r, err := NewFitzRenderer()
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown preview renderer %q", kind)
	}
}
