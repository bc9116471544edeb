package pdfrenderer

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

func (r *FitzRenderer) open(pdf []byte) (*fitz.Document, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return doc, nil
}

// PageCount opens the document and counts its pages
func (r *FitzRenderer) PageCount(pdf []byte) (int, error) {
	doc, err := r.open(pdf)
	if err != nil {
		return 0, err
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// RenderPage renders a single page using go-fitz
func (r *FitzRenderer) RenderPage(pdf []byte, index int, dpi int) (image.Image, error) {
	doc, err := r.open(pdf)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if index < 0 || index >= doc.NumPage() {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index+1, doc.NumPage())
	}
	img, err := doc.ImageDPI(index, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	return img, nil
}

// Close cleans up resources (no-op for Fitz renderer as doc is closed per-render)
func (r *FitzRenderer) Close() error {
	return nil
}
