package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

var errClosed = errors.New("renderer is closed")

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	mu       sync.Mutex // the single instance is not safe for concurrent use
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1, // Minimum idle workers
		MaxIdle:  1, // Maximum idle workers
		MaxTotal: 1, // Total worker limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// withDocument opens pdf, hands its reference and page count to fn, and
// closes it again.
func (r *PDFiumRenderer) withDocument(pdf []byte, fn func(doc references.FPDF_DOCUMENT, count int) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return errClosed
	}

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdf,
	})
	if err != nil {
		return fmt.Errorf("unable to open PDF document: %w", err)
	}
	defer r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: doc.Document,
	})

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		return fmt.Errorf("unable to get page count: %w", err)
	}
	return fn(doc.Document, pageCountResp.PageCount)
}

// PageCount returns the number of pages PDFium sees in the document
func (r *PDFiumRenderer) PageCount(pdf []byte) (int, error) {
	var n int
	err := r.withDocument(pdf, func(_ references.FPDF_DOCUMENT, count int) error {
		n = count
		return nil
	})
	return n, err
}

// RenderPage renders one page using go-pdfium WebAssembly
func (r *PDFiumRenderer) RenderPage(pdf []byte, index int, dpi int) (image.Image, error) {
	var img image.Image
	err := r.withDocument(pdf, func(doc references.FPDF_DOCUMENT, count int) error {
		if index < 0 || index >= count {
			return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index+1, count)
		}
		pageRender, err := r.instance.RenderPageInDPI(&requests.RenderPageInDPI{
			DPI: dpi,
			Page: requests.Page{
				ByIndex: &requests.PageByIndex{
					Document: doc,
					Index:    index,
				},
			},
		})
		if err != nil {
			return fmt.Errorf("unable to render page %d: %w", index, err)
		}
		// The pixels live in WebAssembly memory until Cleanup.
		img = imaging.Clone(pageRender.Result.Image)
		pageRender.Cleanup()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	r.instance = nil
	return nil
}
