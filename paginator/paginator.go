// Package paginator turns one long rendered report into a multi-page PDF.
//
// A Surface is rasterized once into a tall bitmap, which is then cut into
// page-height bands. Each band becomes one PDF page spanning the full page
// width, stamped with a right-aligned footer.
package paginator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
)

const (
	// DefaultScale is the rasterization density multiplier.
	DefaultScale = 2.0
	// DefaultPageSize is the fpdf page size name used when none is given.
	DefaultPageSize = "A4"

	footerFontSize    = 8.0
	footerRightMargin = 10.0
	footerBottom      = 5.0
)

// ErrInvalidInput is returned when the surface is missing, not laid out, or
// the options cannot be honoured.
var ErrInvalidInput = errors.New("invalid render surface")

// RasterizationError wraps a failure while rasterizing a valid surface.
type RasterizationError struct {
	Err error
}

func (e *RasterizationError) Error() string {
	return "rasterizing surface: " + e.Err.Error()
}

func (e *RasterizationError) Unwrap() error {
	return e.Err
}

// Surface is anything that can render itself to a bitmap whose width
// corresponds to exactly one page width. Implementations must not keep
// state between calls.
type Surface interface {
	Rasterize(ctx context.Context, scale float64) (image.Image, error)
}

// Options control one export.
type Options struct {
	// Filename is a suggested download name. Nothing is written to disk.
	Filename string
	// FooterText returns the footer for a page. Defaults to "Page N".
	FooterText func(page, total int) string
	// Scale is the rasterization density. Defaults to DefaultScale.
	Scale float64
	// PageSize is an fpdf size name such as "A4" or "Letter".
	PageSize string
}

// Page describes one emitted PDF page.
type Page struct {
	Number        int     `json:"number"`
	Slice         Slice   `json:"slice"`
	ImageWidthMm  float64 `json:"imageWidthMm"`
	ImageHeightMm float64 `json:"imageHeightMm"`
	Footer        string  `json:"footer"`
	// FooterXMm and FooterYMm are where the footer baseline starts.
	FooterXMm float64 `json:"footerXMm"`
	FooterYMm float64 `json:"footerYMm"`
}

// Document is the finished PDF and the geometry used to build it.
type Document struct {
	Filename     string  `json:"filename"`
	PDF          []byte  `json:"-"`
	PageWidthMm  float64 `json:"pageWidthMm"`
	PageHeightMm float64 `json:"pageHeightMm"`
	RasterWidth  int     `json:"rasterWidth"`
	RasterHeight int     `json:"rasterHeight"`
	PageHeightPx float64 `json:"pageHeightPx"`
	Pages        []Page  `json:"pages"`
}

// PageCount returns the number of pages in the document.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// DefaultFooter renders "Page N".
func DefaultFooter(page, _ int) string {
	return fmt.Sprintf("Page %d", page)
}

func (o Options) withDefaults() (Options, error) {
	if o.Scale == 0 {
		o.Scale = DefaultScale
	}
	if o.Scale < 0 || math.IsNaN(o.Scale) || math.IsInf(o.Scale, 0) {
		return o, fmt.Errorf("%w: scale must be a positive number, got %v", ErrInvalidInput, o.Scale)
	}
	if o.FooterText == nil {
		o.FooterText = DefaultFooter
	}
	if o.PageSize == "" {
		o.PageSize = DefaultPageSize
	}
	return o, nil
}

// Export rasterizes s and paginates the result into a PDF. The surface is
// borrowed for the duration of the call only; removing any off-screen
// resources behind it is the caller's job.
func Export(ctx context.Context, s Surface, opts Options) (*Document, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no surface given", ErrInvalidInput)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	raster, err := s.Rasterize(ctx, opts.Scale)
	if err != nil {
		return nil, classify(err)
	}
	if raster == nil {
		return nil, fmt.Errorf("%w: surface produced no image", ErrInvalidInput)
	}
	bounds := raster.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: surface rasterized to %dx%d", ErrInvalidInput, bounds.Dx(), bounds.Dy())
	}

	flat := onWhite(raster)
	width, height := flat.Bounds().Dx(), flat.Bounds().Dy()

	pdf, pageWidth, pageHeight, err := newDocument(opts.PageSize)
	if err != nil {
		return nil, err
	}

	slices := Slices(width, height, pageWidth, pageHeight)
	doc := &Document{
		Filename:     opts.Filename,
		PageWidthMm:  pageWidth,
		PageHeightMm: pageHeight,
		RasterWidth:  width,
		RasterHeight: height,
		PageHeightPx: PageHeightPx(width, pageWidth, pageHeight),
		Pages:        make([]Page, 0, len(slices)),
	}

	total := len(slices)
	for i, slice := range slices {
		number := i + 1
		pdf.AddPage()

		band := imaging.Crop(flat, image.Rect(0, slice.SourceY, width, slice.SourceY+slice.Height))
		var encoded bytes.Buffer
		if err := imaging.Encode(&encoded, band, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encoding page %d: %w", number, err)
		}

		name := fmt.Sprintf("page-%d", number)
		imgOpts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
		pdf.RegisterImageOptionsReader(name, imgOpts, &encoded)
		imageHeight := PxToMm(slice.Height, width, pageWidth)
		pdf.ImageOptions(name, 0, 0, pageWidth, imageHeight, false, imgOpts, 0, "")

		footer := opts.FooterText(number, total)
		pdf.SetFont("Helvetica", "", footerFontSize)
		footerX := pageWidth - footerRightMargin - pdf.GetStringWidth(footer)
		footerY := pageHeight - footerBottom
		pdf.Text(footerX, footerY, footer)

		if err := pdf.Error(); err != nil {
			return nil, fmt.Errorf("building page %d: %w", number, err)
		}

		doc.Pages = append(doc.Pages, Page{
			Number:        number,
			Slice:         slice,
			ImageWidthMm:  pageWidth,
			ImageHeightMm: imageHeight,
			Footer:        footer,
			FooterXMm:     footerX,
			FooterYMm:     footerY,
		})
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("serializing pdf: %w", err)
	}
	doc.PDF = out.Bytes()
	return doc, nil
}

// newDocument starts a portrait mm document of the named size. fpdf keeps
// sizes in points, so A4 reads back as 210.0016 x 297.0001mm; the size is
// snapped to 0.01mm so slicing uses the nominal paper dimensions.
func newDocument(pageSize string) (*fpdf.Fpdf, float64, float64, error) {
	pdf := fpdf.New("P", "mm", pageSize, "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	w, h := pdf.GetPageSize()
	if err := pdf.Error(); err != nil {
		return nil, 0, 0, fmt.Errorf("%w: page size %q: %v", ErrInvalidInput, pageSize, err)
	}
	return pdf, snapMm(w), snapMm(h), nil
}

func snapMm(v float64) float64 {
	return math.Round(v*100) / 100
}

// classify keeps invalid-input and already-classified errors as they are
// and wraps everything else as a rasterization failure.
func classify(err error) error {
	var rerr *RasterizationError
	if errors.Is(err, ErrInvalidInput) || errors.As(err, &rerr) {
		return err
	}
	return &RasterizationError{Err: err}
}

// onWhite composites img over an opaque white canvas anchored at the origin.
func onWhite(img image.Image) *image.NRGBA {
	b := img.Bounds()
	background := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(background, imaging.Clone(img), image.Pt(0, 0), 1.0)
}
