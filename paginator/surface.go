package paginator

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
)

// ImageSurface is a report that was already rendered to a bitmap at scale 1.
// Rasterizing it at another scale resamples the bitmap.
type ImageSurface struct {
	Image image.Image
}

// DecodeImageSurface reads a PNG, JPEG, GIF, BMP or TIFF image.
func DecodeImageSurface(r io.Reader) (ImageSurface, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return ImageSurface{}, fmt.Errorf("%w: decoding image: %v", ErrInvalidInput, err)
	}
	return ImageSurface{Image: img}, nil
}

// Rasterize implements Surface.
func (s ImageSurface) Rasterize(ctx context.Context, scale float64) (image.Image, error) {
	if s.Image == nil {
		return nil, fmt.Errorf("%w: image surface is empty", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scale == 1 {
		return s.Image, nil
	}
	width := int(math.Round(float64(s.Image.Bounds().Dx()) * scale))
	if width < 1 {
		width = 1
	}
	return imaging.Resize(s.Image, width, 0, imaging.Lanczos), nil
}

// FooterFromTemplate builds a footer function from a template using the
// {page} and {total} placeholders. An empty template gives DefaultFooter.
func FooterFromTemplate(tmpl string) func(page, total int) string {
	if strings.TrimSpace(tmpl) == "" {
		return DefaultFooter
	}
	return func(page, total int) string {
		r := strings.NewReplacer("{page}", strconv.Itoa(page), "{total}", strconv.Itoa(total))
		return r.Replace(tmpl)
	}
}
