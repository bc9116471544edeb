package paginator

import "math"

// Slice is one horizontal band of the raster, in raster pixels.
type Slice struct {
	SourceY int `json:"sourceY"`
	Height  int `json:"height"`
}

// PageHeightPx is the raster height that maps onto one page when the raster
// width spans exactly pageWidthMm. Pixels are assumed square.
func PageHeightPx(rasterWidth int, pageWidthMm, pageHeightMm float64) float64 {
	return float64(rasterWidth) / pageWidthMm * pageHeightMm
}

// PxToMm converts a raster length to millimetres at the same ratio.
func PxToMm(px, rasterWidth int, pageWidthMm float64) float64 {
	return float64(px) / float64(rasterWidth) * pageWidthMm
}

// Slices cuts a rasterWidth x rasterHeight image into page bands. Band
// boundaries are rounded to whole rows so the bands tile the image exactly.
// A trailing remainder under one row stays on the previous band rather than
// producing a sliver page.
func Slices(rasterWidth, rasterHeight int, pageWidthMm, pageHeightMm float64) []Slice {
	if rasterWidth <= 0 || rasterHeight <= 0 || pageWidthMm <= 0 || pageHeightMm <= 0 {
		return nil
	}

	pageHeight := PageHeightPx(rasterWidth, pageWidthMm, pageHeightMm)
	total := int(math.Ceil(float64(rasterHeight) / pageHeight))
	if total < 1 {
		total = 1
	}
	if total > 1 && float64(rasterHeight)-float64(total-1)*pageHeight < 1 {
		total--
	}

	slices := make([]Slice, 0, total)
	for p := 0; p < total; p++ {
		top := int(math.Round(float64(p) * pageHeight))
		bottom := int(math.Round(float64(p+1) * pageHeight))
		if p == total-1 || bottom > rasterHeight {
			bottom = rasterHeight
		}
		if bottom <= top {
			break
		}
		slices = append(slices, Slice{SourceY: top, Height: bottom - top})
	}
	return slices
}
