// Package inspect reads back an exported PDF to report its page count,
// page sizes and the text on each page.
package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const pointsPerMm = 72.0 / 25.4

// ErrEmpty is returned for a zero-length document.
var ErrEmpty = errors.New("empty PDF content")

// PageInfo is what we can learn about one page.
type PageInfo struct {
	Number   int     `json:"number"`
	WidthMm  float64 `json:"widthMm"`
	HeightMm float64 `json:"heightMm"`
	Text     string  `json:"text"`
}

// Summary describes a whole document.
type Summary struct {
	PageCount int        `json:"pageCount"`
	Pages     []PageInfo `json:"pages"`
}

// Inspect parses b and summarises every page. Pages whose text cannot be
// extracted are still listed with empty text.
func Inspect(b []byte) (*Summary, error) {
	if len(b) == 0 {
		return nil, ErrEmpty
	}
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	rootBox := r.Trailer().Key("Root").Key("Pages").Key("MediaBox")
	s := &Summary{PageCount: r.NumPage()}
	for i := 1; i <= s.PageCount; i++ {
		page := r.Page(i)
		info := PageInfo{Number: i}
		if page.V.IsNull() {
			s.Pages = append(s.Pages, info)
			continue
		}

		box := page.V.Key("MediaBox")
		if box.Len() < 4 {
			box = rootBox
		}
		if box.Len() >= 4 {
			info.WidthMm = (box.Index(2).Float64() - box.Index(0).Float64()) / pointsPerMm
			info.HeightMm = (box.Index(3).Float64() - box.Index(1).Float64()) / pointsPerMm
		}

		if text, err := page.GetPlainText(nil); err == nil {
			info.Text = strings.TrimSpace(text)
		}
		s.Pages = append(s.Pages, info)
	}
	return s, nil
}
