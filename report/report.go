// Package report assembles A4-width HTML documents from normalized API
// records. The output is meant to be rasterized and paginated, so every
// document has a single #report root laid out at 210mm.
package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/drummonds/freightdesk/normalize"
)

// RootSelector is the element every assembled document wraps its content in.
const RootSelector = "#report"

//go:embed templates/*.html
var templateFS embed.FS

var funcs = template.FuncMap{
	"money":   Money,
	"percent": formatPercent,
}

var (
	tableTemplate      = template.Must(template.New("table").Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/table.html"))
	profitLossTemplate = template.Must(template.New("profitloss").Funcs(funcs).ParseFS(templateFS, "templates/base.html", "templates/profitloss.html"))
)

// Header is shared by every report.
type Header struct {
	Title       string    `json:"title"`
	Subtitle    string    `json:"subtitle,omitempty"`
	Company     string    `json:"company,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Format controls how a column renders its value.
type Format string

const (
	FormatText  Format = "text"
	FormatMoney Format = "money"
	FormatDate  Format = "date"
	FormatInt   Format = "int"
)

// Column describes one table column. Key is a dotted path into the record.
type Column struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Format Format `json:"format,omitempty"`
	Align  string `json:"align,omitempty"` // left, right or center
}

// Table is a generic entity listing: house waybills, job registers,
// customer or vendor ledgers.
type Table struct {
	Header
	Columns    []Column           `json:"columns"`
	Records    []normalize.Record `json:"-"`
	TotalCount int                `json:"totalCount"`
}

type cell struct {
	Text     string
	Align    string
	Negative bool
}

type tableView struct {
	Header
	Columns    []Column
	Rows       [][]cell
	TotalCount int
}

// ColumnsFor derives columns from the first record when a caller gives none.
// Keys are sorted so the layout is stable.
func ColumnsFor(records []normalize.Record) []Column {
	if len(records) == 0 {
		return nil
	}
	keys := make([]string, 0, len(records[0]))
	for k, v := range records[0] {
		if _, nested := v.(map[string]any); nested {
			continue
		}
		if _, list := v.([]any); list {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	cols := make([]Column, len(keys))
	for i, k := range keys {
		cols[i] = Column{Key: k, Label: labelFor(k)}
	}
	return cols
}

// Render produces the HTML document for the table.
func (t Table) Render() (string, error) {
	cols := slices.Clone(t.Columns)
	if len(cols) == 0 {
		cols = ColumnsFor(t.Records)
	}
	for i := range cols {
		if cols[i].Label == "" {
			cols[i].Label = labelFor(cols[i].Key)
		}
		if cols[i].Align == "" && (cols[i].Format == FormatMoney || cols[i].Format == FormatInt) {
			cols[i].Align = "right"
		}
	}

	view := tableView{Header: t.Header.withDefaults(), Columns: cols, TotalCount: t.TotalCount}
	if view.TotalCount < len(t.Records) {
		view.TotalCount = len(t.Records)
	}
	for _, r := range t.Records {
		row := make([]cell, len(cols))
		for i, c := range cols {
			row[i] = renderCell(r, c)
		}
		view.Rows = append(view.Rows, row)
	}

	var buf bytes.Buffer
	if err := tableTemplate.ExecuteTemplate(&buf, "base", view); err != nil {
		return "", fmt.Errorf("rendering table report: %w", err)
	}
	return buf.String(), nil
}

func renderCell(r normalize.Record, c Column) cell {
	out := cell{Align: c.Align}
	v, ok := normalize.Field(r, c.Key)
	if !ok || v == nil {
		return out
	}
	switch c.Format {
	case FormatMoney:
		if n, ok := normalize.Number(r, c.Key); ok {
			out.Text = Money(n)
			out.Negative = n < 0
			return out
		}
	case FormatInt:
		if n, ok := normalize.Number(r, c.Key); ok {
			out.Text = strconv.FormatInt(int64(math.Round(n)), 10)
			return out
		}
	case FormatDate:
		if s, ok := v.(string); ok {
			out.Text = formatDate(s)
			return out
		}
	}
	out.Text = stringify(v)
	return out
}

func (h Header) withDefaults() Header {
	if h.Title == "" {
		h.Title = "Report"
	}
	if h.GeneratedAt.IsZero() {
		h.GeneratedAt = time.Now()
	}
	return h
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "Yes"
		}
		return "No"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func formatDate(s string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("02-Jan-2006")
		}
	}
	return s
}

// Money renders n with two decimals and thousands separators.
func Money(n float64) string {
	neg := n < 0
	s := strconv.FormatFloat(math.Abs(n), 'f', 2, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	out := b.String() + "." + frac
	if neg && out != "0.00" {
		return "-" + out
	}
	return out
}

func formatPercent(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return "-"
	}
	return strconv.FormatFloat(n, 'f', 1, 64) + "%"
}

// labelFor turns jobNo or house_awb_no into "Job No" / "House Awb No".
func labelFor(key string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range key {
		switch {
		case r == '_' || r == '-' || r == ' ':
			flush()
		case i > 0 && unicode.IsUpper(r):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
