// Package normalize turns loosely shaped logistics API responses into record
// lists and pagination counts. Every function except Decode is total: odd or
// missing envelopes fall back to an empty list and the default counts.
package normalize

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Record is one row of an API response. No schema is imposed on it.
type Record = map[string]any

// ScalarKey is the field a non-object list element is stored under, so
// ExtractItems([]any{"a", 2}) yields [{"value": "a"}, {"value": 2}].
const ScalarKey = "value"

// Pagination is the page metadata found in a response.
type Pagination struct {
	TotalPages int `json:"totalPages"`
	TotalCount int `json:"totalCount"`
}

// Response is a fully normalized API payload.
type Response struct {
	Items      []Record `json:"items"`
	TotalPages int      `json:"totalPages"`
	TotalCount int      `json:"totalCount"`
}

// Candidate locations, tried in order. The backend has shipped every one of
// these envelopes at some point and none is known to be retired.
var (
	itemPaths = []string{
		"items",
		"data",
		"data.items",
		"results",
		"data.results",
		"records",
	}
	totalPagesPaths = []string{
		"totalPages",
		"total_pages",
		"data.totalPages",
		"data.total_pages",
		"meta.totalPages",
		"meta.total_pages",
		"pagination.totalPages",
		"pagination.total_pages",
	}
	totalCountPaths = []string{
		"totalCount",
		"total_count",
		"total",
		"data.totalCount",
		"data.total_count",
		"data.total",
		"meta.totalCount",
		"meta.total_count",
		"meta.total",
		"pagination.totalCount",
		"pagination.total_count",
		"pagination.total",
	}
)

// ExtractItems returns the first list found at the known item locations, or
// raw itself when it is already a list. Never returns nil.
func ExtractItems(raw any) []Record {
	if list, ok := findList(raw); ok {
		return toRecords(list)
	}
	return []Record{}
}

// ExtractPagination resolves total pages and total count independently. The
// count falls back to the number of extracted items.
func ExtractPagination(raw any) Pagination {
	p := Pagination{TotalPages: 1, TotalCount: 0}

	if n, ok := firstInt(raw, totalPagesPaths); ok {
		p.TotalPages = n
	}
	if n, ok := firstInt(raw, totalCountPaths); ok {
		p.TotalCount = n
	} else if list, ok := findList(raw); ok {
		p.TotalCount = len(list)
	}

	if p.TotalPages < 1 {
		p.TotalPages = 1
	}
	if p.TotalCount < 0 {
		p.TotalCount = 0
	}
	return p
}

// Normalize combines ExtractItems and ExtractPagination.
func Normalize(raw any) Response {
	p := ExtractPagination(raw)
	return Response{
		Items:      ExtractItems(raw),
		TotalPages: p.TotalPages,
		TotalCount: p.TotalCount,
	}
}

// Decode reads one JSON value, keeping numbers as json.Number so large ids
// survive the round trip.
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response body: %w", err)
	}
	return raw, nil
}

func findList(raw any) ([]any, bool) {
	for _, path := range itemPaths {
		if v, ok := lookup(raw, path); ok {
			if list, ok := asList(v); ok {
				return list, true
			}
		}
	}
	return asList(raw)
}

// lookup walks a dotted path through nested objects.
func lookup(raw any, path string) (any, bool) {
	cur := raw
	for _, key := range strings.Split(path, ".") {
		m, ok := asObject(cur)
		if !ok {
			return nil, false
		}
		next, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []Record:
		return recordsToAny(l), true
	default:
		return nil, false
	}
}

func recordsToAny(records []Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}

// toRecords wraps scalar elements so callers always see key/value rows.
func toRecords(list []any) []Record {
	records := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && m != nil {
			records = append(records, m)
			continue
		}
		records = append(records, Record{ScalarKey: item})
	}
	return records
}

func firstInt(raw any, paths []string) (int, bool) {
	for _, path := range paths {
		v, ok := lookup(raw, path)
		if !ok || v == nil {
			continue
		}
		if n, ok := toInt(v); ok {
			return n, true
		}
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		// int(n) is undefined outside the int range; saturate instead.
		if n >= float64(math.MaxInt) {
			return math.MaxInt, true
		}
		if n <= float64(math.MinInt) {
			return math.MinInt, true
		}
		return int(n), true
	case float32:
		return toInt(float64(n))
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return toInt(f)
		}
		return 0, false
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(f)
		}
		return 0, false
	default:
		return 0, false
	}
}

// Field reads a dotted path such as "shipper.name" from a record.
func Field(r Record, path string) (any, bool) {
	if r == nil || path == "" {
		return nil, false
	}
	return lookup(r, path)
}

// Number reads a numeric field, accepting numbers and numeric strings.
func Number(r Record, path string) (float64, bool) {
	v, ok := Field(r, path)
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return toFloat(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(n), ",", ""), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
