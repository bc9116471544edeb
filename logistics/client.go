// Package logistics talks to the upstream logistics REST API and hands the
// decoded payloads to the normalizer.
package logistics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/drummonds/freightdesk/normalize"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrNotConfigured is returned when no base URL was configured.
var ErrNotConfigured = errors.New("logistics API base URL not configured")

// maxPages caps FetchAll so a backend reporting a bogus page count cannot
// keep us looping.
const maxPages = 500

// StatusError is a non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("logistics API returned status %d: %s", e.StatusCode, e.Body)
}

// Client holds the HTTP client for the logistics API
type Client struct {
	BaseURL    string
	Token      string
	PageSize   int
	HTTPClient *http.Client
}

// NewClient creates a new logistics API client
func NewClient(baseURL, token string, timeout time.Duration, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		PageSize: pageSize,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Get fetches path and returns the decoded JSON body, whatever its shape.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (any, error) {
	if c == nil || c.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	endpoint := c.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call logistics API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	raw, err := normalize.Decode(resp.Body)
	if err != nil {
		return nil, err
	}
	Logger.Debug("Fetched logistics API page", "path", path, "query", query.Encode())
	return raw, nil
}

// FetchAll walks every page of a paginated listing and returns the combined
// records. Paging uses the page and limit query parameters.
func (c *Client) FetchAll(ctx context.Context, path string, query url.Values) (normalize.Response, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	if q.Get("limit") == "" {
		q.Set("limit", strconv.Itoa(c.PageSize))
	}

	out := normalize.Response{Items: []normalize.Record{}, TotalPages: 1}
	for page := 1; page <= maxPages; page++ {
		q.Set("page", strconv.Itoa(page))
		raw, err := c.Get(ctx, path, q)
		if err != nil {
			return out, fmt.Errorf("fetching %s page %d: %w", path, page, err)
		}
		items := normalize.ExtractItems(raw)
		p := normalize.ExtractPagination(raw)

		out.Items = append(out.Items, items...)
		out.TotalPages = p.TotalPages
		if p.TotalCount > out.TotalCount {
			out.TotalCount = p.TotalCount
		}
		if page >= p.TotalPages || len(items) == 0 {
			break
		}
	}
	if out.TotalCount < len(out.Items) {
		out.TotalCount = len(out.Items)
	}
	Logger.Info("Fetched logistics listing", "path", path, "records", len(out.Items), "totalPages", out.TotalPages)
	return out, nil
}
