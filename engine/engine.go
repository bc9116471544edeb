package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drummonds/freightdesk/database"
	"github.com/drummonds/freightdesk/logistics"
	"github.com/drummonds/freightdesk/normalize"
	"github.com/drummonds/freightdesk/paginator"
	"github.com/drummonds/freightdesk/rasterize"
	"github.com/drummonds/freightdesk/report"
)

// ErrBadRequest marks request payloads we cannot build a report from.
var ErrBadRequest = errors.New("bad export request")

// Report kinds accepted by the records export
const (
	ReportTable      = "table"
	ReportProfitLoss = "profitloss"
)

// APISource points an export at a listing on the logistics API instead of
// an inline payload.
type APISource struct {
	Path     string            `json:"path"`
	Query    map[string]string `json:"query,omitempty"`
	AllPages bool              `json:"allPages"`
}

// ExportOptions are the layout settings shared by every export request
type ExportOptions struct {
	Filename string  `json:"filename"`
	Scale    float64 `json:"scale"`
	PageSize string  `json:"pageSize"`
	Footer   string  `json:"footer"` // {page} and {total} placeholders
}

// ExportRequest asks for a report built from API records
type ExportRequest struct {
	ExportOptions
	Title          string                `json:"title"`
	Subtitle       string                `json:"subtitle"`
	Report         string                `json:"report"` // table (default) or profitloss
	Columns        []report.Column       `json:"columns"`
	ProfitLossKeys report.ProfitLossKeys `json:"profitLossKeys"`
	Data           json.RawMessage       `json:"data"`
	Source         *APISource            `json:"source"`
}

// HTMLExportRequest asks for an export of an already assembled document
type HTMLExportRequest struct {
	ExportOptions
	Title    string `json:"title"`
	HTML     string `json:"html"`
	Selector string `json:"selector"`
	WidthPx  int    `json:"widthPx"`
}

// exportResult is stored as the job result
type exportResult struct {
	ExportID  string `json:"exportId"`
	Filename  string `json:"filename"`
	PageCount int    `json:"pageCount"`
	SizeBytes int    `json:"sizeBytes"`
}

// records resolves the request payload to normalized records, either from
// the inline data or by calling the logistics API.
func (serverHandler *ServerHandler) records(ctx context.Context, req ExportRequest) (normalize.Response, error) {
	if req.Source != nil && req.Source.Path != "" {
		if serverHandler.Logistics == nil {
			return normalize.Response{}, logistics.ErrNotConfigured
		}
		query := url.Values{}
		for k, v := range req.Source.Query {
			query.Set(k, v)
		}
		if req.Source.AllPages {
			return serverHandler.Logistics.FetchAll(ctx, req.Source.Path, query)
		}
		raw, err := serverHandler.Logistics.Get(ctx, req.Source.Path, query)
		if err != nil {
			return normalize.Response{}, err
		}
		return normalize.Normalize(raw), nil
	}

	if len(req.Data) == 0 {
		return normalize.Response{}, fmt.Errorf("%w: either data or source.path is required", ErrBadRequest)
	}
	raw, err := normalize.Decode(bytes.NewReader(req.Data))
	if err != nil {
		return normalize.Response{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return normalize.Normalize(raw), nil
}

// renderReport assembles the HTML document for the request
func (serverHandler *ServerHandler) renderReport(req ExportRequest, resp normalize.Response) (string, error) {
	header := report.Header{
		Title:    req.Title,
		Subtitle: req.Subtitle,
		Company:  serverHandler.ServerConfig.CompanyName,
	}
	switch req.Report {
	case "", ReportTable:
		return report.Table{Header: header, Columns: req.Columns, Records: resp.Items, TotalCount: resp.TotalCount}.Render()
	case ReportProfitLoss:
		return report.NewProfitLoss(header, resp.Items, req.ProfitLossKeys).Render()
	default:
		return "", fmt.Errorf("%w: unknown report %q", ErrBadRequest, req.Report)
	}
}

// htmlSurface wraps an assembled document for the shared browser
func (serverHandler *ServerHandler) htmlSurface(html, selector string, widthPx int) rasterize.HTMLSurface {
	return rasterize.HTMLSurface{
		Browser:  serverHandler.Browser,
		HTML:     html,
		Selector: selector,
		WidthPx:  widthPx,
		Timeout:  time.Duration(serverHandler.ServerConfig.ExportTimeout) * time.Second,
	}
}

// paginatorOptions fills the request options from the server defaults
func (serverHandler *ServerHandler) paginatorOptions(opts ExportOptions, title string) paginator.Options {
	scale := opts.Scale
	if scale == 0 {
		scale = serverHandler.ServerConfig.ExportScale
	}
	footer := opts.Footer
	if footer == "" {
		footer = serverHandler.ServerConfig.FooterTemplate
	}
	return paginator.Options{
		Filename:   exportFilename(opts.Filename, title),
		FooterText: paginator.FooterFromTemplate(footer),
		Scale:      scale,
		PageSize:   opts.PageSize,
	}
}

// runExport paginates the surface, stores the result and completes the
// job. Failures are recorded on the job by the caller.
func (serverHandler *ServerHandler) runExport(ctx context.Context, jobID ulid.ULID, surface paginator.Surface, opts paginator.Options, title, source string) (*database.Export, error) {
	db := serverHandler.DB
	if err := db.UpdateJobStatus(jobID, database.JobStatusRunning, "Rasterizing"); err != nil {
		Logger.Error("Failed to update job status", "error", err)
	}

	started := time.Now()
	doc, err := paginator.Export(ctx, surface, opts)
	if err != nil {
		return nil, err
	}
	db.UpdateJobProgress(jobID, 80, "Storing PDF")

	pageSize := opts.PageSize
	if pageSize == "" {
		pageSize = paginator.DefaultPageSize
	}
	scale := opts.Scale
	if scale == 0 {
		scale = paginator.DefaultScale
	}
	export, err := database.NewExport(doc, title, source, scale, pageSize)
	if err != nil {
		return nil, err
	}
	export.JobID = jobID.String()
	if err := db.SaveExport(export); err != nil {
		return nil, fmt.Errorf("storing export: %w", err)
	}

	result, _ := json.Marshal(exportResult{
		ExportID:  export.ID.String(),
		Filename:  export.Filename,
		PageCount: export.PageCount(),
		SizeBytes: export.SizeBytes,
	})
	if err := db.CompleteJob(jobID, string(result)); err != nil {
		Logger.Error("Failed to complete job", "jobID", jobID, "error", err)
	}
	Logger.Info("Export completed", "id", export.ID, "filename", export.Filename, "pages", export.PageCount(),
		"bytes", export.SizeBytes, "duration", time.Since(started))
	return export, nil
}

// exportWork produces one export under the given job
type exportWork func(ctx context.Context, jobID ulid.ULID) (*database.Export, error)

// track runs work and records any failure or panic on the job
func (serverHandler *ServerHandler) track(ctx context.Context, jobID ulid.ULID, work exportWork) (export *database.Export, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in export job", "panic", r, "jobID", jobID)
			err = fmt.Errorf("export panicked: %v", r)
		}
		if err != nil {
			Logger.Error("Export failed", "jobID", jobID, "error", err)
			if dbErr := serverHandler.DB.UpdateJobError(jobID, err.Error()); dbErr != nil {
				Logger.Error("Failed to record job error", "jobID", jobID, "error", dbErr)
			}
		}
	}()
	return work(ctx, jobID)
}

// errorStatus maps pipeline errors to HTTP status codes
func errorStatus(err error) int {
	var apiErr *logistics.StatusError
	switch {
	case errors.Is(err, paginator.ErrInvalidInput), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, logistics.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// exportFilename picks a safe download name ending in .pdf
func exportFilename(requested, title string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(title))
	}
	name = strings.TrimSuffix(name, ".pdf")
	name = strings.Trim(unsafeFilename.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		name = "export"
	}
	return name + ".pdf"
}
