package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/freightdesk/config"
	"github.com/drummonds/freightdesk/database"
	"github.com/drummonds/freightdesk/engine/pdfrenderer"
	"github.com/drummonds/freightdesk/logistics"
	"github.com/drummonds/freightdesk/normalize"
	"github.com/drummonds/freightdesk/paginator"
	"github.com/drummonds/freightdesk/rasterize"
	"github.com/drummonds/freightdesk/report"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Browser      *rasterize.Browser
	Logistics    *logistics.Client
	Renderer     pdfrenderer.Renderer // nil disables previews
}

// RegisterRoutes adds every API route to the echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo

	// Export API routes
	e.POST("/api/exports", serverHandler.CreateExport)
	e.POST("/api/exports/html", serverHandler.CreateHTMLExport)
	e.POST("/api/exports/image", serverHandler.CreateImageExport)
	e.GET("/api/exports", serverHandler.ListExports)
	e.GET("/api/exports/:id", serverHandler.GetExport)
	e.GET("/api/exports/:id/download", serverHandler.DownloadExport)
	e.GET("/api/exports/:id/pages", serverHandler.GetExportPages)
	e.GET("/api/exports/:id/preview/:page", serverHandler.GetExportPreview)
	e.DELETE("/api/exports/:id", serverHandler.DeleteExport)

	// Normalization API routes
	e.POST("/api/normalize", serverHandler.NormalizePayload)
	e.GET("/api/logistics/records", serverHandler.GetLogisticsRecords)

	// Job tracking API routes
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/active", serverHandler.GetActiveJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)

	// Admin API routes
	e.POST("/api/retention/run", serverHandler.RunRetentionNow)
	e.GET("/api/about", serverHandler.GetAboutInfo)
}

// dispatch creates the export job and runs work either inline or, with
// ?async=true, in the background after answering 202 with the job.
func (serverHandler *ServerHandler) dispatch(c echo.Context, message string, work exportWork) error {
	job, err := serverHandler.DB.CreateJob(database.JobTypeExport, message)
	if err != nil {
		Logger.Error("Failed to create export job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create export job",
		})
	}

	if async, _ := strconv.ParseBool(c.QueryParam("async")); async {
		ctx := context.WithoutCancel(c.Request().Context())
		go func() {
			if timeout := serverHandler.ServerConfig.ExportTimeout; timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 2*time.Duration(timeout)*time.Second)
				defer cancel()
			}
			serverHandler.track(ctx, job.ID, work)
		}()
		return c.JSON(http.StatusAccepted, job)
	}

	export, err := serverHandler.track(c.Request().Context(), job.ID, work)
	if err != nil {
		return c.JSON(errorStatus(err), map[string]interface{}{
			"error": err.Error(),
			"jobId": job.ID.String(),
		})
	}
	return c.JSON(http.StatusCreated, export)
}

// CreateExport builds a report from logistics API records and exports it
// @Summary Export records as a paginated PDF
// @Description Normalizes an inline payload or a logistics API listing, lays it out as a table or P&L report and slices it into A4 pages
// @Tags Exports
// @Accept json
// @Produce json
// @Param async query bool false "Run in the background and return the job"
// @Param request body ExportRequest true "Export request"
// @Success 201 {object} database.Export "Stored export"
// @Success 202 {object} database.Job "Export job started"
// @Failure 400 {object} map[string]interface{} "Invalid request or empty surface"
// @Failure 502 {object} map[string]interface{} "Logistics API error"
// @Router /exports [post]
func (serverHandler *ServerHandler) CreateExport(c echo.Context) error {
	var req ExportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid export request: " + err.Error(),
		})
	}
	source := "records"
	if req.Source != nil && req.Source.Path != "" {
		source = "api:" + req.Source.Path
	}

	return serverHandler.dispatch(c, "Export "+source, func(ctx context.Context, jobID ulid.ULID) (*database.Export, error) {
		serverHandler.DB.UpdateJobProgress(jobID, 10, "Fetching records")
		resp, err := serverHandler.records(ctx, req)
		if err != nil {
			return nil, err
		}
		serverHandler.DB.UpdateJobProgress(jobID, 30, fmt.Sprintf("Rendering %d records", len(resp.Items)))
		html, err := serverHandler.renderReport(req, resp)
		if err != nil {
			return nil, err
		}
		surface := serverHandler.htmlSurface(html, report.RootSelector, rasterize.A4WidthCSSPx)
		return serverHandler.runExport(ctx, jobID, surface, serverHandler.paginatorOptions(req.ExportOptions, req.Title), req.Title, source)
	})
}

// CreateHTMLExport exports a caller supplied HTML document
// @Summary Export an HTML document as a paginated PDF
// @Tags Exports
// @Accept json
// @Produce json
// @Param request body HTMLExportRequest true "HTML export request"
// @Success 201 {object} database.Export "Stored export"
// @Failure 400 {object} map[string]interface{} "Empty document or root element not found"
// @Router /exports/html [post]
func (serverHandler *ServerHandler) CreateHTMLExport(c echo.Context) error {
	var req HTMLExportRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid export request: " + err.Error(),
		})
	}

	return serverHandler.dispatch(c, "Export HTML document", func(ctx context.Context, jobID ulid.ULID) (*database.Export, error) {
		surface := serverHandler.htmlSurface(req.HTML, req.Selector, req.WidthPx)
		return serverHandler.runExport(ctx, jobID, surface, serverHandler.paginatorOptions(req.ExportOptions, req.Title), req.Title, "html")
	})
}

// CreateImageExport paginates an uploaded page-width image
// @Summary Export an image as a paginated PDF
// @Description The image width is taken as one page width. Scale defaults to 1 so the upload is used as is.
// @Tags Exports
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Rendered report image"
// @Param filename formData string false "Download filename"
// @Param footer formData string false "Footer template"
// @Param scale formData number false "Resampling factor"
// @Param pageSize formData string false "Page size name"
// @Success 201 {object} database.Export "Stored export"
// @Failure 400 {object} map[string]interface{} "Missing or undecodable image"
// @Router /exports/image [post]
func (serverHandler *ServerHandler) CreateImageExport(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "An image file is required",
		})
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Unable to read uploaded image",
		})
	}
	defer src.Close()

	surface, err := paginator.DecodeImageSurface(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	opts := ExportOptions{
		Filename: c.FormValue("filename"),
		Footer:   c.FormValue("footer"),
		PageSize: c.FormValue("pageSize"),
		Scale:    1,
	}
	if s := c.FormValue("scale"); s != "" {
		scale, err := strconv.ParseFloat(s, 64)
		if err != nil || scale <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "scale must be a positive number",
			})
		}
		opts.Scale = scale
	}
	title := c.FormValue("title")
	if opts.Filename == "" && title == "" {
		title = file.Filename
	}

	return serverHandler.dispatch(c, "Export uploaded image "+file.Filename, func(ctx context.Context, jobID ulid.ULID) (*database.Export, error) {
		return serverHandler.runExport(ctx, jobID, surface, serverHandler.paginatorOptions(opts, title), title, "image")
	})
}

// ListExports lists stored exports, newest first
// @Summary List exports
// @Tags Exports
// @Produce json
// @Param limit query int false "Number of exports to return (default: 20)"
// @Param offset query int false "Offset for pagination (default: 0)"
// @Success 200 {object} map[string]interface{} "items, totalCount and totalPages"
// @Router /exports [get]
func (serverHandler *ServerHandler) ListExports(c echo.Context) error {
	limit, offset := pageParams(c)

	exports, total, err := serverHandler.DB.ListExports(limit, offset)
	if err != nil {
		Logger.Error("Failed to list exports", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to retrieve exports",
		})
	}
	if exports == nil {
		exports = []database.Export{}
	}
	totalPages := int(math.Ceil(float64(total) / float64(limit)))
	if totalPages < 1 {
		totalPages = 1
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"items":      exports,
		"totalCount": total,
		"totalPages": totalPages,
	})
}

// GetExport returns the metadata and page layout of an export
// @Summary Get export by ID
// @Tags Exports
// @Produce json
// @Param id path string true "Export ID (ULID)"
// @Success 200 {object} database.Export "Export details"
// @Failure 404 {object} map[string]interface{} "Export not found"
// @Router /exports/{id} [get]
func (serverHandler *ServerHandler) GetExport(c echo.Context) error {
	export, status, err := database.FetchExport(c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(status, map[string]interface{}{
			"error": http.StatusText(status),
		})
	}
	return c.JSON(http.StatusOK, export)
}

// DownloadExport streams the PDF
// @Summary Download export PDF
// @Tags Exports
// @Produce application/pdf
// @Param id path string true "Export ID (ULID)"
// @Success 200 {file} file "PDF document"
// @Failure 404 {object} map[string]interface{} "Export not found"
// @Router /exports/{id}/download [get]
func (serverHandler *ServerHandler) DownloadExport(c echo.Context) error {
	export, status, err := database.FetchExport(c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(status, map[string]interface{}{
			"error": http.StatusText(status),
		})
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.Filename))
	return c.Blob(http.StatusOK, "application/pdf", export.PDF)
}

// DeleteExport removes an export
// @Summary Delete export
// @Tags Exports
// @Produce json
// @Param id path string true "Export ID (ULID)"
// @Success 200 {object} map[string]interface{} "Deleted"
// @Failure 404 {object} map[string]interface{} "Export not found"
// @Router /exports/{id} [delete]
func (serverHandler *ServerHandler) DeleteExport(c echo.Context) error {
	id, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid export ID format",
		})
	}
	if err := serverHandler.DB.DeleteExport(id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": "Export not found",
			})
		}
		Logger.Error("Unable to delete export", "id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to delete export",
		})
	}
	Logger.Info("Export deleted", "id", id)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"deleted": id.String(),
	})
}

// NormalizePayload runs the response normalizer over any JSON body
// @Summary Normalize an API response
// @Description Extracts the record list and pagination from any of the logistics API response shapes
// @Tags Normalize
// @Accept json
// @Produce json
// @Success 200 {object} normalize.Response "Normalized records"
// @Failure 400 {object} map[string]interface{} "Body is not JSON"
// @Router /normalize [post]
func (serverHandler *ServerHandler) NormalizePayload(c echo.Context) error {
	raw, err := normalize.Decode(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, normalize.Normalize(raw))
}

// GetLogisticsRecords fetches and normalizes a logistics API listing
// @Summary Fetch normalized records from the logistics API
// @Tags Normalize
// @Produce json
// @Param path query string true "API path, e.g. air/inbound/houses"
// @Param allPages query bool false "Follow pagination to the last page"
// @Success 200 {object} normalize.Response "Normalized records"
// @Failure 502 {object} map[string]interface{} "Logistics API error"
// @Failure 503 {object} map[string]interface{} "Logistics API not configured"
// @Router /logistics/records [get]
func (serverHandler *ServerHandler) GetLogisticsRecords(c echo.Context) error {
	params := c.QueryParams()
	path := params.Get("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "path is required",
		})
	}
	allPages, _ := strconv.ParseBool(params.Get("allPages"))
	source := &APISource{Path: path, AllPages: allPages, Query: map[string]string{}}
	for k := range params {
		if k != "path" && k != "allPages" {
			source.Query[k] = params.Get(k)
		}
	}

	req := ExportRequest{Source: source}
	resp, err := serverHandler.records(c.Request().Context(), req)
	if err != nil {
		Logger.Error("Unable to fetch logistics records", "path", path, "error", err)
		return c.JSON(errorStatus(err), map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// GetAboutInfo reports the active configuration without secrets
// @Summary About
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Service information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	cfg := serverHandler.ServerConfig
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":             "freightdesk",
		"databaseType":     cfg.DatabaseType,
		"exportScale":      cfg.ExportScale,
		"exportTimeout":    cfg.ExportTimeout,
		"retentionHours":   cfg.RetentionHours,
		"previewRenderer":  cfg.PreviewRenderer,
		"previewsEnabled":  serverHandler.Renderer != nil,
		"logisticsEnabled": cfg.LogisticsAPI.BaseURL != "",
	})
}

// pageParams reads limit and offset with the same bounds everywhere
func pageParams(c echo.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}
