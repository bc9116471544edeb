package engine

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/labstack/echo/v4"

	"github.com/drummonds/freightdesk/database"
	"github.com/drummonds/freightdesk/engine/pdfrenderer"
	"github.com/drummonds/freightdesk/inspect"
)

// GetExportPages reads the stored PDF back and reports each page
// @Summary Inspect export pages
// @Description Parses the stored PDF and returns its page count, page sizes and extracted text
// @Tags Exports
// @Produce json
// @Param id path string true "Export ID (ULID)"
// @Success 200 {object} inspect.Summary "Page summary"
// @Failure 404 {object} map[string]interface{} "Export not found"
// @Router /exports/{id}/pages [get]
func (serverHandler *ServerHandler) GetExportPages(c echo.Context) error {
	export, status, err := database.FetchExport(c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(status, map[string]interface{}{
			"error": http.StatusText(status),
		})
	}

	summary, err := inspect.Inspect(export.PDF)
	if err != nil {
		Logger.Error("Unable to read back export", "id", export.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Unable to read stored PDF",
		})
	}
	return c.JSON(http.StatusOK, summary)
}

// GetExportPreview renders one page of the stored PDF as a PNG
// @Summary Preview an export page
// @Tags Exports
// @Produce image/png
// @Param id path string true "Export ID (ULID)"
// @Param page path int true "Page number, starting at 1"
// @Param dpi query int false "Resolution (36 to 300, default 72)"
// @Success 200 {file} file "PNG image"
// @Failure 404 {object} map[string]interface{} "Export or page not found"
// @Failure 503 {object} map[string]interface{} "Previews disabled"
// @Router /exports/{id}/preview/{page} [get]
func (serverHandler *ServerHandler) GetExportPreview(c echo.Context) error {
	if serverHandler.Renderer == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"error": "Page previews are not available",
		})
	}
	pageNum, err := strconv.Atoi(c.Param("page"))
	if err != nil || pageNum < 1 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Page must be a number starting at 1",
		})
	}
	dpi := pdfrenderer.PreviewDPI
	if d, err := strconv.Atoi(c.QueryParam("dpi")); err == nil && d >= 36 && d <= 300 {
		dpi = d
	}

	export, status, err := database.FetchExport(c.Param("id"), serverHandler.DB)
	if err != nil {
		return c.JSON(status, map[string]interface{}{
			"error": http.StatusText(status),
		})
	}

	img, err := serverHandler.Renderer.RenderPage(export.PDF, pageNum-1, dpi)
	if err != nil {
		if errors.Is(err, pdfrenderer.ErrPageOutOfRange) {
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": err.Error(),
			})
		}
		Logger.Error("Unable to render preview", "id", export.ID, "page", pageNum, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Unable to render page",
		})
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Unable to encode preview",
		})
	}
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}
