package engine

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/freightdesk/database"
)

// GetJob reports on one export or retention run
// @Summary Get an export or retention job
// @Description Progress, status and message of an async PDF export or a retention purge
// @Tags Jobs
// @Produce json
// @Param id path string true "Job ULID, as returned by POST /exports with async=true"
// @Success 200 {object} database.Job "Job"
// @Failure 400 {object} map[string]interface{} "Malformed job ULID"
// @Failure 404 {object} map[string]interface{} "No such job"
// @Router /jobs/{id} [get]
func (serverHandler *ServerHandler) GetJob(c echo.Context) error {
	id, err := ulid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "job id must be a ULID",
		})
	}

	job, err := serverHandler.DB.GetJob(id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "no export or retention job with that id",
		})
	case err != nil:
		Logger.Error("Loading export job failed", "job", id, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "could not load job",
		})
	}
	return c.JSON(http.StatusOK, job)
}

// GetRecentJobs lists export and retention runs, newest first
// @Summary List export and retention jobs
// @Description Newest first. Pass type=export or type=retention to narrow the page.
// @Tags Jobs
// @Produce json
// @Param type query string false "export or retention"
// @Param limit query int false "Page size, 1-100 (default 20)"
// @Param offset query int false "Rows to skip (default 0)"
// @Success 200 {array} database.Job "Jobs"
// @Failure 400 {object} map[string]interface{} "Unknown job type"
// @Router /jobs [get]
func (serverHandler *ServerHandler) GetRecentJobs(c echo.Context) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "type must be export or retention",
		})
	}
	limit, offset := pageParams(c)
	jobs, err := serverHandler.DB.GetRecentJobs(limit, offset)
	if err != nil {
		Logger.Error("Listing export jobs failed", "limit", limit, "offset", offset, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "could not list jobs",
		})
	}
	return c.JSON(http.StatusOK, filterJobs(jobs, jobType))
}

// GetActiveJobs lists exports still rendering and purges still running
// @Summary List unfinished export and retention jobs
// @Description Jobs in the pending or running state. Pass type=export to see only queued PDF renders.
// @Tags Jobs
// @Produce json
// @Param type query string false "export or retention"
// @Success 200 {array} database.Job "Unfinished jobs"
// @Failure 400 {object} map[string]interface{} "Unknown job type"
// @Router /jobs/active [get]
func (serverHandler *ServerHandler) GetActiveJobs(c echo.Context) error {
	jobType, ok := jobTypeParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "type must be export or retention",
		})
	}
	jobs, err := serverHandler.DB.GetActiveJobs()
	if err != nil {
		Logger.Error("Listing unfinished export jobs failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "could not list active jobs",
		})
	}
	return c.JSON(http.StatusOK, filterJobs(jobs, jobType))
}

// jobTypeParam reads the optional type filter. Empty means every type.
func jobTypeParam(c echo.Context) (database.JobType, bool) {
	switch t := database.JobType(c.QueryParam("type")); t {
	case "", database.JobTypeExport, database.JobTypeRetention:
		return t, true
	default:
		return "", false
	}
}

// filterJobs keeps jobs of the given type and never returns nil, so the
// response is always a JSON array.
func filterJobs(jobs []database.Job, jobType database.JobType) []database.Job {
	out := make([]database.Job, 0, len(jobs))
	for _, job := range jobs {
		if jobType == "" || job.Type == jobType {
			out = append(out, job)
		}
	}
	return out
}
