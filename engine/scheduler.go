package engine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"

	"github.com/drummonds/freightdesk/database"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// retentionResult is stored as the retention job result
type retentionResult struct {
	ExportsDeleted int `json:"exportsDeleted"`
	JobsDeleted    int `json:"jobsDeleted"`
}

// InitializeSchedules starts all the cron jobs (currently just the retention sweep)
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	c := cron.New()
	cfg := serverHandler.ServerConfig
	if cfg.RetentionHours <= 0 || cfg.PurgeInterval <= 0 {
		Logger.Info("Export retention disabled", "retention_hours", cfg.RetentionHours, "interval_minutes", cfg.PurgeInterval)
		return c
	}

	var retentionJob cron.Job
	retentionJob = cron.FuncJob(func() { serverHandler.retentionJobFunc() })
	retentionJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(retentionJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", cfg.PurgeInterval), retentionJob); err != nil {
		Logger.Error("Unable to schedule retention job", "error", err)
		return c
	}
	Logger.Info("Adding retention job scheduler", "interval_minutes", cfg.PurgeInterval, "retention_hours", cfg.RetentionHours)
	c.Start()
	return c
}

// retentionJobFunc deletes exports and finished jobs past the retention window
func (serverHandler *ServerHandler) retentionJobFunc() (retentionResult, error) {
	var result retentionResult
	db := serverHandler.DB
	job, err := db.CreateJob(database.JobTypeRetention, "Purging expired exports")
	if err != nil {
		Logger.Error("Failed to create retention job", "error", err)
		return result, err
	}
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in retention job", "panic", r, "jobID", job.ID)
			db.UpdateJobError(job.ID, fmt.Sprintf("Panic: %v", r))
		}
	}()
	db.UpdateJobStatus(job.ID, database.JobStatusRunning, "Purging expired exports")

	window := time.Duration(serverHandler.ServerConfig.RetentionHours) * time.Hour
	result.ExportsDeleted, err = db.DeleteOldExports(window)
	if err != nil {
		Logger.Error("Unable to purge exports", "error", err)
		db.UpdateJobError(job.ID, err.Error())
		return result, err
	}
	db.UpdateJobProgress(job.ID, 50, "Purging finished jobs")

	result.JobsDeleted, err = db.DeleteOldJobs(window)
	if err != nil {
		Logger.Error("Unable to purge jobs", "error", err)
		db.UpdateJobError(job.ID, err.Error())
		return result, err
	}

	summary, _ := json.Marshal(result)
	db.CompleteJob(job.ID, string(summary))
	Logger.Info("Retention sweep finished", "exports_deleted", result.ExportsDeleted, "jobs_deleted", result.JobsDeleted)
	return result, nil
}

// RunRetentionNow runs the retention sweep immediately
// @Summary Run retention sweep
// @Description Deletes exports and finished jobs older than the retention window
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "Number of deleted exports and jobs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /retention/run [post]
func (serverHandler *ServerHandler) RunRetentionNow(c echo.Context) error {
	if serverHandler.ServerConfig.RetentionHours <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Retention is disabled",
		})
	}
	result, err := serverHandler.retentionJobFunc()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Retention sweep failed",
		})
	}
	return c.JSON(http.StatusOK, result)
}
