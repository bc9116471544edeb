package database

import (
	"database/sql"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drummonds/freightdesk/paginator"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Export is a finished PDF and the layout that produced it
type Export struct {
	ID           ulid.ULID        `json:"id"`
	Filename     string           `json:"filename"`
	Title        string           `json:"title"`
	Source       string           `json:"source"` // records, api, html or image
	PageSize     string           `json:"pageSize"`
	PageWidthMm  float64          `json:"pageWidthMm"`
	PageHeightMm float64          `json:"pageHeightMm"`
	RasterWidth  int              `json:"rasterWidth"`
	RasterHeight int              `json:"rasterHeight"`
	Scale        float64          `json:"scale"`
	SizeBytes    int              `json:"sizeBytes"`
	Pages        []paginator.Page `json:"pages"`
	PDF          []byte           `json:"-"`
	JobID        string           `json:"jobId,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// PageCount is the number of pages in the stored PDF
func (e *Export) PageCount() int {
	return len(e.Pages)
}

// NewExport builds an Export row from a finished document
func NewExport(doc *paginator.Document, title, source string, scale float64, pageSize string) (*Export, error) {
	now := time.Now()
	id, err := CalculateUUID(now)
	if err != nil {
		return nil, err
	}
	return &Export{
		ID:           id,
		Filename:     doc.Filename,
		Title:        title,
		Source:       source,
		PageSize:     pageSize,
		PageWidthMm:  doc.PageWidthMm,
		PageHeightMm: doc.PageHeightMm,
		RasterWidth:  doc.RasterWidth,
		RasterHeight: doc.RasterHeight,
		Scale:        scale,
		SizeBytes:    len(doc.PDF),
		Pages:        doc.Pages,
		PDF:          doc.PDF,
		CreatedAt:    now,
	}, nil
}

// Repository defines database operations
type Repository interface {
	Close() error
	// Export methods
	SaveExport(export *Export) error
	GetExport(id ulid.ULID) (*Export, error)
	ListExports(limit, offset int) ([]Export, int, error)
	DeleteExport(id ulid.ULID) error
	DeleteOldExports(olderThan time.Duration) (int, error)
	// Job tracking methods
	CreateJob(jobType JobType, message string) (*Job, error)
	UpdateJobProgress(jobID ulid.ULID, progress int, currentStep string) error
	UpdateJobStatus(jobID ulid.ULID, status JobStatus, message string) error
	UpdateJobError(jobID ulid.ULID, errorMsg string) error
	CompleteJob(jobID ulid.ULID, result string) error
	GetJob(jobID ulid.ULID) (*Job, error)
	GetRecentJobs(limit, offset int) ([]Job, error)
	GetActiveJobs() ([]Job, error)
	DeleteOldJobs(olderThan time.Duration) (int, error)
}

// FetchExport fetches the requested export by ULID string and maps the
// failure to an HTTP status
func FetchExport(idStr string, db Repository) (*Export, int, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	export, err := db.GetExport(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, http.StatusNotFound, err
		}
		Logger.Error("Database error fetching export", "id", idStr, "error", err)
		return nil, http.StatusInternalServerError, err
	}
	return export, http.StatusOK, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// CalculateUUID makes a time ordered ULID
func CalculateUUID(time time.Time) (ulid.ULID, error) {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.UnixNano())), 0)
	newULID, err := ulid.New(ulid.Timestamp(time), entropy)
	if err != nil {
		return newULID, err
	}
	return newULID, nil
}
