package database

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"

	"github.com/drummonds/freightdesk/paginator"
)

// BunExport represents the exports table for Bun ORM
type BunExport struct {
	bun.BaseModel `bun:"table:exports,alias:e"`

	ID           string    `bun:"id,pk"` // ULID as string
	Filename     string    `bun:"filename,notnull"`
	Title        string    `bun:"title,notnull,default:''"`
	Source       string    `bun:"source,notnull,default:''"`
	PageSize     string    `bun:"page_size,notnull,default:'A4'"`
	PageCount    int       `bun:"page_count,notnull,default:0"`
	PageWidthMm  float64   `bun:"page_width_mm,notnull"`
	PageHeightMm float64   `bun:"page_height_mm,notnull"`
	RasterWidth  int       `bun:"raster_width,notnull"`
	RasterHeight int       `bun:"raster_height,notnull"`
	Scale        float64   `bun:"scale,notnull"`
	SizeBytes    int       `bun:"size_bytes,notnull"`
	Pages        string    `bun:"pages,notnull,default:'[]'"` // JSON page layout
	PDF          []byte    `bun:"pdf"`
	JobID        string    `bun:"job_id,nullzero"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ToExport converts BunExport to Export
func (be *BunExport) ToExport() (*Export, error) {
	parsedULID, err := ulid.Parse(be.ID)
	if err != nil {
		return nil, err
	}

	var pages []paginator.Page
	if be.Pages != "" {
		if err := json.Unmarshal([]byte(be.Pages), &pages); err != nil {
			return nil, err
		}
	}

	return &Export{
		ID:           parsedULID,
		Filename:     be.Filename,
		Title:        be.Title,
		Source:       be.Source,
		PageSize:     be.PageSize,
		PageWidthMm:  be.PageWidthMm,
		PageHeightMm: be.PageHeightMm,
		RasterWidth:  be.RasterWidth,
		RasterHeight: be.RasterHeight,
		Scale:        be.Scale,
		SizeBytes:    be.SizeBytes,
		Pages:        pages,
		PDF:          be.PDF,
		JobID:        be.JobID,
		CreatedAt:    be.CreatedAt,
	}, nil
}

// FromExport converts Export to BunExport
func FromExport(export *Export) (*BunExport, error) {
	pages, err := json.Marshal(export.Pages)
	if err != nil {
		return nil, err
	}
	if export.Pages == nil {
		pages = []byte("[]")
	}
	return &BunExport{
		ID:           export.ID.String(),
		Filename:     export.Filename,
		Title:        export.Title,
		Source:       export.Source,
		PageSize:     export.PageSize,
		PageCount:    len(export.Pages),
		PageWidthMm:  export.PageWidthMm,
		PageHeightMm: export.PageHeightMm,
		RasterWidth:  export.RasterWidth,
		RasterHeight: export.RasterHeight,
		Scale:        export.Scale,
		SizeBytes:    export.SizeBytes,
		Pages:        string(pages),
		PDF:          export.PDF,
		JobID:        export.JobID,
		CreatedAt:    export.CreatedAt,
	}, nil
}

// BunJob represents the jobs table for Bun ORM
type BunJob struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID          string     `bun:"id,pk"` // ULID as string
	Type        string     `bun:"type,notnull"`
	Status      string     `bun:"status,default:'pending'"`
	Progress    int        `bun:"progress,default:0"`
	CurrentStep string     `bun:"current_step,default:''"`
	TotalSteps  int        `bun:"total_steps,default:0"`
	Message     string     `bun:"message,default:''"`
	Error       string     `bun:"error,nullzero"`
	Result      string     `bun:"result,nullzero"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt   *time.Time `bun:"started_at,nullzero"`
	CompletedAt *time.Time `bun:"completed_at,nullzero"`
}

// ToJob converts BunJob to Job
func (bj *BunJob) ToJob() (*Job, error) {
	parsedULID, err := ulid.Parse(bj.ID)
	if err != nil {
		return nil, err
	}

	return &Job{
		ID:          parsedULID,
		Type:        JobType(bj.Type),
		Status:      JobStatus(bj.Status),
		Progress:    bj.Progress,
		CurrentStep: bj.CurrentStep,
		TotalSteps:  bj.TotalSteps,
		Message:     bj.Message,
		Error:       bj.Error,
		Result:      bj.Result,
		CreatedAt:   bj.CreatedAt,
		UpdatedAt:   bj.UpdatedAt,
		StartedAt:   bj.StartedAt,
		CompletedAt: bj.CompletedAt,
	}, nil
}

// FromJob converts Job to BunJob
func FromJob(job *Job) *BunJob {
	return &BunJob{
		ID:          job.ID.String(),
		Type:        string(job.Type),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		TotalSteps:  job.TotalSteps,
		Message:     job.Message,
		Error:       job.Error,
		Result:      job.Result,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
