package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/freightdesk/config"
	"github.com/drummonds/freightdesk/database"
	"github.com/drummonds/freightdesk/engine/pdfrenderer"
	"github.com/drummonds/freightdesk/logistics"
	"github.com/drummonds/freightdesk/paginator"
	"github.com/drummonds/freightdesk/rasterize"
)

func newTestHandler(t *testing.T) *ServerHandler {
	t.Helper()
	serverConfig := config.ServerConfig{
		DatabaseType:   "sqlite",
		DatabaseDbname: ":memory:",
		ExportScale:    2,
		ExportTimeout:  30,
		RetentionHours: 72,
		PurgeInterval:  60,
	}
	db, err := database.NewRepository(serverConfig)
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := echo.New()
	e.HideBanner = true
	serverHandler := &ServerHandler{DB: db, Echo: e, ServerConfig: serverConfig}
	serverHandler.RegisterRoutes()
	return serverHandler
}

func serve(serverHandler *ServerHandler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	serverHandler.Echo.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

// imageUpload builds a multipart request carrying a solid PNG of the given size
func imageUpload(t *testing.T, target string, width, height int, fields map[string]string) *http.Request {
	t.Helper()
	var png bytes.Buffer
	img := imaging.New(width, height, color.NRGBA{R: 20, G: 80, B: 140, A: 255})
	if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "report.png")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write(png.Bytes())
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestImageExportLifecycle(t *testing.T) {
	serverHandler := newTestHandler(t)

	rec := serve(serverHandler, imageUpload(t, "/api/exports/image", 210, 891, map[string]string{
		"filename": "manifest",
		"footer":   "Page {page} of {total}",
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var export database.Export
	decode(t, rec, &export)
	if export.Filename != "manifest.pdf" {
		t.Errorf("Expected manifest.pdf, got %s", export.Filename)
	}
	if export.PageCount() != 3 {
		t.Fatalf("Expected 3 pages, got %d", export.PageCount())
	}
	if export.Pages[2].Footer != "Page 3 of 3" {
		t.Errorf("Unexpected footer %q", export.Pages[2].Footer)
	}
	if export.Scale != 1 || export.RasterWidth != 210 {
		t.Errorf("Uploads should be used as is, got scale %v width %d", export.Scale, export.RasterWidth)
	}
	id := export.ID.String()

	t.Run("List", func(t *testing.T) {
		rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/exports?limit=10", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		var list struct {
			Items      []database.Export `json:"items"`
			TotalCount int               `json:"totalCount"`
			TotalPages int               `json:"totalPages"`
		}
		decode(t, rec, &list)
		if list.TotalCount != 1 || len(list.Items) != 1 || list.TotalPages != 1 {
			t.Errorf("Unexpected listing %+v", list)
		}
	})

	t.Run("Download", func(t *testing.T) {
		rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/exports/"+id+"/download", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
			t.Errorf("Expected application/pdf, got %s", ct)
		}
		if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), `filename="manifest.pdf"`) {
			t.Errorf("Unexpected disposition %q", rec.Header().Get(echo.HeaderContentDisposition))
		}
		if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")) {
			t.Error("Body is not a PDF")
		}
	})

	t.Run("Pages", func(t *testing.T) {
		rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/exports/"+id+"/pages", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var summary struct {
			PageCount int `json:"pageCount"`
		}
		decode(t, rec, &summary)
		if summary.PageCount != 3 {
			t.Errorf("Expected 3 pages read back, got %d", summary.PageCount)
		}
	})

	t.Run("Preview disabled", func(t *testing.T) {
		rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/exports/"+id+"/preview/1", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 without a renderer, got %d", rec.Code)
		}
	})

	t.Run("Job recorded", func(t *testing.T) {
		job, err := serverHandler.DB.GetJob(mustParseJobID(t, export.JobID))
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if job.Status != database.JobStatusCompleted || !strings.Contains(job.Result, id) {
			t.Errorf("Unexpected job %+v", job)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := serve(serverHandler, httptest.NewRequest(http.MethodDelete, "/api/exports/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/exports/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404 after delete, got %d", rec.Code)
		}
		rec = serve(serverHandler, httptest.NewRequest(http.MethodDelete, "/api/exports/"+id, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404 on second delete, got %d", rec.Code)
		}
	})
}

func mustParseJobID(t *testing.T, s string) ulid.ULID {
	t.Helper()
	id, err := ulid.Parse(s)
	if err != nil {
		t.Fatalf("Bad job id %q: %v", s, err)
	}
	return id
}

// pageStub renders every page as a blank thumbnail
type pageStub struct{ pages int }

func (r pageStub) PageCount(pdf []byte) (int, error) { return r.pages, nil }

func (r pageStub) RenderPage(pdf []byte, index int, dpi int) (image.Image, error) {
	if index < 0 || index >= r.pages {
		return nil, pdfrenderer.ErrPageOutOfRange
	}
	return imaging.New(dpi, dpi, color.White), nil
}

func (r pageStub) Close() error { return nil }

func TestExportPreview(t *testing.T) {
	serverHandler := newTestHandler(t)
	serverHandler.Renderer = pageStub{pages: 1}

	rec := serve(serverHandler, imageUpload(t, "/api/exports/image", 210, 100, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var export database.Export
	decode(t, rec, &export)
	base := "/api/exports/" + export.ID.String() + "/preview/"

	rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, base+"1?dpi=100", nil))
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != "image/png" {
		t.Fatalf("Expected PNG preview, got %d %s", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	img, err := imaging.Decode(rec.Body)
	if err != nil || img.Bounds().Dx() != 100 {
		t.Errorf("Expected 100px preview, got %v (%v)", img, err)
	}

	if rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, base+"2", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing page, got %d", rec.Code)
	}
	if rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, base+"zero", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad page, got %d", rec.Code)
	}
}

func TestImageExportAsync(t *testing.T) {
	serverHandler := newTestHandler(t)

	rec := serve(serverHandler, imageUpload(t, "/api/exports/image?async=true", 210, 200, nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var job database.Job
	decode(t, rec, &job)

	deadline := time.Now().Add(10 * time.Second)
	for {
		current, err := serverHandler.DB.GetJob(job.ID)
		if err != nil {
			t.Fatalf("Failed to get job: %v", err)
		}
		if current.IsFinished() {
			if current.Status != database.JobStatusCompleted {
				t.Fatalf("Expected completed job, got %s (%s)", current.Status, current.Error)
			}
			if !strings.Contains(current.Result, `"pageCount":1`) {
				t.Errorf("Unexpected job result %s", current.Result)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Job did not finish, last status %s", current.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestImageExportInvalid(t *testing.T) {
	serverHandler := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/exports/image", nil)
	if rec := serve(serverHandler, req); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a file, got %d", rec.Code)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, _ := writer.CreateFormFile("image", "notes.txt")
	part.Write([]byte("not an image"))
	writer.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/exports/image", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	if rec := serve(serverHandler, req); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for undecodable image, got %d", rec.Code)
	}

	rec := serve(serverHandler, imageUpload(t, "/api/exports/image", 10, 10, map[string]string{"scale": "-1"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative scale, got %d", rec.Code)
	}

	rec = serve(serverHandler, imageUpload(t, "/api/exports/image", 10, 10, map[string]string{"pageSize": "Napkin"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown page size, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateExportBadRequests(t *testing.T) {
	serverHandler := newTestHandler(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"Malformed JSON", `{"title":`, http.StatusBadRequest},
		{"No data or source", `{"title": "Empty"}`, http.StatusBadRequest},
		{"Unknown report", `{"report": "balance", "data": {"items": []}}`, http.StatusBadRequest},
		{"Source without client", `{"source": {"path": "air/inbound/houses"}}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(serverHandler, jsonRequest(http.MethodPost, "/api/exports", tt.body))
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	jobs, err := serverHandler.DB.GetRecentJobs(10, 0)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	for _, job := range jobs {
		if job.Status != database.JobStatusFailed {
			t.Errorf("Expected failed job, got %s for %q", job.Status, job.Message)
		}
	}
}

func TestCreateHTMLExportWithoutBrowser(t *testing.T) {
	serverHandler := newTestHandler(t)
	rec := serve(serverHandler, jsonRequest(http.MethodPost, "/api/exports/html", `{"html": "<p>hi</p>"}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without a browser, got %d", rec.Code)
	}
}

func TestCreateExportUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	serverHandler := newTestHandler(t)
	serverHandler.Logistics = logistics.NewClient(upstream.URL, "", time.Second, 50)

	rec := serve(serverHandler, jsonRequest(http.MethodPost, "/api/exports", `{"source": {"path": "ocean/outbound/jobs"}}`))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNormalizePayload(t *testing.T) {
	serverHandler := newTestHandler(t)

	rec := serve(serverHandler, jsonRequest(http.MethodPost, "/api/normalize",
		`{"data": {"items": [{"jobNo": "AE-1"}, {"jobNo": "AE-2"}]}, "meta": {"total_pages": 4, "total": 70}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		Items      []map[string]interface{} `json:"items"`
		TotalPages int                      `json:"totalPages"`
		TotalCount int                      `json:"totalCount"`
	}
	decode(t, rec, &resp)
	if len(resp.Items) != 2 || resp.TotalPages != 4 || resp.TotalCount != 70 {
		t.Errorf("Unexpected normalized response %+v", resp)
	}

	rec = serve(serverHandler, jsonRequest(http.MethodPost, "/api/normalize", `{"broken"`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestGetLogisticsRecords(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/air/inbound/houses" || r.URL.Query().Get("status") != "arrived" {
			t.Errorf("Unexpected upstream request %s", r.URL.String())
		}
		fmt.Fprint(w, `{"results": [{"hawbNo": "H1"}], "totalCount": 1}`)
	}))
	defer upstream.Close()

	serverHandler := newTestHandler(t)
	serverHandler.Logistics = logistics.NewClient(upstream.URL, "", time.Second, 50)

	rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/logistics/records?path=air/inbound/houses&status=arrived", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"hawbNo":"H1"`) {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}

	rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/logistics/records", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without path, got %d", rec.Code)
	}
}

func TestRetentionSweep(t *testing.T) {
	serverHandler := newTestHandler(t)

	doc, err := paginator.Export(context.Background(), paginator.ImageSurface{Image: imaging.New(50, 50, color.White)}, paginator.Options{Scale: 1})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	old, err := database.NewExport(doc, "Old", "image", 1, "A4")
	if err != nil {
		t.Fatalf("NewExport failed: %v", err)
	}
	old.CreatedAt = time.Now().Add(-100 * time.Hour)
	if err := serverHandler.DB.SaveExport(old); err != nil {
		t.Fatalf("Failed to save export: %v", err)
	}

	rec := serve(serverHandler, httptest.NewRequest(http.MethodPost, "/api/retention/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result retentionResult
	decode(t, rec, &result)
	if result.ExportsDeleted != 1 {
		t.Errorf("Expected 1 deleted export, got %d", result.ExportsDeleted)
	}

	jobs, err := serverHandler.DB.GetRecentJobs(5, 0)
	if err != nil || len(jobs) == 0 || jobs[0].Type != database.JobTypeRetention {
		t.Errorf("Expected a retention job to be recorded, got %+v (%v)", jobs, err)
	}
}

func TestJobRoutes(t *testing.T) {
	serverHandler := newTestHandler(t)
	job, err := serverHandler.DB.CreateJob(database.JobTypeExport, "Queued export")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/jobs/active", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), job.ID.String()) {
		t.Errorf("Expected job in active list, got %d %s", rec.Code, rec.Body.String())
	}
	rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-ulid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
	missing, err := database.CalculateUUID(time.Now())
	if err != nil {
		t.Fatalf("Failed to generate id: %v", err)
	}
	rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, "/api/jobs/"+missing.String(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	purge, err := serverHandler.DB.CreateJob(database.JobTypeRetention, "Purging old exports")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	for _, path := range []string{"/api/jobs", "/api/jobs/active"} {
		t.Run(path, func(t *testing.T) {
			var jobs []database.Job
			rec := serve(serverHandler, httptest.NewRequest(http.MethodGet, path+"?type=retention", nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			decode(t, rec, &jobs)
			if len(jobs) != 1 || jobs[0].ID != purge.ID {
				t.Errorf("Expected only the retention job, got %+v", jobs)
			}

			rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, path, nil))
			decode(t, rec, &jobs)
			if len(jobs) != 2 {
				t.Errorf("Expected both jobs without a filter, got %d", len(jobs))
			}

			rec = serve(serverHandler, httptest.NewRequest(http.MethodGet, path+"?type=backup", nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400 for unknown type, got %d", rec.Code)
			}
		})
	}
}

func TestFilterJobsNeverNil(t *testing.T) {
	got := filterJobs(nil, database.JobTypeExport)
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}
}

func TestExportFilename(t *testing.T) {
	tests := []struct {
		requested, title, want string
	}{
		{"", "", "export.pdf"},
		{"", "Air Inbound Houses", "air-inbound-houses.pdf"},
		{"march.pdf", "ignored", "march.pdf"},
		{"../../etc/passwd", "", "etc-passwd.pdf"},
		{"P&L: Q1", "", "P-L-Q1.pdf"},
	}
	for _, tt := range tests {
		if got := exportFilename(tt.requested, tt.title); got != tt.want {
			t.Errorf("exportFilename(%q, %q) = %q, want %q", tt.requested, tt.title, got, tt.want)
		}
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", paginator.ErrInvalidInput), http.StatusBadRequest},
		{ErrBadRequest, http.StatusBadRequest},
		{logistics.ErrNotConfigured, http.StatusServiceUnavailable},
		{&logistics.StatusError{StatusCode: 500}, http.StatusBadGateway},
		{&paginator.RasterizationError{Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{&paginator.RasterizationError{Err: errors.New("crashed")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRecordsExportWithBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping browser integration test in short mode")
	}
	browserPath := ""
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			browserPath = p
			break
		}
	}
	if browserPath == "" {
		t.Skip("No Chrome/Chromium available")
	}

	serverHandler := newTestHandler(t)
	serverHandler.Browser = rasterize.NewBrowser(browserPath)
	t.Cleanup(func() { serverHandler.Browser.Close() })

	var rows []string
	for i := 1; i <= 150; i++ {
		rows = append(rows, fmt.Sprintf(`{"jobNo": "AE-%04d", "customerName": "Customer %d", "totalRevenue": %d, "totalCost": %d}`, i, i, 1000+i, 900))
	}
	body := fmt.Sprintf(`{"title": "Job P&L", "report": "profitloss", "data": {"data": {"items": [%s]}}}`, strings.Join(rows, ","))

	rec := serve(serverHandler, jsonRequest(http.MethodPost, "/api/exports", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var export database.Export
	decode(t, rec, &export)
	if export.PageCount() < 2 {
		t.Errorf("Expected a multi-page export, got %d pages", export.PageCount())
	}
	if export.Filename != "job-p-l.pdf" {
		t.Errorf("Unexpected filename %s", export.Filename)
	}
	if export.RasterWidth != 2*rasterize.A4WidthCSSPx {
		t.Errorf("Expected raster width %d, got %d", 2*rasterize.A4WidthCSSPx, export.RasterWidth)
	}
}
