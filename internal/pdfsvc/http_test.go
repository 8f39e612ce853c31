package pdfsvc

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/yourusername/easyconvert/internal/store"
)

type stubScheduler struct {
	fileID string
	dpi    int
	err    error
}

func (s *stubScheduler) Schedule(ctx context.Context, fileID string, dpi int) error {
	s.fileID = fileID
	s.dpi = dpi
	return s.err
}

type stubOperations struct {
	result *OpResult
	err    error
}

func (s *stubOperations) Merge(ctx context.Context, files []*multipart.FileHeader) (*OpResult, error) {
	return s.result, s.err
}

func (s *stubOperations) Split(ctx context.Context, file *multipart.FileHeader, rangesExpr string) (*OpResult, error) {
	return s.result, s.err
}

func (s *stubOperations) AddPageNumbers(ctx context.Context, file *multipart.FileHeader) (*OpResult, error) {
	return s.result, s.err
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	st := store.NewStore(db)
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return st
}

func buildPDFUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	fileWriter, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := io.Copy(fileWriter, bytes.NewReader(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

var dummyPDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

func TestConvertAsyncHandlerSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)
	scheduler := &stubScheduler{}

	body, contentType := buildPDFUpload(t, "file", "doc.pdf", dummyPDF)
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf-async?dpi=150", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/convert-pdf-async", ConvertAsyncHandler(st, scheduler, 300))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	taskID := payload["task_id"]
	if taskID == "" {
		t.Fatal("expected task_id in response")
	}
	if scheduler.fileID != taskID {
		t.Fatalf("scheduler got %s, response said %s", scheduler.fileID, taskID)
	}
	if scheduler.dpi != 150 {
		t.Fatalf("unexpected dpi: %d", scheduler.dpi)
	}

	status, err := st.GetStatus(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if status != store.StatusPending {
		t.Fatalf("submitted job should be pending, got %s", status)
	}
}

func TestConvertAsyncHandlerRejectsNonPDFName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)

	body, contentType := buildPDFUpload(t, "file", "doc.txt", dummyPDF)
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf-async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/convert-pdf-async", ConvertAsyncHandler(st, &stubScheduler{}, 300))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestConvertAsyncHandlerRejectsNonPDFContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)

	body, contentType := buildPDFUpload(t, "file", "doc.pdf", []byte("plain text, not a pdf"))
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf-async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/convert-pdf-async", ConvertAsyncHandler(st, &stubScheduler{}, 300))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestConvertAsyncHandlerScheduleFailureRemovesRow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)
	scheduler := &stubScheduler{err: errors.New("queue unavailable")}

	body, contentType := buildPDFUpload(t, "file", "doc.pdf", dummyPDF)
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf-async", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/convert-pdf-async", ConvertAsyncHandler(st, scheduler, 300))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if _, err := st.GetStatus(context.Background(), scheduler.fileID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected orphan row to be removed, got %v", err)
	}
}

func TestStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)

	if err := st.CreateFile(context.Background(), "task-1", dummyPDF, "application/pdf"); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	router := gin.New()
	router.GET("/status/:task_id", StatusHandler(st))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/task-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != "pending" {
		t.Fatalf("unexpected job status: %s", payload["status"])
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/never-submitted", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for unknown id: %d", rec.Code)
	}
}

func TestDownloadHandlerNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)

	if err := st.CreateFile(context.Background(), "task-1", dummyPDF, "application/pdf"); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}

	router := gin.New()
	router.GET("/download-images/:task_id", DownloadHandler(st, log.New(io.Discard, "", 0)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-images/task-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["status"] != "pending" || payload["message"] == "" {
		t.Fatalf("unexpected not-ready payload: %#v", payload)
	}
}

func TestDownloadHandlerFailed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateFile(ctx, "task-1", dummyPDF, "application/pdf"); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}
	if err := st.SetStatus(ctx, "task-1", store.StatusFailed); err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}

	router := gin.New()
	router.GET("/download-images/:task_id", DownloadHandler(st, log.New(io.Discard, "", 0)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-images/task-1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failed job should yield 500, got %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "CONVERSION_FAILED" {
		t.Fatalf("unexpected code: %s", payload["code"])
	}
}

func TestDownloadHandlerCompletedDeliversZipAndCleansUp(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateFile(ctx, "task-1", dummyPDF, "application/pdf"); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}
	pages := [][]byte{[]byte("page one"), []byte("page two")}
	for i, data := range pages {
		if err := st.AppendArtifact(ctx, "task-1", data, i+1); err != nil {
			t.Fatalf("AppendArtifact returned error: %v", err)
		}
	}
	if err := st.SetStatus(ctx, "task-1", store.StatusCompleted); err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}

	router := gin.New()
	router.GET("/download-images/:task_id", DownloadHandler(st, log.New(io.Discard, "", 0)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-images/task-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "attachment; filename=images_task-1.zip" {
		t.Fatalf("unexpected disposition: %s", cd)
	}

	zipData := rec.Body.Bytes()
	reader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	if len(reader.File) != len(pages) {
		t.Fatalf("unexpected entry count: %d", len(reader.File))
	}

	// 配信後はクリーンアップが走り、以後のステータス照会は404相当になる
	if _, err := st.GetStatus(ctx, "task-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected job to be cleaned up, got %v", err)
	}
	artifacts, err := st.ListArtifacts(ctx, "task-1")
	if err != nil {
		t.Fatalf("ListArtifacts returned error: %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("expected artifacts to be cleaned up, got %d", len(artifacts))
	}
}

func TestDownloadHandlerCompletedWithoutArtifacts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.CreateFile(ctx, "task-1", dummyPDF, "application/pdf"); err != nil {
		t.Fatalf("CreateFile returned error: %v", err)
	}
	if err := st.SetStatus(ctx, "task-1", store.StatusCompleted); err != nil {
		t.Fatalf("SetStatus returned error: %v", err)
	}

	router := gin.New()
	router.GET("/download-images/:task_id", DownloadHandler(st, log.New(io.Discard, "", 0)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download-images/task-1", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("completed job without artifacts should yield 404, got %d", rec.Code)
	}
}

func TestMergeHandlerStreamsResult(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ops := &stubOperations{
		result: &OpResult{
			Filename:    "merged.pdf",
			ContentType: "application/pdf",
			Data:        dummyPDF,
		},
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		fw, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fw.Write(dummyPDF); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/merge", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/merge", MergeHandler(ops))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type: %s", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), dummyPDF) {
		t.Fatalf("unexpected body: %q", rec.Body.Bytes())
	}
}

func TestSplitHandlerMapsInvalidInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ops := &stubOperations{
		err: newError("INVALID_INPUT", "分割するページ範囲を指定してください。", nil),
	}

	body, contentType := buildPDFUpload(t, "file", "doc.pdf", dummyPDF)
	req := httptest.NewRequest(http.MethodPost, "/split", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	router := gin.New()
	router.POST("/split", SplitHandler(ops))
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}
