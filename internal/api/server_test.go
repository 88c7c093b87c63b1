package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/pipeline"
)

type testServer struct {
	orch    *pipeline.Orchestrator
	tracker *jobs.Tracker
	handler http.Handler
}

func newTestServer(t *testing.T, maxFileSize int64) *testServer {
	t.Helper()
	tracker := jobs.NewTracker(jobs.NewMemoryStore(), jobs.TrackerConfig{})
	blobs := blob.NewMemoryStore()
	orch, err := pipeline.New(pipeline.Config{Tracker: tracker, Blobs: blobs, MaxFileSize: maxFileSize})
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Config{Orchestrator: orch, Tracker: tracker, Blobs: blobs, MaxFiles: 3, DefaultOptions: jobs.Options{AutoFix: true}})
	return &testServer{orch: orch, tracker: tracker, handler: srv.Handler()}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) jobs.Job {
	t.Helper()
	var job jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return job
}

func TestSubmitPollAndFetchArtifacts(t *testing.T) {
	ts := newTestServer(t, 0)
	body, ct := multipartBody(t, map[string]string{"name": "survey", "strictRows": "false"}, map[string]string{
		"sites.csv": "name,lat,lon\nA,1,2\n",
		"line.wkt":  "LINESTRING (0 0, 1 1)",
	})
	rec := ts.do(t, http.MethodPost, "/jobs", body, ct)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body)
	}
	submitted := decodeJob(t, rec)
	if submitted.Name != "survey" || !submitted.Options.AutoFix || rec.Header().Get("Location") != "/jobs/"+submitted.ID {
		t.Errorf("submitted = %+v", submitted)
	}

	ts.orch.Wait()
	rec = ts.do(t, http.MethodGet, "/jobs/"+submitted.ID, nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	job := decodeJob(t, rec)
	if job.Status != jobs.StatusCompleted || job.FeatureCount != 2 || job.Progress != 100 {
		t.Fatalf("job = %+v", job)
	}

	rec = ts.do(t, http.MethodGet, "/jobs/"+job.ID+"/artifacts/report.json", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total_features": 2`) {
		t.Errorf("report = %d %s", rec.Code, rec.Body)
	}
	rec = ts.do(t, http.MethodGet, "/jobs/"+job.ID+"/artifacts/visualization.html", nil, "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("visualization = %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec := ts.do(t, http.MethodGet, "/jobs/"+job.ID+"/artifacts/secrets.txt", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown artifact status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/jobs?limit=10", nil, "")
	var list struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Jobs) != 1 {
		t.Errorf("list = %s (%v)", rec.Body, err)
	}
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t, 16)

	if rec := ts.do(t, http.MethodPost, "/jobs", bytes.NewBufferString("{}"), "application/json"); rec.Code != http.StatusBadRequest {
		t.Errorf("json body status = %d", rec.Code)
	}
	body, ct := multipartBody(t, map[string]string{"name": "empty"}, nil)
	if rec := ts.do(t, http.MethodPost, "/jobs", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("no files status = %d", rec.Code)
	}
	body, ct = multipartBody(t, map[string]string{"autoFix": "maybe"}, map[string]string{"a.wkt": "POINT (1 1)"})
	if rec := ts.do(t, http.MethodPost, "/jobs", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("bad bool status = %d", rec.Code)
	}
	body, ct = multipartBody(t, nil, map[string]string{"a.wkt": "1", "b.wkt": "2", "c.wkt": "3", "d.wkt": "4"})
	if rec := ts.do(t, http.MethodPost, "/jobs", body, ct); rec.Code != http.StatusBadRequest {
		t.Errorf("too many files status = %d", rec.Code)
	}
	body, ct = multipartBody(t, nil, map[string]string{"big.wkt": strings.Repeat("POINT (1 1)\n", 5)})
	if rec := ts.do(t, http.MethodPost, "/jobs", body, ct); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize file status = %d", rec.Code)
	}
}

func TestGetAndCancelErrors(t *testing.T) {
	ts := newTestServer(t, 0)
	if rec := ts.do(t, http.MethodGet, "/jobs/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/jobs?limit=-1", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}

	job, err := ts.tracker.Create(context.Background(), "pending", jobs.Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rec := ts.do(t, http.MethodGet, "/jobs/"+job.ID+"/artifacts/geodata.geojson", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("artifact of pending job status = %d", rec.Code)
	}
	rec := ts.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil, "")
	if rec.Code != http.StatusAccepted || decodeJob(t, rec).Status != jobs.StatusFailed {
		t.Errorf("cancel = %d %s", rec.Code, rec.Body)
	}
	if rec := ts.do(t, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil, ""); rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)
	if rec := ts.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
}
