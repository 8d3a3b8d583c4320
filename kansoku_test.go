package kansoku_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kansoku"
	"github.com/ashita-ai/kansoku/internal/testutil"
)

type recordingHook struct {
	mu      sync.Mutex
	batches []kansoku.BatchSummary
}

func (h *recordingHook) OnBatchIngested(_ context.Context, b kansoku.BatchSummary) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, b)
	return nil
}

func (h *recordingHook) snapshot() []kansoku.BatchSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]kansoku.BatchSummary(nil), h.batches...)
}

type memorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (s *memorySink) Put(_ context.Context, runID, filename, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runID + "/" + filename
	s.files[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func newTestApp(t *testing.T, opts ...kansoku.Option) *kansoku.App {
	t.Helper()
	t.Setenv("KANSOKU_RATE_LIMIT_ENABLED", "false")
	t.Setenv("KANSOKU_ATTACHMENT_DIR", "")
	base := []kansoku.Option{
		kansoku.WithLogger(testutil.TestLogger()),
		kansoku.WithVersion("test"),
		kansoku.WithStorageDriver("sqlite"),
		kansoku.WithSQLitePath(filepath.Join(t.TempDir(), "kansoku.db")),
	}
	app, err := kansoku.New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func TestAppServesHealth(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Status  string `json:"status"`
			Version string `json:"version"`
			Storage string `json:"storage"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "test", body.Data.Version)
	assert.Equal(t, "sqlite", body.Data.Storage)
}

func TestAppIngestHook(t *testing.T) {
	hook := &recordingHook{}
	app := newTestApp(t, kansoku.WithIngestHook(hook))
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	payload, err := json.Marshal(map[string]any{
		"post": []map[string]any{
			{"id": "r1", "trace_id": "T1", "name": "root"},
			{"id": "r2", "trace_id": "T1", "parent_run_id": "r1"},
		},
		"patch": []map[string]any{
			{"id": "r1", "outputs": map[string]any{"ok": true}},
			{"id": "ghost", "name": "x"},
		},
	})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/runs/batch", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return len(hook.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	got := hook.snapshot()[0]
	assert.Equal(t, "default", got.System)
	assert.Equal(t, 3, got.Accepted)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, []string{"r1", "r2"}, got.RunIDs)
}

func TestAppExtraRoutesAndMiddleware(t *testing.T) {
	app := newTestApp(t,
		kansoku.WithExtraRoutes(func(mux *http.ServeMux) {
			mux.HandleFunc("GET /custom", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("custom"))
			})
		}),
		kansoku.WithMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Embedded", "yes")
				next.ServeHTTP(w, r)
			})
		}),
	)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/custom", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "custom", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Embedded"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), "built-in chain still runs")
}

func TestAppCustomAttachmentSink(t *testing.T) {
	sink := &memorySink{files: map[string][]byte{}}
	app := newTestApp(t, kansoku.WithAttachmentSink(sink))

	var body bytes.Buffer
	body.WriteString("--XYZ\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"post.r1\"\r\n")
	body.WriteString("Content-Type: application/json\r\n\r\n")
	body.WriteString(`{"id":"r1","trace_id":"T1"}` + "\r\n")
	body.WriteString("--XYZ\r\n")
	body.WriteString("Content-Disposition: form-data; name=\"attachment.r1.run.log\"; filename=\"run.log\"\r\n")
	body.WriteString("Content-Type: text/plain\r\n\r\n")
	body.WriteString("hello log\r\n")
	body.WriteString("--XYZ--\r\n")

	req := httptest.NewRequest(http.MethodPost, "/runs/multipart", &body)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=XYZ")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []byte("hello log"), sink.files["r1/run.log"])
}
