package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/capture"
	"github.com/kdimtricp/labelscan/internal/database"
	"github.com/kdimtricp/labelscan/internal/export"
	"github.com/kdimtricp/labelscan/internal/ocr"
	"github.com/kdimtricp/labelscan/internal/session"
	"github.com/kdimtricp/labelscan/internal/stability"
	"github.com/kdimtricp/labelscan/internal/storage"
)

const validSN = "952985A1B12345678901"

type mockRecognizer struct {
	mu  sync.Mutex
	sns []string
	n   int
}

func (m *mockRecognizer) Recognize(ctx context.Context, imageData []byte) (*ocr.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sn := m.sns[m.n%len(m.sns)]
	m.n++
	return &ocr.Result{SN: sn, Confidence: 0.93}, nil
}

type testEnv struct {
	app    *App
	router http.Handler
}

func newTestEnv(t *testing.T, sns ...string) *testEnv {
	t.Helper()
	if len(sns) == 0 {
		sns = []string{validSN}
	}

	dir := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(dir, "exports"))
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	db, err := database.NewDB(database.Config{SQLitePath: filepath.Join(dir, "ledger.db")})
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ledger := database.NewExportRepository(db)

	frames := camera.NewPushSource(0)
	svc := session.NewService(
		&mockRecognizer{sns: sns},
		frames,
		nil,
		export.NewExporter(store, nil, ledger, export.LocaleZH),
		session.Config{
			// automatic captures are exercised in the session tests
			Stability: stability.Config{MinStable: time.Hour, Interval: 10 * time.Millisecond},
			Capture:   capture.DefaultConfig(),
		},
	)
	t.Cleanup(func() { svc.Close() })

	app := &App{
		Session:       svc,
		Frames:        frames,
		Storage:       store,
		Exports:       ledger,
		MaxUploadSize: 10 << 20,
	}
	return &testEnv{app: app, router: NewRouter(app)}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func pngFrame(t *testing.T) *bytes.Buffer {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = byte(i % 173)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &buf
}

// scan activates the session, uploads a frame and records one capture.
func (e *testEnv) scan(t *testing.T) {
	t.Helper()
	if rec := e.do(t, http.MethodPost, "/api/scanning/start", nil); rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/api/frames", pngFrame(t)); rec.Code != http.StatusNoContent {
		t.Fatalf("frame: %d %s", rec.Code, rec.Body)
	}
	if rec := e.do(t, http.MethodPost, "/api/capture", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("capture: %d %s", rec.Code, rec.Body)
	}
	e.app.Session.Wait()
}

func decodeHistory(t *testing.T, body *bytes.Buffer) []historyItem {
	t.Helper()
	var items []historyItem
	if err := json.Unmarshal(body.Bytes(), &items); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	return items
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/ping", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body)
	}
}

func TestScanFlow(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	rec := env.do(t, http.MethodGet, "/api/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	items := decodeHistory(t, rec.Body)
	if len(items) != 1 || items[0].SN != validSN {
		t.Fatalf("unexpected history %+v", items)
	}
	if !items[0].Validation.IsValid {
		t.Errorf("expected validation attached, got %+v", items[0].Validation)
	}

	rec = env.do(t, http.MethodGet, "/api/scanning", nil)
	var status session.Status
	json.Unmarshal(rec.Body.Bytes(), &status)
	if !status.Active || status.Items != 1 {
		t.Errorf("unexpected status %+v", status)
	}

	rec = env.do(t, http.MethodPost, "/api/scanning/stop", nil)
	json.Unmarshal(rec.Body.Bytes(), &status)
	if rec.Code != http.StatusOK || status.Active {
		t.Errorf("expected stopped session, got %d %+v", rec.Code, status)
	}
}

func TestInactiveSessionRejectsFramesAndCaptures(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodPost, "/api/frames", pngFrame(t)); rec.Code != http.StatusConflict {
		t.Errorf("frame upload while stopped: expected 409, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/capture", nil); rec.Code != http.StatusConflict {
		t.Errorf("capture while stopped: expected 409, got %d", rec.Code)
	}
}

func TestPushFrameRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/scanning/start", nil)

	rec := env.do(t, http.MethodPost, "/api/frames", strings.NewReader("not an image"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestEditAndDeleteHistory(t *testing.T) {
	env := newTestEnv(t, "952985")
	env.scan(t)
	id := env.app.Session.Items()[0].ID

	rec := env.do(t, http.MethodPatch, "/api/history/"+id, strings.NewReader(`{"sn":"`+validSN+`"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body)
	}
	var item historyItem
	json.Unmarshal(rec.Body.Bytes(), &item)
	if item.SN != validSN || !item.Validation.IsValid {
		t.Errorf("expected revalidated record, got %+v", item)
	}

	if rec := env.do(t, http.MethodPatch, "/api/history/missing", strings.NewReader(`{"sn":"x"}`)); rec.Code != http.StatusNotFound {
		t.Errorf("edit unknown id: expected 404, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, "/api/history/"+id, strings.NewReader(`{}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("edit without sn: expected 400, got %d", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/api/history/missing", nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete unknown id: expected 204, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodDelete, "/api/history/"+id, nil); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	if len(env.app.Session.Items()) != 0 {
		t.Error("expected empty history")
	}
}

func TestResetBatch(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	if rec := env.do(t, http.MethodPost, "/api/batch/reset", nil); rec.Code != http.StatusConflict {
		t.Errorf("unconfirmed reset: expected 409, got %d", rec.Code)
	}
	if len(env.app.Session.Items()) != 1 {
		t.Fatal("unconfirmed reset cleared history")
	}

	rec := env.do(t, http.MethodPost, "/api/batch/reset?confirm=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: %d %s", rec.Code, rec.Body)
	}
	if len(env.app.Session.Items()) != 0 || !env.app.Session.Active() {
		t.Error("reset should clear history and keep scanning active")
	}
}

func TestExportFlow(t *testing.T) {
	env := newTestEnv(t, validSN)

	if rec := env.do(t, http.MethodPost, "/api/export", nil); rec.Code != http.StatusNoContent {
		t.Errorf("empty export: expected 204, got %d", rec.Code)
	}

	env.scan(t)
	env.do(t, http.MethodPost, "/api/capture", nil)
	env.app.Session.Wait()

	rec := env.do(t, http.MethodPost, "/api/export", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("export: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		Name        string `json:"name"`
		Rows        int    `json:"rows"`
		Duplicates  int    `json:"duplicates"`
		DownloadURL string `json:"download_url"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Rows != 2 || resp.Duplicates != 1 || !strings.HasPrefix(resp.Name, "BATCH_") {
		t.Errorf("unexpected export %+v", resp)
	}

	rec = env.do(t, http.MethodGet, resp.DownloadURL, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download: %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "\ufeff时间,SN") {
		t.Errorf("unexpected csv %q", rec.Body.String())
	}
	if !strings.Contains(lines[1], ",是") || !strings.Contains(lines[2], ",否") {
		t.Errorf("expected newest (duplicate) row first: %q", lines)
	}

	rec = env.do(t, http.MethodGet, "/api/exports", nil)
	var records []database.ExportRecord
	json.Unmarshal(rec.Body.Bytes(), &records)
	if len(records) != 1 || records[0].Filename != resp.Name || records[0].Delivered != database.DeliveredDownload {
		t.Errorf("unexpected ledger %+v", records)
	}
}

func TestDownloadMissingExport(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodGet, "/api/exports/BATCH_0.csv", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDownloadRequiresLedgerRecord(t *testing.T) {
	env := newTestEnv(t)
	name, err := env.app.Storage.SaveFile(strings.NewReader("a,b\n"), storage.FileInfo{Filename: "stray.csv"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rec := env.do(t, http.MethodGet, "/api/exports/"+name, nil); rec.Code != http.StatusNotFound {
		t.Errorf("file outside the ledger should not be served, got %d", rec.Code)
	}
}

func TestDeleteExport(t *testing.T) {
	env := newTestEnv(t)
	env.scan(t)

	rec := env.do(t, http.MethodPost, "/api/export", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("export: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		Name string `json:"name"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)

	if rec := env.do(t, http.MethodDelete, "/api/exports/"+resp.Name, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	if _, err := env.app.Storage.OpenFile(resp.Name); err == nil {
		t.Error("expected the batch file to be removed")
	}
	if rec := env.do(t, http.MethodGet, "/api/exports/"+resp.Name, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted batch should be gone, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/exports", nil)
	var records []database.ExportRecord
	json.Unmarshal(rec.Body.Bytes(), &records)
	if len(records) != 0 {
		t.Errorf("expected empty ledger, got %+v", records)
	}

	if rec := env.do(t, http.MethodDelete, "/api/exports/"+resp.Name, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

// memoryStorage serves files that are not backed by the filesystem.
type memoryStorage struct{}

type memoryFile struct{ *strings.Reader }

func (memoryFile) Close() error { return nil }

func (memoryStorage) SaveFile(r io.Reader, info storage.FileInfo) (string, error) {
	return info.Filename, nil
}
func (memoryStorage) OpenFile(path string) (io.ReadSeekCloser, error) {
	return memoryFile{strings.NewReader("a,b\n")}, nil
}
func (memoryStorage) DeleteFile(path string) error { return nil }

func TestDownloadFromNonFileStorage(t *testing.T) {
	env := newTestEnv(t)
	env.app.Storage = memoryStorage{}

	ledger := env.app.Exports.(*database.ExportRepository)
	err := ledger.Create(context.Background(), &database.ExportRecord{
		ID: "m", Filename: "BATCH_7.csv", RowCount: 1, Delivered: database.DeliveredDownload, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	if rec := env.do(t, http.MethodGet, "/api/exports/BATCH_7.csv", nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %s", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event: scanning")

	env.scan(t)
	waitFor("event: notice")
	if data := waitFor("data: "); !strings.Contains(data, "识别成功") && !strings.Contains(data, `"type":"notice"`) {
		t.Errorf("unexpected notice payload %s", data)
	}
}
