package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kdimtricp/labelscan/internal/camera"
	"github.com/kdimtricp/labelscan/internal/database"
	"github.com/kdimtricp/labelscan/internal/export"
	"github.com/kdimtricp/labelscan/internal/history"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/session"
	"github.com/kdimtricp/labelscan/internal/snvalidate"
	"github.com/kdimtricp/labelscan/internal/storage"
)

// ExportLedger records delivered batches. Only batches it knows about can
// be downloaded or deleted.
type ExportLedger interface {
	List(ctx context.Context, limit int) ([]database.ExportRecord, error)
	GetByFilename(ctx context.Context, filename string) (*database.ExportRecord, error)
	Delete(ctx context.Context, filename string) error
}

type App struct {
	Session       *session.Service
	Frames        *camera.PushSource
	Storage       storage.Storage
	Exports       ExportLedger
	MaxUploadSize int64
}

type historyItem struct {
	history.ScanResult
	Validation snvalidate.Result `json:"validation"`
}

func newHistoryItem(r history.ScanResult) historyItem {
	return historyItem{ScanResult: r, Validation: r.Validation()}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Log.Warnf("[api] failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// PushFrameHandler accepts a JPEG or PNG still from the client camera.
func (app *App) PushFrameHandler(w http.ResponseWriter, r *http.Request) {
	if app.Frames == nil {
		writeError(w, http.StatusNotImplemented, "frame upload is not enabled")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)

	img, err := camera.DecodeFrame(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid frame: "+err.Error())
		return
	}

	if err := app.Frames.Push(img); err != nil {
		if errors.Is(err, camera.ErrNotAcquired) {
			writeError(w, http.StatusConflict, session.ErrNotActive.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) CaptureHandler(w http.ResponseWriter, r *http.Request) {
	accepted, err := app.Session.TriggerCapture(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	status := http.StatusAccepted
	if !accepted {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]bool{"accepted": accepted})
}

func (app *App) ScanningStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.Session.Status())
}

func (app *App) StartScanningHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Session.Activate(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, app.Session.Status())
		return
	}
	writeJSON(w, http.StatusOK, app.Session.Status())
}

func (app *App) StopScanningHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.Session.Deactivate(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, app.Session.Status())
}

func (app *App) ListHistoryHandler(w http.ResponseWriter, r *http.Request) {
	items := app.Session.Items()
	out := make([]historyItem, len(items))
	for i, item := range items {
		out[i] = newHistoryItem(item)
	}
	writeJSON(w, http.StatusOK, out)
}

type editRequest struct {
	SN *string `json:"sn"`
}

func (app *App) EditHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req editRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || req.SN == nil {
		writeError(w, http.StatusBadRequest, `expected {"sn": "..."}`)
		return
	}

	if !app.Session.EditSN(id, *req.SN) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	item, _ := app.Session.Get(id)
	writeJSON(w, http.StatusOK, newHistoryItem(item))
}

// DeleteHistoryHandler treats unknown ids as already deleted.
func (app *App) DeleteHistoryHandler(w http.ResponseWriter, r *http.Request) {
	app.Session.Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (app *App) ResetBatchHandler(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	reset, err := app.Session.ResetBatch(r.Context(), confirm)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, app.Session.Status())
		return
	}
	if !reset {
		writeError(w, http.StatusConflict, "nothing to reset or not confirmed")
		return
	}
	writeJSON(w, http.StatusOK, app.Session.Status())
}

type exportResponse struct {
	*export.Batch
	DownloadURL string `json:"download_url,omitempty"`
}

func (app *App) ExportHandler(w http.ResponseWriter, r *http.Request) {
	batch, err := app.Session.Export(r.Context())
	if err != nil {
		if errors.Is(err, export.ErrNothingToExport) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		logging.Log.Errorf("[api] export failed: %v", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	resp := exportResponse{Batch: batch}
	if batch.Delivered == database.DeliveredDownload {
		resp.DownloadURL = "/api/exports/" + batch.Name
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (app *App) ListExportsHandler(w http.ResponseWriter, r *http.Request) {
	if app.Exports == nil {
		writeJSON(w, http.StatusOK, []database.ExportRecord{})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := app.Exports.List(r.Context(), limit)
	if err != nil {
		logging.Log.Errorf("[api] listing exports: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	if records == nil {
		records = []database.ExportRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// lookupExport resolves a batch name against the ledger, writing the error
// response itself when it returns nil.
func (app *App) lookupExport(w http.ResponseWriter, r *http.Request, name string) *database.ExportRecord {
	if app.Exports == nil {
		http.NotFound(w, r)
		return nil
	}
	rec, err := app.Exports.GetByFilename(r.Context(), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.NotFound(w, r)
			return nil
		}
		logging.Log.Errorf("[api] looking up export %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to look up export")
		return nil
	}
	return rec
}

func (app *App) DownloadExportHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rec := app.lookupExport(w, r, name)
	if rec == nil {
		return
	}
	// shared batches were never stored locally
	if rec.Delivered != database.DeliveredDownload {
		http.NotFound(w, r)
		return
	}

	file, err := app.Storage.OpenFile(name)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			writeError(w, http.StatusBadRequest, "invalid file name")
			return
		}
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	statter, ok := file.(interface{ Stat() (os.FileInfo, error) })
	if !ok {
		logging.Log.Errorf("[api] export %s: storage file has no Stat", name)
		http.Error(w, "Error accessing export file", http.StatusInternalServerError)
		return
	}
	stat, err := statter.Stat()
	if err != nil {
		http.Error(w, "Error accessing export file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+stat.Name()+`"`)
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
}

// DeleteExportHandler removes a batch file and its ledger line.
func (app *App) DeleteExportHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rec := app.lookupExport(w, r, name)
	if rec == nil {
		return
	}

	if rec.Delivered == database.DeliveredDownload {
		err := app.Storage.DeleteFile(name)
		switch {
		case err == nil, errors.Is(err, fs.ErrNotExist):
		case errors.Is(err, storage.ErrInvalidPath):
			writeError(w, http.StatusBadRequest, "invalid file name")
			return
		default:
			logging.Log.Errorf("[api] deleting export file %s: %v", name, err)
			writeError(w, http.StatusInternalServerError, "failed to delete export")
			return
		}
	}

	if err := app.Exports.Delete(r.Context(), name); err != nil && !errors.Is(err, sql.ErrNoRows) {
		logging.Log.Errorf("[api] deleting export record %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "failed to delete export")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
