package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/frames", app.PushFrameHandler)
		r.Post("/capture", app.CaptureHandler)

		r.Get("/scanning", app.ScanningStatusHandler)
		r.Post("/scanning/start", app.StartScanningHandler)
		r.Post("/scanning/stop", app.StopScanningHandler)

		r.Get("/history", app.ListHistoryHandler)
		r.Patch("/history/{id}", app.EditHistoryHandler)
		r.Delete("/history/{id}", app.DeleteHistoryHandler)
		r.Post("/batch/reset", app.ResetBatchHandler)

		r.Post("/export", app.ExportHandler)
		r.Get("/exports", app.ListExportsHandler)
		r.Get("/exports/{name}", app.DownloadExportHandler)
		r.Delete("/exports/{name}", app.DeleteExportHandler)

		r.Get("/events", app.EventsHandler)
	})

	return r
}
