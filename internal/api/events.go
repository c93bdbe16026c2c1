package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/session"
)

// EventsHandler streams session updates as server-sent events. The first
// event is always the current scanning status.
func (app *App) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, unsubscribe := app.Session.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	status := app.Session.Status()
	writeEvent(w, session.Update{Type: session.UpdateScanning, Status: &status})
	flusher.Flush()

	clientGone := r.Context().Done()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			writeEvent(w, update)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, update session.Update) {
	data, err := json.Marshal(update)
	if err != nil {
		logging.Log.Warnf("[api] error marshaling update: %v", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, data)
}
