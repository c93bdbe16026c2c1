package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kdimtricp/labelscan/internal/database"
	"github.com/kdimtricp/labelscan/internal/history"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/storage"
)

var ErrNothingToExport = errors.New("nothing to export")

// Ledger records every delivered batch.
type Ledger interface {
	Create(ctx context.Context, rec *database.ExportRecord) error
}

type Batch struct {
	Name       string `json:"name"`
	Rows       int    `json:"rows"`
	Duplicates int    `json:"duplicates"`
	// Delivered is database.DeliveredShare or database.DeliveredDownload.
	Delivered string `json:"delivered"`
}

type Exporter struct {
	storage storage.Storage
	sharer  Sharer
	ledger  Ledger
	locale  Locale
	now     func() time.Time
}

// NewExporter needs storage for the download fallback. sharer and ledger
// may be nil.
func NewExporter(store storage.Storage, sharer Sharer, ledger Ledger, locale Locale) *Exporter {
	return &Exporter{
		storage: store,
		sharer:  sharer,
		ledger:  ledger,
		locale:  locale,
		now:     time.Now,
	}
}

// Export writes rows as one batch file. An empty batch produces no file.
func (e *Exporter) Export(ctx context.Context, rows []history.ScanResult) (*Batch, error) {
	if len(rows) == 0 {
		return nil, ErrNothingToExport
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows, e.locale); err != nil {
		return nil, err
	}

	batch := &Batch{
		Name: fmt.Sprintf("BATCH_%d.csv", e.now().UnixMilli()),
		Rows: len(rows),
	}
	for _, row := range rows {
		if row.Duplicate {
			batch.Duplicates++
		}
	}

	delivered, err := e.deliver(ctx, batch.Name, buf.Bytes())
	if err != nil {
		return nil, err
	}
	batch.Name = delivered.name
	batch.Delivered = delivered.via

	if e.ledger != nil {
		rec := &database.ExportRecord{
			ID:             uuid.New().String(),
			Filename:       batch.Name,
			RowCount:       batch.Rows,
			DuplicateCount: batch.Duplicates,
			Delivered:      batch.Delivered,
			CreatedAt:      e.now(),
		}
		if err := e.ledger.Create(ctx, rec); err != nil {
			// the file is already delivered, losing the ledger line is not fatal
			logging.Log.Warnf("[export] failed to record %s: %v", batch.Name, err)
		}
	}

	logging.Log.WithField("rows", batch.Rows).
		WithField("duplicates", batch.Duplicates).
		Infof("[export] %s delivered via %s", batch.Name, batch.Delivered)
	return batch, nil
}

type delivery struct {
	name string
	via  string
}

func (e *Exporter) deliver(ctx context.Context, name string, data []byte) (delivery, error) {
	if e.sharer != nil {
		err := e.sharer.Share(ctx, name, data)
		switch {
		case err == nil:
			return delivery{name: name, via: database.DeliveredShare}, nil
		case errors.Is(err, ErrShareCancelled):
			logging.Log.Debugf("[export] share cancelled, falling back to download")
		case errors.Is(err, ErrShareUnavailable):
			logging.Log.Infof("[export] share unavailable, falling back to download: %v", err)
		default:
			logging.Log.Warnf("[export] share failed, falling back to download: %v", err)
		}
	}

	if e.storage == nil {
		return delivery{}, fmt.Errorf("no storage configured for %s", name)
	}
	saved, err := e.storage.SaveFile(bytes.NewReader(data), storage.FileInfo{
		Filename:    name,
		ContentType: "text/csv",
		Size:        int64(len(data)),
	})
	if err != nil {
		return delivery{}, fmt.Errorf("storing export: %w", err)
	}
	return delivery{name: saved, via: database.DeliveredDownload}, nil
}
