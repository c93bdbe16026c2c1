package main

import (
	"fmt"

	"github.com/kdimtricp/labelscan/internal/config"
	"github.com/kdimtricp/labelscan/internal/database"
	"github.com/kdimtricp/labelscan/internal/export"
	"github.com/kdimtricp/labelscan/internal/logging"
	"github.com/kdimtricp/labelscan/internal/ocr"
	"github.com/kdimtricp/labelscan/internal/session"
	"github.com/kdimtricp/labelscan/internal/storage"
)

// components are the collaborators shared by serve and scan.
type components struct {
	db         *database.DB
	ledger     *database.ExportRepository
	storage    *storage.LocalStorage
	recognizer ocr.Recognizer
	exporter   *export.Exporter
}

func (c *components) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func openDatabase(cfg *config.Config) (*database.DB, error) {
	path, err := config.ExpandPath(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	db, err := database.NewDB(database.Config{SQLitePath: path})
	if err != nil {
		return nil, fmt.Errorf("opening export ledger %s: %w", path, err)
	}
	return db, nil
}

func buildComponents(cfg *config.Config) (*components, error) {
	exportDir, err := config.ExpandPath(cfg.Export.Dir)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewLocalStorage(exportDir)
	if err != nil {
		return nil, err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	ledger := database.NewExportRepository(db)

	recognizer, err := ocr.New(cfg.OCRConfig())
	if err != nil {
		if ocr.KindOf(err) != ocr.KindNotConfigured {
			db.Close()
			return nil, err
		}
		logging.Log.Warnf("OCR is not configured, every capture will fail: %v", err)
		recognizer = ocr.Unconfigured(err)
	}

	var sharer export.Sharer
	if cfg.Export.ShareURL != "" {
		sharer = export.NewWebhookSharer(cfg.Export.ShareURL, cfg.Export.ShareTimeout, cfg.OCR.RetryMax)
	}

	return &components{
		db:         db,
		ledger:     ledger,
		storage:    store,
		recognizer: recognizer,
		exporter:   export.NewExporter(store, sharer, ledger, export.ParseLocale(cfg.Export.Locale)),
	}, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Stability: cfg.StabilityConfig(),
		Capture:   cfg.CaptureConfig(),
	}
}
