package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	DeliveredShare    = "share"
	DeliveredDownload = "download"
)

// ExportRecord is one line of the export ledger. Scan history itself is
// never persisted.
type ExportRecord struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	RowCount       int       `json:"row_count"`
	DuplicateCount int       `json:"duplicate_count"`
	Delivered      string    `json:"delivered"`
	CreatedAt      time.Time `json:"created_at"`
}

type ExportRepository struct {
	db *DB
}

func NewExportRepository(db *DB) *ExportRepository {
	return &ExportRepository{db: db}
}

func (r *ExportRepository) Create(ctx context.Context, rec *ExportRecord) error {
	query := `
		INSERT INTO exports (id, filename, row_count, duplicate_count, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.conn.ExecContext(ctx, query,
		rec.ID, rec.Filename, rec.RowCount, rec.DuplicateCount, rec.Delivered, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert export record: %w", err)
	}
	return nil
}

// List returns the ledger newest first. A limit of zero returns everything.
func (r *ExportRepository) List(ctx context.Context, limit int) ([]ExportRecord, error) {
	query := `
		SELECT id, filename, row_count, duplicate_count, delivered, created_at
		FROM exports
		ORDER BY created_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	var records []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.RowCount, &rec.DuplicateCount, &rec.Delivered, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan export record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetByFilename is used to check a download name against the ledger.
func (r *ExportRepository) GetByFilename(ctx context.Context, filename string) (*ExportRecord, error) {
	query := `
		SELECT id, filename, row_count, duplicate_count, delivered, created_at
		FROM exports WHERE filename = ?`

	var rec ExportRecord
	err := r.db.conn.QueryRowContext(ctx, query, filename).
		Scan(&rec.ID, &rec.Filename, &rec.RowCount, &rec.DuplicateCount, &rec.Delivered, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get export %s: %w", filename, err)
	}
	return &rec, nil
}

// Delete removes a ledger line. A missing filename wraps sql.ErrNoRows.
func (r *ExportRepository) Delete(ctx context.Context, filename string) error {
	res, err := r.db.conn.ExecContext(ctx, `DELETE FROM exports WHERE filename = ?`, filename)
	if err != nil {
		return fmt.Errorf("failed to delete export %s: %w", filename, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to delete export %s: %w", filename, sql.ErrNoRows)
	}
	return nil
}
