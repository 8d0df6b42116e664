package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCellRow scans one profile_cells row.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanCellRow(row scanner) (storage.Cell, error) {
	var (
		c         storage.Cell
		expiresAt sql.NullTime
	)
	if err := row.Scan(&c.RowKey, &c.Family, &c.Qualifier, &c.Value, &c.Timestamp, &expiresAt); err != nil {
		return storage.Cell{}, fmt.Errorf("failed to scan cell row: %w", err)
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time
	}
	return c, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
