package storage

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("store closed")

// Cell is one persisted profile value: a single qualifier in a row.
type Cell struct {
	RowKey    []byte
	Family    string
	Qualifier string
	Value     []byte
	Timestamp time.Time // period start the value describes
	ExpiresAt time.Time // zero means never
}

// Expired reports whether the cell is no longer readable at now.
func (c Cell) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Store persists profile cells.
type Store interface {
	// Put writes all cells or none. Existing cells with the same
	// (row key, family, qualifier) are replaced.
	Put(ctx context.Context, cells []Cell) error

	// Get returns the live cells of the given rows in one family.
	// Missing rows are skipped.
	Get(ctx context.Context, family string, rowKeys ...[]byte) ([]Cell, error)

	// PurgeExpired deletes expired cells and returns how many were removed.
	PurgeExpired(ctx context.Context) (int64, error)
}
