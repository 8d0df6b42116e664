// Package memory is an in-process storage.Store for development and tests.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
	"k8s.io/utils/clock"
)

type cellKey struct {
	row       string
	family    string
	qualifier string
}

// Store keeps cells in a map and honors their expiry on read.
type Store struct {
	mu    sync.RWMutex
	cells map[cellKey]storage.Cell
	clock clock.PassiveClock
}

// New returns an empty store. A nil clock uses the wall clock.
func New(clk clock.PassiveClock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{
		cells: make(map[cellKey]storage.Cell),
		clock: clk,
	}
}

func (s *Store) Put(ctx context.Context, cells []storage.Cell) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cells {
		c.RowKey = bytes.Clone(c.RowKey)
		c.Value = bytes.Clone(c.Value)
		s.cells[cellKey{row: string(c.RowKey), family: c.Family, qualifier: c.Qualifier}] = c
	}
	return nil
}

func (s *Store) Get(ctx context.Context, family string, rowKeys ...[]byte) ([]storage.Cell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]int, len(rowKeys))
	for i, k := range rowKeys {
		wanted[string(k)] = i
	}

	now := s.clock.Now()
	s.mu.RLock()
	var out []storage.Cell
	for k, c := range s.cells {
		if k.family != family || c.Expired(now) {
			continue
		}
		if _, ok := wanted[k.row]; ok {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	// Request order, then qualifier.
	sort.Slice(out, func(i, j int) bool {
		a, b := wanted[string(out[i].RowKey)], wanted[string(out[j].RowKey)]
		if a != b {
			return a < b
		}
		return out[i].Qualifier < out[j].Qualifier
	})
	return out, nil
}

func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.cells {
		if c.Expired(now) {
			delete(s.cells, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored cells, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cells)
}
