package aggregation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/aevon-profiler/internal/core/serde"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

const (
	defaultBatchSize     = 1000
	defaultFlushInterval = 10 * time.Second
	defaultMaxRetries    = 5
	defaultRetryInterval = 100 * time.Millisecond
	errorBuffer          = 64
)

// Sink receives closed windows.
type Sink interface {
	Persist(ctx context.Context, w ClosedWindow) error
	Flush(ctx context.Context) error
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Family        string
	SaltDivisor   int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration // initial backoff interval
	PurgeInterval time.Duration // 0 disables purging
	Clock         clock.WithTicker
	Metrics       *metrics.Metrics
}

func (o WriterOptions) normalized() WriterOptions {
	if o.Family == "" {
		o.Family = "P"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// FlushError reports cells dropped after every retry failed.
type FlushError struct {
	BatchID string
	Cells   int
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush batch %s: dropped %d cells: %v", e.BatchID, e.Cells, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Writer batches profile cells and writes them to a store.
type Writer struct {
	store storage.Store
	keys  storage.RowKeyBuilder
	opts  WriterOptions

	mu    sync.Mutex
	batch []storage.Cell

	flushMu sync.Mutex
	flushCh chan struct{}
	errs    chan error
}

func NewWriter(store storage.Store, opts WriterOptions) *Writer {
	opts = opts.normalized()
	return &Writer{
		store:   store,
		keys:    storage.RowKeyBuilder{SaltDivisor: opts.SaltDivisor},
		opts:    opts,
		flushCh: make(chan struct{}, 1),
		errs:    make(chan error, errorBuffer),
	}
}

// Errors reports batches dropped after exhausting retries. Reports are
// discarded when nobody drains the channel, but are always counted.
func (w *Writer) Errors() <-chan error { return w.errs }

// Persist encodes each non-null result and appends it to the batch. Reaching
// the batch size wakes the flush loop.
func (w *Writer) Persist(_ context.Context, cw ClosedWindow) error {
	def := cw.Profile.Definition()
	rowKey := w.keys.Build(def.Name, cw.Entity, cw.PeriodID)
	now := w.opts.Clock.Now()

	cells := make([]storage.Cell, 0, len(cw.Results))
	for _, r := range cw.Results {
		if r.Value == nil {
			slog.Debug("[Writer] Skipping null result", "profile", def.Name, "entity", cw.Entity, "qualifier", r.Qualifier)
			continue
		}
		value, err := serde.Encode(def.ValueType, r.Value)
		if err != nil {
			return fmt.Errorf("profile %q entity %q: result %s: %w", def.Name, cw.Entity, r.Qualifier, err)
		}
		cells = append(cells, storage.Cell{
			RowKey:    rowKey,
			Family:    w.opts.Family,
			Qualifier: r.Qualifier,
			Value:     value,
			Timestamp: cw.PeriodStart,
			ExpiresAt: now.Add(def.TTL),
		})
	}
	if len(cells) == 0 {
		return nil
	}

	w.mu.Lock()
	w.batch = append(w.batch, cells...)
	full := len(w.batch) >= w.opts.BatchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending is the number of cells waiting to be flushed.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batch)
}

// Flush writes the current batch, retrying with backoff. After the last
// retry the batch is dropped and reported.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.batch
	w.batch = nil
	w.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, w.opts.MaxRetries), ctx)

	batchID := uuid.NewString()
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := w.store.Put(ctx, batch); err != nil {
			w.opts.Metrics.FlushFailed()
			slog.Warn("[Writer] Flush attempt failed",
				"batch_id", batchID,
				"attempt", attempt,
				"cells", len(batch),
				"error", err,
			)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		w.opts.Metrics.RecordsDropped(len(batch))
		ferr := &FlushError{BatchID: batchID, Cells: len(batch), Err: err}
		slog.Error("[Writer] Dropping batch after retries", "batch_id", batchID, "cells", len(batch), "error", err)
		select {
		case w.errs <- ferr:
		default:
		}
		return ferr
	}

	w.opts.Metrics.RecordsWritten(len(batch))
	slog.Debug("[Writer] Flushed batch", "batch_id", batchID, "cells", len(batch), "attempts", attempt)
	return nil
}

// Run flushes on the interval or when a batch fills, and purges expired
// cells. On cancellation it flushes what remains.
func (w *Writer) Run(ctx context.Context) error {
	flushTicker := w.opts.Clock.NewTicker(w.opts.FlushInterval)
	defer flushTicker.Stop()

	var purgeC <-chan time.Time
	if w.opts.PurgeInterval > 0 {
		purgeTicker := w.opts.Clock.NewTicker(w.opts.PurgeInterval)
		defer purgeTicker.Stop()
		purgeC = purgeTicker.C()
	}

	slog.Info("[Writer] Starting",
		"batch_size", w.opts.BatchSize,
		"flush_interval", w.opts.FlushInterval,
		"purge_interval", w.opts.PurgeInterval,
	)

	for {
		select {
		case <-flushTicker.C():
			_ = w.Flush(ctx)
		case <-w.flushCh:
			_ = w.Flush(ctx)
		case <-purgeC:
			w.purge(ctx)
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Writer] Running final flush before shutdown...", "pending", w.Pending())
			if err := w.Flush(shutdownCtx); err != nil {
				return err
			}
			slog.Info("[Writer] Final flush complete")
			return nil
		}
	}
}

func (w *Writer) purge(ctx context.Context) {
	n, err := w.store.PurgeExpired(ctx)
	if err != nil {
		slog.Error("[Writer] Purge failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("[Writer] Purged expired cells", "count", n)
	}
}
