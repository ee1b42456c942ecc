package persistence

import (
	"StableVault/internal/engine"
	"StableVault/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// OperationLogWorker drains the engine's record channel and batch-writes to
// Postgres. It runs independently from the engine: the engine's sends are
// non-blocking, so a wedged database slows the audit trail, never the books.
type OperationLogWorker struct {
	writer       *OperationLogWriter
	input        <-chan engine.Record
	batchSize    int
	flushTimeout time.Duration
	log          zerolog.Logger
	metrics      *observability.Metrics
}

func NewOperationLogWorker(
	db *sql.DB,
	input <-chan engine.Record,
	batchSize int,
	flushTimeout time.Duration,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *OperationLogWorker {
	return &OperationLogWorker{
		writer:       NewOperationLogWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		log:          log,
		metrics:      metrics,
	}
}

// Run batches incoming records and flushes when the batch fills or the
// flush timeout expires. Blocks until ctx is cancelled or input closes.
func (w *OperationLogWorker) Run(ctx context.Context) error {
	batch := make([]OperationRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.writer.WriteBatch(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("final oplog flush failed")
				}
			}
			return ctx.Err()

		case rec, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.writer.WriteBatch(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("rows", len(batch)).Msg("final oplog flush failed")
					}
				}
				return nil
			}

			batch = append(batch, RowFromRecord(rec))
			w.metrics.OpLogQueueSize.Set(float64(len(batch)))

			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				w.metrics.OpLogQueueSize.Set(0)
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				w.metrics.OpLogQueueSize.Set(0)
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled; on cancellation it makes one final attempt
// with a background context so the batch is not lost to shutdown.
func (w *OperationLogWorker) flushWithRetry(ctx context.Context, batch []OperationRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("rows", len(batch)).
				Msg("oplog flush retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("rows", len(batch)).Msg("oplog flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("oplog flush recovered")
			}
			return
		} else {
			w.log.Error().Err(err).Msg("oplog flush failed")
		}
	}
}

func (w *OperationLogWorker) flush(ctx context.Context, batch []OperationRow) error {
	start := time.Now()
	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	w.metrics.OpLogBatchDur.Observe(time.Since(start).Seconds())
	w.metrics.OpLogWrites.Add(float64(len(batch)))
	return nil
}

// Writer exposes the underlying writer for reads.
func (w *OperationLogWorker) Writer() *OperationLogWriter {
	return w.writer
}
