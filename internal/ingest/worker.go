// Package ingest turns the at-least-once bus stream into a durable,
// deduplicated, per-deployment ordered log. One worker runs per assigned
// partition; the commit position only advances past a batch once every event
// in it is confirmed written.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/berth-dev/berth/internal/bus"
	"github.com/berth-dev/berth/internal/domain"
	"github.com/berth-dev/berth/internal/repository"
	"github.com/berth-dev/berth/pkg/config"
)

// Worker consumes one partition for the ingestion consumer group.
type Worker struct {
	consumer bus.PartitionConsumer
	store    repository.EventStore
	logger   *slog.Logger
	cfg      config.IngestConfig
	metrics  *Metrics
}

// NewWorker wires a partition consumer to the log store.
func NewWorker(consumer bus.PartitionConsumer, store repository.EventStore, logger *slog.Logger, cfg config.IngestConfig, metrics *Metrics) *Worker {
	return &Worker{
		consumer: consumer,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// Run polls the partition until the context is cancelled. A periodic claim
// pass takes over entries a stalled group member pulled but never acked, so
// correctness does not depend on any single consumer instance staying alive.
func (w *Worker) Run(ctx context.Context) {
	claim := time.NewTicker(w.cfg.ClaimInterval)
	defer claim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-claim.C:
			batch, err := w.consumer.Claim(ctx, w.cfg.ClaimMinIdle, w.cfg.BatchSize)
			if err != nil {
				w.logger.Warn("claim failed", "error", err)
				continue
			}
			if batch != nil {
				w.metrics.BatchesClaimed.Inc()
				w.handleBatch(ctx, batch)
			}
		default:
			batch, err := w.consumer.Poll(ctx, w.cfg.BatchSize, w.cfg.BlockTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Warn("poll failed", "error", err)
				w.sleep(ctx, w.cfg.RetryBase)
				continue
			}
			if batch != nil {
				w.handleBatch(ctx, batch)
			}
		}
	}
}

// handleBatch persists then commits. Redelivered events collapse on insert,
// so replaying a batch after a crash between write and ack is harmless. On a
// store failure the batch is retried with bounded backoff; if retries run
// out the commit position stays put and the claim pass retries the batch on
// a later cycle. Batches are never dropped.
func (w *Worker) handleBatch(ctx context.Context, batch *bus.Batch) {
	events := make([]domain.LogEvent, 0, len(batch.Events))
	for _, event := range batch.Events {
		events = append(events, event.ToDomain())
	}

	backoff := w.cfg.RetryBase
	inserted := 0
	for attempt := 0; ; attempt++ {
		var err error
		inserted, err = w.store.InsertEvents(ctx, events)
		if err == nil {
			break
		}
		if attempt >= w.cfg.RetryAttempts {
			w.metrics.DurabilityFailures.Inc()
			w.logger.Error("batch not persisted after retries, leaving unacked",
				"partition", batch.Partition,
				"events", len(events),
				"stream_ids", batch.IDs(),
				"attempts", attempt+1,
				"error", err,
			)
			return
		}
		w.metrics.BatchRetries.Inc()
		w.logger.Warn("store write failed, retrying",
			"partition", batch.Partition,
			"attempt", attempt+1,
			"error", err,
		)
		if !w.sleep(ctx, backoff) {
			return
		}
		backoff *= 2
		if backoff > w.cfg.RetryCap {
			backoff = w.cfg.RetryCap
		}
	}

	w.metrics.EventsPersisted.Add(float64(inserted))
	if dupes := len(events) - inserted; dupes > 0 {
		w.metrics.DuplicatesCollapsed.Add(float64(dupes))
	}

	if err := w.consumer.Commit(ctx, batch); err != nil {
		// The events are stored; a failed ack only means redelivery, which
		// the idempotent insert absorbs.
		w.metrics.CommitFailures.Inc()
		w.logger.Warn("commit failed after durable write", "partition", batch.Partition, "error", err)
		return
	}
	w.metrics.BatchesCommitted.Inc()
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
