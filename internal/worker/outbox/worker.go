package outbox

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ivmironov/order-saga/internal/dal/interfaces/ioutboxrepo"
	"github.com/spf13/viper"
)

type publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Worker relays committed outbox rows to the broker. A row is deleted only
// after the broker accepts it, so every staged fact is eventually published
// at least once.
type Worker struct {
	outboxRepo   ioutboxrepo.IOutboxRepository
	publisher    publisher
	pollInterval time.Duration
	batchSize    int
	stopCh       chan struct{}
}

// NewWorker creates a new outbox worker.
func NewWorker(outboxRepo ioutboxrepo.IOutboxRepository, pub publisher) *Worker {
	pollIntervalSeconds := viper.GetInt("outbox.poll_interval_seconds")
	if pollIntervalSeconds == 0 {
		pollIntervalSeconds = 1
	}

	batchSize := viper.GetInt("outbox.batch_size")
	if batchSize == 0 {
		batchSize = 100
	}

	return &Worker{
		outboxRepo:   outboxRepo,
		publisher:    pub,
		pollInterval: time.Duration(pollIntervalSeconds) * time.Second,
		batchSize:    batchSize,
		stopCh:       make(chan struct{}),
	}
}

// Start begins relaying messages. Blocks until ctx is cancelled or Stop is
// called.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Outbox worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Outbox worker stopped")

			return
		case <-ticker.C:
			w.processMessages(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

func (w *Worker) processMessages(ctx context.Context) {
	messages, err := w.outboxRepo.GetPendingMessages(ctx, w.batchSize)
	if err != nil {
		slog.Error("Failed to get pending messages from outbox", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Processing outbox messages", "count", len(messages))

	for _, msg := range messages {
		err := w.publisher.Publish(ctx, msg.Topic, msg.PartitionKey, msg.Payload)
		if err != nil {
			newRetryCount := msg.RetryCount + 1
			backoffSeconds := math.Pow(2, float64(newRetryCount)) * 30 // 60s, 120s, 240s, etc.
			nextRetryAt := time.Now().Add(time.Duration(backoffSeconds) * time.Second)

			slog.Warn("Failed to publish message from outbox, will retry",
				"outbox_id", msg.ID,
				"topic", msg.Topic,
				"retry_count", newRetryCount,
				"next_retry", nextRetryAt,
				"error", err,
			)

			if err := w.outboxRepo.UpdateRetry(ctx, msg.ID, newRetryCount, err.Error(), nextRetryAt); err != nil {
				slog.Error("Failed to update retry information", "outbox_id", msg.ID, "error", err)
			}

			continue
		}

		if err := w.outboxRepo.Delete(ctx, msg.ID); err != nil {
			// The next relay of this row is a duplicate publish, which
			// consumers already tolerate.
			slog.Error("Failed to delete message from outbox after successful publish",
				"outbox_id", msg.ID,
				"error", err,
			)

			continue
		}

		slog.Info("Message successfully published and removed from outbox", "outbox_id", msg.ID)
	}
}
