package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobpay/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned",
		slog.String("worker_id", w.workerID),
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop processes events until jobsChan is closed. Events already
// dispatched are always acked or nacked, even during shutdown.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)

	for msg := range w.jobsChan {
		err := w.processEvent(ctx, msg.event)
		if err == nil {
			w.ack(msg.delivery, msg.event.JobID)
			continue
		}

		requeue := shouldRequeue(err, msg.delivery.Redelivered)
		w.logger.Error("Payment event processing failed",
			slog.String("worker_name", workerName),
			slog.String("job_id", msg.event.JobID),
			slog.String("kind", domain.KindOf(err).String()),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		w.nack(msg.delivery, msg.event.JobID, requeue)
	}
}

// shouldRequeue decides whether a failed event is worth another attempt.
// Domain errors other than retryable ones are permanent. Infrastructure
// errors get one redelivery before the message is dead-lettered.
func shouldRequeue(err error, redelivered bool) bool {
	if domain.IsRetryable(err) {
		return true
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return false
	}
	return !redelivered
}
