// Package worker consumes payment events from RabbitMQ and makes sure every
// completed payment has its payout, healing a crash between payment
// completion and payout insert on the API side.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer is the broker side the worker reads from.
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// PayoutCreator creates a job's payout idempotently.
type PayoutCreator interface {
	CreateForJob(ctx context.Context, jobID string) (*domain.Payout, bool, error)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Consumer    Consumer
	Payouts     PayoutCreator
	WorkerID    string
	Concurrency int
	JobTimeout  time.Duration
}

// Worker represents the background payment event worker
type Worker struct {
	logger      *slog.Logger
	consumer    Consumer
	payouts     PayoutCreator
	workerID    string
	concurrency int
	jobTimeout  time.Duration
	jobsChan    chan *message
	wg          sync.WaitGroup
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}

	return &Worker{
		logger:      cfg.Logger,
		consumer:    cfg.Consumer,
		payouts:     cfg.Payouts,
		workerID:    cfg.WorkerID,
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
		jobsChan:    make(chan *message, concurrency),
		stopChan:    make(chan struct{}),
	}
}

// Start consumes events until ctx is cancelled or the delivery channel
// closes, then waits for in-flight events to finish.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.consumer.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop signals the worker goroutines to exit after their current event.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
