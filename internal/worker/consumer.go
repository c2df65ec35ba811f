package worker

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
)

// message is a decoded event still owed an ack or nack.
type message struct {
	event    events.PaymentEvent
	delivery amqp.Delivery
}

// startMessageDispatcher decodes deliveries and hands payment.completed
// events to the pool. It returns when ctx is done, Stop is called or the
// delivery channel closes.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started", slog.String("worker_id", w.workerID))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			event, err := events.Decode(delivery.Body)
			if err != nil {
				w.logger.Error("Failed to decode payment event",
					slog.String("error", err.Error()),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
				// Malformed messages go to the dead-letter queue.
				w.nack(delivery, event.JobID, false)
				continue
			}

			if event.Type != domain.EventPaymentCompleted {
				w.logger.Debug("Payment event needs no action",
					slog.String("event_id", event.EventID),
					slog.String("type", event.Type),
				)
				w.ack(delivery, event.JobID)
				continue
			}

			select {
			case w.jobsChan <- &message{event: event, delivery: delivery}:
				w.logger.Debug("Event dispatched to worker pool",
					slog.String("job_id", event.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.nack(delivery, event.JobID, true)
				return
			case <-w.stopChan:
				w.nack(delivery, event.JobID, true)
				return
			}
		}
	}
}

func (w *Worker) ack(delivery amqp.Delivery, jobID string) {
	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(delivery amqp.Delivery, jobID string, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("job_id", jobID),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("Message NACKed",
		slog.String("job_id", jobID),
		slog.Bool("requeue", requeue),
	)
}
