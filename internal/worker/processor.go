package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobpay/internal/events"
)

// processEvent ensures the payout of a completed payment exists.
func (w *Worker) processEvent(ctx context.Context, event events.PaymentEvent) error {
	ctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	payout, created, err := w.payouts.CreateForJob(ctx, event.JobID)
	if err != nil {
		return fmt.Errorf("failed to ensure payout for job %s: %w", event.JobID, err)
	}

	if created {
		// The API normally creates the payout in the same request that
		// completed the payment; reaching here means it did not.
		w.logger.Warn("Payout created by worker",
			slog.String("job_id", event.JobID),
			slog.String("payout_id", payout.ID),
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	w.logger.Info("Payout already present",
		slog.String("job_id", event.JobID),
		slog.String("payout_id", payout.ID),
		slog.String("status", payout.Status),
	)
	return nil
}
