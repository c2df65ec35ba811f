package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
)

const payoutColumns = `
	id, job_id, provider_id, payment_reference, amount, tip_amount, platform_fee,
	net_amount, status, payout_method_id, subaccount_id, created_at, completed_at`

const payoutMethodColumns = `
	id, provider_id, method_type, bank_code, account_number, account_name, phone,
	is_default, subaccount_id, created_at, updated_at`

// CreatePayoutIfAbsent inserts the payout for a job. The unique job_id
// constraint makes a second insert a no-op reported as false.
func (s *Storage) CreatePayoutIfAbsent(ctx context.Context, payout *domain.Payout) (bool, error) {
	query := s.q(`
		INSERT INTO payouts (` + payoutColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING
	`)

	ok, err := exec(ctx, s.db, query,
		payout.ID, payout.JobID, payout.ProviderID, payout.PaymentReference,
		payout.Amount, payout.TipAmount, payout.PlatformFee, payout.NetAmount,
		payout.Status, payout.PayoutMethodID, payout.SubaccountID,
		payout.CreatedAt, payout.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create payout: %w", err)
	}

	if ok {
		s.logger.Info("Payout created",
			slog.String("job_id", payout.JobID),
			slog.String("payout_id", payout.ID),
			slog.String("status", payout.Status),
		)
	}

	return ok, nil
}

func (s *Storage) GetPayoutByJob(ctx context.Context, jobID string) (*domain.Payout, error) {
	var payout domain.Payout
	query := s.q(`SELECT ` + payoutColumns + ` FROM payouts WHERE job_id = ?`)

	if err := s.db.GetContext(ctx, &payout, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", notFound(err, domain.ErrPayoutNotFound))
	}

	return &payout, nil
}

// SavePayoutMethod inserts a payout method. When it is marked default the
// provider's previous default is cleared first in the same transaction.
func (s *Storage) SavePayoutMethod(ctx context.Context, method *domain.PayoutMethod) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if method.IsDefault {
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE payout_methods
			SET is_default = FALSE, updated_at = ?
			WHERE provider_id = ? AND is_default = TRUE
		`), method.UpdatedAt, method.ProviderID)
		if err != nil {
			return fmt.Errorf("failed to unset default payout method: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO payout_methods (`+payoutMethodColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		method.ID, method.ProviderID, method.MethodType, method.BankCode,
		method.AccountNumber, method.AccountName, method.Phone,
		method.IsDefault, method.SubaccountID, method.CreatedAt, method.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payout method: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (s *Storage) GetPayoutMethod(ctx context.Context, methodID string) (*domain.PayoutMethod, error) {
	var method domain.PayoutMethod
	query := s.q(`SELECT ` + payoutMethodColumns + ` FROM payout_methods WHERE id = ?`)

	if err := s.db.GetContext(ctx, &method, query, methodID); err != nil {
		return nil, fmt.Errorf("failed to get payout method: %w", notFound(err, domain.ErrPayoutMethodNotFound))
	}

	return &method, nil
}

func (s *Storage) GetDefaultPayoutMethod(ctx context.Context, providerID string) (*domain.PayoutMethod, error) {
	var method domain.PayoutMethod
	query := s.q(`
		SELECT ` + payoutMethodColumns + ` FROM payout_methods
		WHERE provider_id = ? AND is_default = TRUE
	`)

	if err := s.db.GetContext(ctx, &method, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to get default payout method: %w", notFound(err, domain.ErrPayoutMethodNotFound))
	}

	return &method, nil
}

func (s *Storage) ListPayoutMethods(ctx context.Context, providerID string) ([]domain.PayoutMethod, error) {
	methods := []domain.PayoutMethod{}
	query := s.q(`
		SELECT ` + payoutMethodColumns + ` FROM payout_methods
		WHERE provider_id = ?
		ORDER BY is_default DESC, created_at DESC, id DESC
	`)

	if err := s.db.SelectContext(ctx, &methods, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to list payout methods: %w", err)
	}

	return methods, nil
}

// SetDefaultPayoutMethod makes methodID the provider's only default.
func (s *Storage) SetDefaultPayoutMethod(ctx context.Context, providerID, methodID string, at time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE payout_methods
		SET is_default = FALSE, updated_at = ?
		WHERE provider_id = ? AND is_default = TRUE AND id <> ?
	`), at, providerID, methodID)
	if err != nil {
		return fmt.Errorf("failed to unset default payout method: %w", err)
	}

	ok, err := exec(ctx, tx, tx.Rebind(`
		UPDATE payout_methods
		SET is_default = TRUE, updated_at = ?
		WHERE id = ? AND provider_id = ?
	`), at, methodID, providerID)
	if err != nil {
		return fmt.Errorf("failed to set default payout method: %w", err)
	}

	if !ok {
		return domain.ErrPayoutMethodNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SetPayoutMethodSubaccount records the gateway sub-account once. A method
// that already has one is left as is and false is returned.
func (s *Storage) SetPayoutMethodSubaccount(ctx context.Context, methodID, subaccountID string, at time.Time) (bool, error) {
	query := s.q(`
		UPDATE payout_methods
		SET subaccount_id = ?, updated_at = ?
		WHERE id = ? AND subaccount_id IS NULL
	`)

	ok, err := exec(ctx, s.db, query, subaccountID, at, methodID)
	if err != nil {
		return false, fmt.Errorf("failed to set payout method subaccount: %w", err)
	}

	return ok, nil
}
