package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/plm/splitpay/domain"
)

// RefundRepo persists domain.Refund rows.
type RefundRepo struct {
	db *sql.DB
}

// Refunds returns a repository bound to this client's pool.
func (c *Client) Refunds() *RefundRepo {
	return &RefundRepo{db: c.db}
}

// Create inserts a new refund row, one per refunded payment (§4.6 refund()).
func (r *RefundRepo) Create(ctx context.Context, rf *domain.Refund) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refunds (id, transaction_id, payment_id, amount_cents, reason, status, initiated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rf.ID, rf.TransactionID, rf.PaymentID, rf.AmountCents, string(rf.Reason), string(rf.Status), string(rf.InitiatedBy),
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// ListByTransaction returns every refund issued against a transaction, used
// to compute the refunded-to-date sum for invariant 6 (§8).
func (r *RefundRepo) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Refund, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transaction_id, payment_id, provider_refund_id, amount_cents, reason, status,
		       initiated_by, failure_reason, created_at, updated_at
		FROM refunds WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var out []*domain.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

func scanRefund(s rowScanner) (*domain.Refund, error) {
	var rf domain.Refund
	var providerRefundID, failureReason sql.NullString
	var reason, status, initiatedBy string
	if err := s.Scan(&rf.ID, &rf.TransactionID, &rf.PaymentID, &providerRefundID, &rf.AmountCents,
		&reason, &status, &initiatedBy, &failureReason, &rf.CreatedAt, &rf.UpdatedAt); err != nil {
		return nil, err
	}
	rf.ProviderRefundID = providerRefundID.String
	rf.Reason = domain.RefundReason(reason)
	rf.Status = domain.RefundStatus(status)
	rf.InitiatedBy = domain.RefundInitiator(initiatedBy)
	rf.FailureReason = failureReason.String
	return &rf, nil
}

// MarkSucceeded records the provider-confirmed refund id.
func (r *RefundRepo) MarkSucceeded(ctx context.Context, id, providerRefundID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refunds SET status = $1, provider_refund_id = $2 WHERE id = $3`,
		string(domain.RefundSucceeded), providerRefundID, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("refund not found")
	}
	return nil
}

// MarkFailed records why a refund attempt did not complete.
func (r *RefundRepo) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refunds SET status = $1, failure_reason = $2 WHERE id = $3`,
		string(domain.RefundFailed), reason, id,
	)
	return err
}
