package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/plm/splitpay/domain"
)

// PaymentRepo persists domain.Payment rows.
type PaymentRepo struct {
	db *sql.DB
}

// Payments returns a repository bound to this client's pool.
func (c *Client) Payments() *PaymentRepo {
	return &PaymentRepo{db: c.db}
}

// Create inserts a new payment row, one per authorized card (§3, §4.6).
func (r *PaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, transaction_id, provider_intent_id, amount_cents, status)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.TransactionID, p.ProviderIntentID, p.AmountCents, string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment by its internal id.
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.scanOne(ctx, `WHERE id = $1`, id)
}

// GetByProviderIntentID is the webhook-reconciliation lookup key (§4.8).
func (r *PaymentRepo) GetByProviderIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	return r.scanOne(ctx, `WHERE provider_intent_id = $1`, intentID)
}

// ListByTransaction returns every payment belonging to a transaction, used
// by the orchestrator to evaluate invariants 2-5 (§4.6, §8).
func (r *PaymentRepo) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, transaction_id, provider_intent_id, provider_method_id, amount_cents,
		       card_brand, card_last_four, card_exp_month, card_exp_year, status,
		       failure_code, failure_message, authorized_at, captured_at, voided_at,
		       created_at, updated_at
		FROM payments WHERE transaction_id = $1 ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(s rowScanner) (*domain.Payment, error) {
	var p domain.Payment
	var methodID, brand, lastFour, failCode, failMsg sql.NullString
	var expMonth, expYear sql.NullInt64
	var authorizedAt, capturedAt, voidedAt sql.NullTime
	var status string
	if err := s.Scan(&p.ID, &p.TransactionID, &p.ProviderIntentID, &methodID, &p.AmountCents,
		&brand, &lastFour, &expMonth, &expYear, &status, &failCode, &failMsg,
		&authorizedAt, &capturedAt, &voidedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ProviderMethodID = methodID.String
	p.CardBrand = brand.String
	p.CardLastFour = lastFour.String
	p.CardExpMonth = int(expMonth.Int64)
	p.CardExpYear = int(expYear.Int64)
	p.Status = domain.PaymentStatus(status)
	p.FailureCode = failCode.String
	p.FailureMessage = failMsg.String
	if authorizedAt.Valid {
		p.AuthorizedAt = &authorizedAt.Time
	}
	if capturedAt.Valid {
		p.CapturedAt = &capturedAt.Time
	}
	if voidedAt.Valid {
		p.VoidedAt = &voidedAt.Time
	}
	return &p, nil
}

func (r *PaymentRepo) scanOne(ctx context.Context, where string, args ...interface{}) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, provider_intent_id, provider_method_id, amount_cents,
		       card_brand, card_last_four, card_exp_month, card_exp_year, status,
		       failure_code, failure_message, authorized_at, captured_at, voided_at,
		       created_at, updated_at
		FROM payments `+where, args...)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	return p, err
}

// UpdateStatus persists a payment status transition and its timestamp.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	var col string
	switch status {
	case domain.PaymentAuthorized:
		col = "authorized_at"
	case domain.PaymentCaptured:
		col = "captured_at"
	case domain.PaymentVoided:
		col = "voided_at"
	}

	query := `UPDATE payments SET status = $1`
	args := []interface{}{string(status)}
	if col != "" {
		query += fmt.Sprintf(`, %s = now()`, col)
	}
	query += fmt.Sprintf(` WHERE id = $%d`, len(args)+1)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

// SetFailure records a decline/error and marks the payment failed.
func (r *PaymentRepo) SetFailure(ctx context.Context, id, code, message string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payments SET status = $1, failure_code = $2, failure_message = $3 WHERE id = $4`,
		string(domain.PaymentFailed), code, message, id,
	)
	return err
}

// SetCardDetails records the card metadata returned by the provider once
// the payment method is attached (§4.6).
func (r *PaymentRepo) SetCardDetails(ctx context.Context, id, methodID, brand, lastFour string, expMonth, expYear int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET provider_method_id = $1, card_brand = $2, card_last_four = $3, card_exp_month = $4, card_exp_year = $5
		WHERE id = $6`,
		methodID, brand, lastFour, expMonth, expYear, id,
	)
	return err
}
