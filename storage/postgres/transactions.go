package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/plm/splitpay/domain"
)

// TransactionRepo persists domain.Transaction rows.
type TransactionRepo struct {
	db *sql.DB
}

// Transactions returns a repository bound to this client's pool.
func (c *Client) Transactions() *TransactionRepo {
	return &TransactionRepo{db: c.db}
}

// Create inserts a new transaction row.
func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, store_id, checkout_token, order_id, order_number, total_amount_cents, currency,
			 status, failure_reason, customer_email, customer_ip, customer_ua, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		t.ID, t.StoreID, t.CheckoutToken, nullString(t.OrderID), nullString(t.OrderNumber),
		t.TotalAmountCents, t.Currency, string(t.Status), nullString(t.FailureReason),
		nullString(t.Customer.Email), nullString(t.Customer.IP), nullString(t.Customer.UserAgent),
		nullString(t.IdempotencyKey),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by its internal id.
func (r *TransactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.scanOne(ctx, `WHERE id = $1`, id)
}

// GetByCheckoutToken supports the idempotent re-entry lookup for init()
// (§4.6, §9 idempotency-key decision).
func (r *TransactionRepo) GetByCheckoutToken(ctx context.Context, storeID, checkoutToken string) (*domain.Transaction, error) {
	return r.scanOne(ctx, `WHERE store_id = $1 AND checkout_token = $2`, storeID, checkoutToken)
}

// GetByIdempotencyKey looks up a prior transaction created with the same
// client-supplied idempotency key, to make complete() safely retryable.
func (r *TransactionRepo) GetByIdempotencyKey(ctx context.Context, storeID, key string) (*domain.Transaction, error) {
	return r.scanOne(ctx, `WHERE store_id = $1 AND idempotency_key = $2`, storeID, key)
}

func (r *TransactionRepo) scanOne(ctx context.Context, where string, args ...interface{}) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, store_id, checkout_token, order_id, order_number, total_amount_cents, currency,
		       status, failure_reason, customer_email, customer_ip, customer_ua, idempotency_key,
		       created_at, updated_at
		FROM transactions `+where, args...)
	t, err := scanTransactionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTransactionNotFound
	}
	return t, err
}

func scanTransactionRow(row *sql.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var orderID, orderNumber, failureReason, email, ip, ua, idk sql.NullString
	var status string
	if err := row.Scan(&t.ID, &t.StoreID, &t.CheckoutToken, &orderID, &orderNumber, &t.TotalAmountCents,
		&t.Currency, &status, &failureReason, &email, &ip, &ua, &idk, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = domain.TransactionStatus(status)
	t.OrderID = orderID.String
	t.OrderNumber = orderNumber.String
	t.FailureReason = failureReason.String
	t.Customer = domain.CustomerMeta{Email: email.String, IP: ip.String, UserAgent: ua.String}
	t.IdempotencyKey = idk.String
	return &t, nil
}

// UpdateStatus persists a status transition plus optional failure reason.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, id string, status domain.TransactionStatus, failureReason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, failure_reason = NULLIF($2, '') WHERE id = $3`,
		string(status), failureReason, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// AssignIdempotencyKey records the client-supplied key on its first use so
// a retried complete() call can be recognized and replayed (§9).
func (r *TransactionRepo) AssignIdempotencyKey(ctx context.Context, id, key string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET idempotency_key = $1 WHERE id = $2`,
		key, id,
	)
	return err
}

// AssignOrder records the commerce-platform order id/number once the
// checkout has been submitted (§4.7).
func (r *TransactionRepo) AssignOrder(ctx context.Context, id, orderID, orderNumber string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET order_id = $1, order_number = $2 WHERE id = $3`,
		orderID, orderNumber, id,
	)
	return err
}

// TransactionFilter narrows List results for the admin surface (§4.3, §6).
type TransactionFilter struct {
	StoreID   string
	Status    domain.TransactionStatus
	StartDate time.Time
	EndDate   time.Time
	Page      int
	Limit     int
}

// TransactionPage is the paginated admin list response.
type TransactionPage struct {
	Items []*domain.Transaction `json:"items"`
	Total int                   `json:"total"`
	Page  int                   `json:"page"`
	Pages int                   `json:"pages"`
}

// List returns a filtered, paginated set of transactions for a store,
// newest first.
func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) (*TransactionPage, error) {
	offset, limit := PageOffset(f.Page, f.Limit)

	where := `WHERE store_id = $1`
	args := []interface{}{f.StoreID}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, len(args)+1)
		args = append(args, string(f.Status))
	}
	if !f.StartDate.IsZero() {
		where += fmt.Sprintf(` AND created_at >= $%d`, len(args)+1)
		args = append(args, f.StartDate)
	}
	if !f.EndDate.IsZero() {
		where += fmt.Sprintf(` AND created_at <= $%d`, len(args)+1)
		args = append(args, f.EndDate)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transactions `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, store_id, checkout_token, order_id, order_number, total_amount_cents, currency,
		       status, failure_reason, customer_email, customer_ip, customer_ua, idempotency_key,
		       created_at, updated_at
		FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Transaction, 0, limit)
	for rows.Next() {
		var t domain.Transaction
		var orderID, orderNumber, failureReason, email, ip, ua, idk sql.NullString
		var status string
		if err := rows.Scan(&t.ID, &t.StoreID, &t.CheckoutToken, &orderID, &orderNumber, &t.TotalAmountCents,
			&t.Currency, &status, &failureReason, &email, &ip, &ua, &idk, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TransactionStatus(status)
		t.OrderID = orderID.String
		t.OrderNumber = orderNumber.String
		t.FailureReason = failureReason.String
		t.Customer = domain.CustomerMeta{Email: email.String, IP: ip.String, UserAgent: ua.String}
		t.IdempotencyKey = idk.String
		items = append(items, &t)
	}

	return &TransactionPage{Items: items, Total: total, Page: f.Page, Pages: PagesFor(total, limit)}, nil
}

// ListCompletedWithoutOrder finds transactions stuck `completed` with a
// null order_id — the crash window the startup reconciliation scan
// repairs (§9 "Post-capture / pre-order window").
func (r *TransactionRepo) ListCompletedWithoutOrder(ctx context.Context) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, store_id, checkout_token, order_id, order_number, total_amount_cents, currency,
		       status, failure_reason, customer_email, customer_ip, customer_ua, idempotency_key,
		       created_at, updated_at
		FROM transactions WHERE status = $1 AND order_id IS NULL`, string(domain.TransactionCompleted))
	if err != nil {
		return nil, fmt.Errorf("list stuck transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var orderID, orderNumber, failureReason, email, ip, ua, idk sql.NullString
		var status string
		if err := rows.Scan(&t.ID, &t.StoreID, &t.CheckoutToken, &orderID, &orderNumber, &t.TotalAmountCents,
			&t.Currency, &status, &failureReason, &email, &ip, &ua, &idk, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TransactionStatus(status)
		t.OrderID = orderID.String
		t.OrderNumber = orderNumber.String
		t.FailureReason = failureReason.String
		t.Customer = domain.CustomerMeta{Email: email.String, IP: ip.String, UserAgent: ua.String}
		t.IdempotencyKey = idk.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Stats is the aggregate summary behind the admin `GET /stats` endpoint.
type Stats struct {
	TotalTransactions     int   `json:"total_transactions"`
	CompletedTransactions int   `json:"completed_transactions"`
	FailedTransactions    int   `json:"failed_transactions"`
	TotalCapturedCents    int64 `json:"total_captured_cents"`
	TotalRefundedCents    int64 `json:"total_refunded_cents"`
}

// Stats computes the admin dashboard summary for one store.
func (r *TransactionRepo) Stats(ctx context.Context, storeID string) (*Stats, error) {
	var s Stats
	row := r.db.QueryRowContext(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status IN ('completed', 'partially_refunded', 'refunded')),
			count(*) FILTER (WHERE status = 'failed'),
			coalesce(sum(total_amount_cents) FILTER (WHERE status IN ('completed', 'partially_refunded', 'refunded')), 0)
		FROM transactions WHERE store_id = $1`, storeID)
	if err := row.Scan(&s.TotalTransactions, &s.CompletedTransactions, &s.FailedTransactions, &s.TotalCapturedCents); err != nil {
		return nil, fmt.Errorf("compute transaction stats: %w", err)
	}

	row = r.db.QueryRowContext(ctx, `
		SELECT coalesce(sum(rf.amount_cents), 0)
		FROM refunds rf
		JOIN transactions t ON t.id = rf.transaction_id
		WHERE t.store_id = $1 AND rf.status = 'succeeded'`, storeID)
	if err := row.Scan(&s.TotalRefundedCents); err != nil {
		return nil, fmt.Errorf("compute refund stats: %w", err)
	}

	return &s, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
