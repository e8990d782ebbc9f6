package postgres

import (
	"context"
	"fmt"
)

// migration is one forward-only, idempotent schema step.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		name:    "schema_versions",
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
	version     INTEGER PRIMARY KEY,
	name        TEXT NOT NULL,
	applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		version: 2,
		name:    "updated_at_trigger_fn",
		sql: `
CREATE OR REPLACE FUNCTION set_updated_at()
RETURNS TRIGGER AS $$
BEGIN
	NEW.updated_at = now();
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;`,
	},
	{
		version: 3,
		name:    "stores",
		sql: `
CREATE TABLE IF NOT EXISTS stores (
	id              TEXT PRIMARY KEY,
	shop_domain     TEXT NOT NULL UNIQUE,
	access_token    TEXT NOT NULL,
	max_cards       INTEGER NOT NULL DEFAULT 5,
	min_amount_cents BIGINT NOT NULL DEFAULT 100,
	active          BOOLEAN NOT NULL DEFAULT true,
	installed_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	uninstalled_at  TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
DROP TRIGGER IF EXISTS stores_set_updated_at ON stores;
CREATE TRIGGER stores_set_updated_at
	BEFORE UPDATE ON stores
	FOR EACH ROW EXECUTE FUNCTION set_updated_at();`,
	},
	{
		version: 4,
		name:    "transactions",
		sql: `
CREATE TABLE IF NOT EXISTS transactions (
	id                TEXT PRIMARY KEY,
	store_id          TEXT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
	checkout_token    TEXT NOT NULL,
	order_id          TEXT,
	order_number      TEXT,
	total_amount_cents BIGINT NOT NULL,
	currency          TEXT NOT NULL DEFAULT 'USD',
	status            TEXT NOT NULL DEFAULT 'pending',
	failure_reason    TEXT,
	customer_email    TEXT,
	customer_ip       TEXT,
	customer_ua       TEXT,
	idempotency_key   TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (store_id, checkout_token)
);
CREATE UNIQUE INDEX IF NOT EXISTS transactions_idempotency_key_idx
	ON transactions (store_id, idempotency_key)
	WHERE idempotency_key IS NOT NULL;
DROP TRIGGER IF EXISTS transactions_set_updated_at ON transactions;
CREATE TRIGGER transactions_set_updated_at
	BEFORE UPDATE ON transactions
	FOR EACH ROW EXECUTE FUNCTION set_updated_at();`,
	},
	{
		version: 5,
		name:    "payments",
		sql: `
CREATE TABLE IF NOT EXISTS payments (
	id                 TEXT PRIMARY KEY,
	transaction_id     TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	provider_intent_id TEXT NOT NULL UNIQUE,
	provider_method_id TEXT,
	amount_cents       BIGINT NOT NULL,
	card_brand         TEXT,
	card_last_four     TEXT,
	card_exp_month     INTEGER,
	card_exp_year      INTEGER,
	status             TEXT NOT NULL DEFAULT 'pending',
	failure_code       TEXT,
	failure_message    TEXT,
	authorized_at      TIMESTAMPTZ,
	captured_at        TIMESTAMPTZ,
	voided_at          TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS payments_transaction_id_idx ON payments (transaction_id);
DROP TRIGGER IF EXISTS payments_set_updated_at ON payments;
CREATE TRIGGER payments_set_updated_at
	BEFORE UPDATE ON payments
	FOR EACH ROW EXECUTE FUNCTION set_updated_at();`,
	},
	{
		version: 6,
		name:    "refunds",
		sql: `
CREATE TABLE IF NOT EXISTS refunds (
	id                 TEXT PRIMARY KEY,
	transaction_id     TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
	payment_id         TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
	provider_refund_id TEXT UNIQUE,
	amount_cents       BIGINT NOT NULL,
	reason             TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	initiated_by       TEXT NOT NULL,
	failure_reason     TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS refunds_transaction_id_idx ON refunds (transaction_id);
DROP TRIGGER IF EXISTS refunds_set_updated_at ON refunds;
CREATE TRIGGER refunds_set_updated_at
	BEFORE UPDATE ON refunds
	FOR EACH ROW EXECUTE FUNCTION set_updated_at();`,
	},
	{
		version: 7,
		name:    "webhook_events",
		sql: `
CREATE TABLE IF NOT EXISTS webhook_events (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	raw_body      BYTEA NOT NULL,
	compressed    BOOLEAN NOT NULL DEFAULT false,
	received_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at  TIMESTAMPTZ
);`,
	},
}

// Migrate applies every migration not yet recorded in schema_versions, in
// ascending version order. Safe to call on every startup.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, migrations[0].sql); err != nil {
		return fmt.Errorf("bootstrap schema_versions: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := c.db.QueryContext(ctx, `SELECT version FROM schema_versions`)
	if err != nil {
		return fmt.Errorf("read schema_versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := c.applyOne(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}

func (c *Client) applyOne(ctx context.Context, m migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if m.version != migrations[0].version {
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_versions (version, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		m.version, m.name,
	); err != nil {
		return err
	}
	return tx.Commit()
}
