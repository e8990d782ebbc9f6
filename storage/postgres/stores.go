package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/plm/splitpay/domain"
)

// StoreRepo persists domain.Store rows.
type StoreRepo struct {
	db *sql.DB
}

// Stores returns a repository bound to this client's pool.
func (c *Client) Stores() *StoreRepo {
	return &StoreRepo{db: c.db}
}

// Create inserts a new store row.
func (r *StoreRepo) Create(ctx context.Context, s *domain.Store) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stores (id, shop_domain, access_token, max_cards, min_amount_cents, active, installed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.ShopDomain, s.AccessToken, s.Settings.MaxCards, s.Settings.MinAmountCents, s.Active, s.InstalledAt,
	)
	if err != nil {
		return fmt.Errorf("insert store: %w", err)
	}
	return nil
}

// GetByID fetches a store by its internal id.
func (r *StoreRepo) GetByID(ctx context.Context, id string) (*domain.Store, error) {
	return r.scanOne(ctx, `WHERE id = $1`, id)
}

// GetByShopDomain fetches a store by its `{name}.myshopify.com` domain —
// the lookup key the widget and webhook handlers actually have (§4.3).
func (r *StoreRepo) GetByShopDomain(ctx context.Context, shopDomain string) (*domain.Store, error) {
	return r.scanOne(ctx, `WHERE shop_domain = $1`, shopDomain)
}

func (r *StoreRepo) scanOne(ctx context.Context, where string, arg interface{}) (*domain.Store, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, shop_domain, access_token, max_cards, min_amount_cents, active, installed_at, uninstalled_at
		FROM stores `+where, arg)

	var s domain.Store
	var settings domain.StoreSettings
	if err := row.Scan(&s.ID, &s.ShopDomain, &s.AccessToken, &settings.MaxCards, &settings.MinAmountCents,
		&s.Active, &s.InstalledAt, &s.UninstalledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStoreNotFound
		}
		return nil, fmt.Errorf("scan store: %w", err)
	}
	s.Settings = settings
	return &s, nil
}

// SetActive updates the install/uninstall lifecycle flag.
func (r *StoreRepo) SetActive(ctx context.Context, id string, active bool, uninstalledAt *sql.NullTime) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stores SET active = $1, uninstalled_at = $2 WHERE id = $3`,
		active, uninstalledAt, id,
	)
	return err
}

// List returns every store, most recently installed first, for the admin
// `GET /stores` surface.
func (r *StoreRepo) List(ctx context.Context) ([]*domain.Store, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, shop_domain, access_token, max_cards, min_amount_cents, active, installed_at, uninstalled_at
		FROM stores ORDER BY installed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	defer rows.Close()

	var out []*domain.Store
	for rows.Next() {
		var s domain.Store
		var settings domain.StoreSettings
		if err := rows.Scan(&s.ID, &s.ShopDomain, &s.AccessToken, &settings.MaxCards, &settings.MinAmountCents,
			&s.Active, &s.InstalledAt, &s.UninstalledAt); err != nil {
			return nil, err
		}
		s.Settings = settings
		out = append(out, &s)
	}
	return out, rows.Err()
}

// UpdateSettings persists a merchant's updated max-cards/min-amount
// preferences (§6 `PUT /settings`).
func (r *StoreRepo) UpdateSettings(ctx context.Context, id string, settings domain.StoreSettings) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stores SET max_cards = $1, min_amount_cents = $2 WHERE id = $3`,
		settings.MaxCards, settings.MinAmountCents, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrStoreNotFound
	}
	return nil
}

// Reinstall clears the uninstalled_at marker and rotates the access token.
func (r *StoreRepo) Reinstall(ctx context.Context, id, accessToken string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stores SET access_token = $1, active = true, uninstalled_at = NULL WHERE id = $2`,
		accessToken, id,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrStoreNotFound
	}
	return nil
}
