package domain

import "time"

// Default settings applied when a merchant hasn't overridden them (§3).
const (
	DefaultMaxCards      = 5
	MinMaxCards          = 2
	MaxMaxCards          = 5
	DefaultMinAmountCents int64 = 100
)

// Store is one row per installed merchant.
type Store struct {
	ID             string
	ShopDomain     string
	AccessToken    string // opaque, encrypted at rest by the storage layer
	Settings       StoreSettings
	Active         bool
	InstalledAt    time.Time
	UninstalledAt  *time.Time
}

// StoreSettings holds the merchant-tunable knobs recognized in §3.
type StoreSettings struct {
	MaxCards       int
	MinAmountCents int64
}

// NewStoreSettings applies the documented defaults: a max card count
// outside [MinMaxCards, MaxMaxCards] becomes DefaultMaxCards, and a minimum
// amount below DefaultMinAmountCents is raised to it.
func NewStoreSettings(maxCards int, minAmountCents int64) StoreSettings {
	if maxCards < MinMaxCards || maxCards > MaxMaxCards {
		maxCards = DefaultMaxCards
	}
	if minAmountCents < DefaultMinAmountCents {
		minAmountCents = DefaultMinAmountCents
	}
	return StoreSettings{MaxCards: maxCards, MinAmountCents: minAmountCents}
}

// NewStore constructs a freshly-installed, active store.
func NewStore(id, shopDomain, accessToken string, settings StoreSettings) (*Store, error) {
	if id == "" || shopDomain == "" {
		return nil, ErrInvalidInput
	}
	return &Store{
		ID:          id,
		ShopDomain:  shopDomain,
		AccessToken: accessToken,
		Settings:    settings,
		Active:      true,
		InstalledAt: time.Now(),
	}, nil
}

// Reinstall reactivates a previously-uninstalled store.
func (s *Store) Reinstall(accessToken string) {
	s.AccessToken = accessToken
	s.Active = true
	s.UninstalledAt = nil
}

// Uninstall soft-deletes the store, clearing its access token.
func (s *Store) Uninstall(at time.Time) {
	s.Active = false
	s.AccessToken = ""
	s.UninstalledAt = &at
}

// MaxCardsAllowed returns min(5, store.settings.max_cards) as required by
// add_card's precondition in §4.6.
func (s *Store) MaxCardsAllowed() int {
	if s.Settings.MaxCards <= 0 || s.Settings.MaxCards > MaxMaxCards {
		return MaxMaxCards
	}
	return s.Settings.MaxCards
}

func (s *Store) MinAmountCents() int64 {
	if s.Settings.MinAmountCents <= 0 {
		return DefaultMinAmountCents
	}
	return s.Settings.MinAmountCents
}
