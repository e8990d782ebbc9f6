// Package validate implements the structural, I/O-free checks from §4.2.
// Every function here is pure: no DB lookups, no provider calls. Validation
// failures are distinct from operational errors (§7) — they never mutate
// state and always map to a 400.
package validate

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"regexp"

	"github.com/plm/splitpay/domain"
)

var (
	ErrInvalidShopDomain     = errors.New("invalid shop_domain")
	ErrInvalidCheckoutToken  = errors.New("invalid checkout_token")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidCardCount      = errors.New("card count must be between 2 and 5")
	ErrSplitDoesNotSumToTotal = errors.New("split amounts do not sum to total")
	ErrInvalidEmail          = errors.New("invalid email")
	ErrInvalidIP             = errors.New("invalid ip address")
	ErrInvalidProviderID     = errors.New("invalid provider id")
)

var (
	shopDomainPattern    = regexp.MustCompile(`^[a-zA-Z0-9-]+\.myshopify\.com$`)
	checkoutTokenPattern = regexp.MustCompile(`^[a-zA-Z0-9]{32,64}$`)
)

// ShopDomain checks the `{name}.myshopify.com` shape.
func ShopDomain(s string) error {
	if !shopDomainPattern.MatchString(s) {
		return ErrInvalidShopDomain
	}
	return nil
}

// CheckoutToken checks the platform's opaque 32-64 char alphanumeric token.
func CheckoutToken(s string) error {
	if !checkoutTokenPattern.MatchString(s) {
		return ErrInvalidCheckoutToken
	}
	return nil
}

// Amount checks that amount is a positive integer, at least minCents, and,
// when maxCents > 0, no more than maxCents.
func Amount(amountCents, minCents, maxCents int64) error {
	if amountCents <= 0 {
		return ErrInvalidAmount
	}
	if amountCents < minCents {
		return fmt.Errorf("%w: below minimum of %d cents", ErrInvalidAmount, minCents)
	}
	if maxCents > 0 && amountCents > maxCents {
		return fmt.Errorf("%w: exceeds maximum of %d cents", ErrInvalidAmount, maxCents)
	}
	return nil
}

// PaymentAmounts checks §4.2's payment_amounts(total, [a_i]): 2..5 entries,
// each individually valid against minCents, and an exact sum match with
// total.
func PaymentAmounts(total int64, amounts []int64, minCents int64) error {
	if len(amounts) < domain.MinMaxCards || len(amounts) > domain.MaxMaxCards {
		return ErrInvalidCardCount
	}
	var sum int64
	for _, a := range amounts {
		if err := Amount(a, minCents, 0); err != nil {
			return err
		}
		sum += a
	}
	if sum != total {
		return fmt.Errorf("%w: got %d, want %d", ErrSplitDoesNotSumToTotal, sum, total)
	}
	return nil
}

// Email checks structural (RFC 5322) validity only — no MX lookup, no
// deliverability check.
func Email(s string) error {
	if s == "" {
		return ErrInvalidEmail
	}
	if _, err := mail.ParseAddress(s); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// IPAddress checks that s parses as IPv4 or IPv6.
func IPAddress(s string) error {
	if net.ParseIP(s) == nil {
		return ErrInvalidIP
	}
	return nil
}

// ProviderIntentID checks the `pi_...` prefix convention.
func ProviderIntentID(s string) error {
	if len(s) < 4 || s[:3] != "pi_" {
		return fmt.Errorf("%w: intent id must start with pi_", ErrInvalidProviderID)
	}
	return nil
}

// ProviderMethodID checks the `pm_...` prefix convention.
func ProviderMethodID(s string) error {
	if len(s) < 4 || s[:3] != "pm_" {
		return fmt.Errorf("%w: method id must start with pm_", ErrInvalidProviderID)
	}
	return nil
}
