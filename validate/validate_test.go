package validate

import "testing"

func TestShopDomain(t *testing.T) {
	cases := map[string]bool{
		"my-shop.myshopify.com": true,
		"MyShop123.myshopify.com": true,
		"my-shop.example.com":   false,
		"myshopify.com":         false,
		"":                       false,
	}
	for in, want := range cases {
		if err := ShopDomain(in); (err == nil) != want {
			t.Errorf("ShopDomain(%q) err=%v, want valid=%v", in, err, want)
		}
	}
}

func TestCheckoutToken(t *testing.T) {
	valid := "abcdefghij0123456789ABCDEFGHIJ01"
	if err := CheckoutToken(valid); err != nil {
		t.Errorf("expected valid 32-char token, got %v", err)
	}
	if err := CheckoutToken("tooshort"); err == nil {
		t.Error("expected error for short token")
	}
	if err := CheckoutToken("has-a-dash-in-it-which-is-invalid-123456"); err == nil {
		t.Error("expected error for token with punctuation")
	}
}

func TestAmount(t *testing.T) {
	if err := Amount(100, 100, 0); err != nil {
		t.Errorf("100 should satisfy min=100: %v", err)
	}
	if err := Amount(99, 100, 0); err == nil {
		t.Error("expected error below minimum")
	}
	if err := Amount(0, 100, 0); err == nil {
		t.Error("expected error for zero amount")
	}
	if err := Amount(-5, 100, 0); err == nil {
		t.Error("expected error for negative amount")
	}
	if err := Amount(501, 100, 500); err == nil {
		t.Error("expected error above max")
	}
}

func TestPaymentAmounts(t *testing.T) {
	if err := PaymentAmounts(15000, []int64{10000, 5000}, 100); err != nil {
		t.Errorf("S1 split should validate: %v", err)
	}
	if err := PaymentAmounts(15000, []int64{10000}, 100); err == nil {
		t.Error("expected error for single-card split")
	}
	if err := PaymentAmounts(15000, []int64{10000, 4999}, 100); err == nil {
		t.Error("expected error when sum != total")
	}
	sixCards := []int64{100, 100, 100, 100, 100, 100}
	if err := PaymentAmounts(600, sixCards, 100); err == nil {
		t.Error("expected error for 6 cards (max is 5)")
	}
}

func TestEmail(t *testing.T) {
	if err := Email("buyer@example.com"); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}
	if err := Email("not-an-email"); err == nil {
		t.Error("expected error for malformed email")
	}
}

func TestIPAddress(t *testing.T) {
	if err := IPAddress("203.0.113.5"); err != nil {
		t.Errorf("valid IPv4 rejected: %v", err)
	}
	if err := IPAddress("2001:db8::1"); err != nil {
		t.Errorf("valid IPv6 rejected: %v", err)
	}
	if err := IPAddress("not-an-ip"); err == nil {
		t.Error("expected error for malformed ip")
	}
}

func TestProviderIDs(t *testing.T) {
	if err := ProviderIntentID("pi_123abc"); err != nil {
		t.Errorf("valid intent id rejected: %v", err)
	}
	if err := ProviderIntentID("pm_123abc"); err == nil {
		t.Error("expected error for wrong prefix")
	}
	if err := ProviderMethodID("pm_123abc"); err != nil {
		t.Errorf("valid method id rejected: %v", err)
	}
}
