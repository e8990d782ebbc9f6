package domain

import "testing"

func TestPayment_LifecycleHappyPath(t *testing.T) {
	p, err := NewPayment("pay_1", "txn_1", "pi_abc123", 10000)
	if err != nil {
		t.Fatalf("NewPayment: %v", err)
	}
	if err := p.MarkAuthorized("pm_xyz"); err != nil {
		t.Fatalf("pending -> authorized: %v", err)
	}
	if err := p.MarkCaptured(); err != nil {
		t.Fatalf("authorized -> captured: %v", err)
	}
	if !p.Status.IsTerminal() {
		t.Fatal("captured should be terminal")
	}
	if err := p.MarkVoided(); err == nil {
		t.Fatal("captured must never re-enter voided (invariant 5)")
	}
}

func TestPayment_CompensationPath(t *testing.T) {
	p, _ := NewPayment("pay_2", "txn_1", "pi_def456", 4000)
	if err := p.MarkAuthorized("pm_1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := p.MarkVoided(); err != nil {
		t.Fatalf("authorized -> voided should be allowed during compensation: %v", err)
	}
	if err := p.MarkCaptured(); err == nil {
		t.Fatal("voided must never re-enter captured")
	}
}

func TestPayment_DeclinePath(t *testing.T) {
	p, _ := NewPayment("pay_3", "txn_1", "pi_ghi789", 4000)
	if err := p.MarkFailed("card_declined", "Your card was declined."); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	if err := p.MarkAuthorized("pm_1"); err == nil {
		t.Fatal("failed must never re-enter authorized")
	}
}

func TestInvariants_AllCapturedRequiresAtLeastTwo(t *testing.T) {
	p1, _ := NewPayment("p1", "t1", "pi_1", 5000)
	p1.MarkAuthorized("pm_1")
	p1.MarkCaptured()
	if AllCaptured([]*Payment{p1}) {
		t.Fatal("a single captured payment must not satisfy invariant 2 (need >= 2)")
	}

	p2, _ := NewPayment("p2", "t1", "pi_2", 5000)
	p2.MarkAuthorized("pm_2")
	p2.MarkCaptured()
	if !AllCaptured([]*Payment{p1, p2}) {
		t.Fatal("two captured payments should satisfy invariant 2")
	}
}

func TestInvariants_NoneCapturedAfterCompensation(t *testing.T) {
	p1, _ := NewPayment("p1", "t1", "pi_1", 5000)
	p1.MarkAuthorized("pm_1")
	p1.MarkVoided()

	p2, _ := NewPayment("p2", "t1", "pi_2", 5000)
	p2.MarkFailed("card_declined", "declined")

	if !NoneCaptured([]*Payment{p1, p2}) {
		t.Fatal("voided+failed siblings should satisfy none-captured")
	}
}
