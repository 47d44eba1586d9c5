package enums

import "testing"

func TestPurchaseStatusTerminal(t *testing.T) {
	cases := map[PurchaseStatus]bool{
		PurchaseStatusPending:   false,
		PurchaseStatusCompleted: true,
		PurchaseStatusFailed:    true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s: expected terminal=%v got %v", status, want, got)
		}
	}
}

func TestParsePurchaseStatus(t *testing.T) {
	if got, err := ParsePurchaseStatus("completed"); err != nil || got != PurchaseStatusCompleted {
		t.Fatalf("unexpected parse result %q err=%v", got, err)
	}
	if _, err := ParsePurchaseStatus("approved"); err == nil {
		t.Fatalf("gateway statuses are not purchase statuses")
	}
}

func TestPaymentMethodIdempotencyPrefix(t *testing.T) {
	if PaymentMethodPix.IdempotencyPrefix() != "pix-" {
		t.Fatalf("unexpected pix prefix %q", PaymentMethodPix.IdempotencyPrefix())
	}
	if PaymentMethodCard.IdempotencyPrefix() != "card-" {
		t.Fatalf("unexpected card prefix %q", PaymentMethodCard.IdempotencyPrefix())
	}
	if _, err := ParsePaymentMethod("boleto"); err == nil {
		t.Fatalf("expected unknown method to fail")
	}
}
