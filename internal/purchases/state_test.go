package purchases

import (
	"errors"
	"testing"

	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		name        string
		from, to    enums.PurchaseStatus
		wantNext    enums.PurchaseStatus
		wantChanged bool
		wantErr     error
	}{
		{"pending to completed", enums.PurchaseStatusPending, enums.PurchaseStatusCompleted, enums.PurchaseStatusCompleted, true, nil},
		{"pending to failed", enums.PurchaseStatusPending, enums.PurchaseStatusFailed, enums.PurchaseStatusFailed, true, nil},
		{"pending stays pending", enums.PurchaseStatusPending, enums.PurchaseStatusPending, enums.PurchaseStatusPending, false, nil},
		{"completed again is a no-op", enums.PurchaseStatusCompleted, enums.PurchaseStatusCompleted, enums.PurchaseStatusCompleted, false, nil},
		{"failed again is a no-op", enums.PurchaseStatusFailed, enums.PurchaseStatusFailed, enums.PurchaseStatusFailed, false, nil},
		{"completed cannot fail", enums.PurchaseStatusCompleted, enums.PurchaseStatusFailed, enums.PurchaseStatusCompleted, false, ErrTerminalState},
		{"failed cannot complete", enums.PurchaseStatusFailed, enums.PurchaseStatusCompleted, enums.PurchaseStatusFailed, false, ErrTerminalState},
		{"completed cannot reopen", enums.PurchaseStatusCompleted, enums.PurchaseStatusPending, enums.PurchaseStatusCompleted, false, ErrTerminalState},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, changed, err := Transition(tc.from, tc.to)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v got %v", tc.wantErr, err)
			}
			if next != tc.wantNext || changed != tc.wantChanged {
				t.Fatalf("expected (%s,%v) got (%s,%v)", tc.wantNext, tc.wantChanged, next, changed)
			}
		})
	}
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	if _, _, err := Transition(enums.PurchaseStatusPending, "refunded"); err == nil {
		t.Fatal("expected error for unknown target")
	}
	if _, _, err := Transition("", enums.PurchaseStatusCompleted); err == nil {
		t.Fatal("expected error for unknown source")
	}
}
