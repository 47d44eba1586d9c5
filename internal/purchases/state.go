package purchases

import (
	"errors"
	"fmt"

	"github.com/lumina-photos/lumina-backend/pkg/enums"
)

// ErrTerminalState is returned when a purchase already left pending.
var ErrTerminalState = errors.New("purchase is in a terminal state")

// Transition applies the purchase state machine: pending moves to completed
// or failed exactly once, and nothing moves out of a terminal state.
// changed is false for no-ops; err is ErrTerminalState when the move was
// refused because from is terminal.
func Transition(from, to enums.PurchaseStatus) (next enums.PurchaseStatus, changed bool, err error) {
	if !from.IsValid() {
		return from, false, fmt.Errorf("invalid current status %q", from)
	}
	if !to.IsValid() {
		return from, false, fmt.Errorf("invalid target status %q", to)
	}
	if from == to {
		return from, false, nil
	}
	if from.IsTerminal() {
		return from, false, ErrTerminalState
	}
	if to == enums.PurchaseStatusPending {
		return from, false, nil
	}
	return to, true, nil
}
