package booking

import (
	"fmt"

	"github.com/adiwibowo/stayreserve/internal/model"
)

// legalTransitions is the closed set of status moves the state machine
// permits.  Terminal states have no outgoing edges; the post-stay stock
// release leaves a PAID transaction in PAID and is therefore not a
// transition.
var legalTransitions = map[model.TransactionStatus][]model.TransactionStatus{
	model.StatusWaitingForPayment: {
		model.StatusWaitingForConfirmation,
		model.StatusPaid,
		model.StatusCancelled,
		model.StatusExpired,
	},
	model.StatusWaitingForConfirmation: {
		model.StatusPaid,
		model.StatusWaitingForPayment,
	},
}

// CanTransition reports whether the state machine allows moving a
// transaction from one status to another.
func CanTransition(from, to model.TransactionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition mutates the transaction's status after validating the move
// against the legal transition set.  Callers have already verified the
// event-specific expected state and actor; this is the final guard.
func transition(t *model.Transaction, to model.TransactionStatus) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: cannot move %s from %s to %s",
			ErrPreconditionFailed, t.UUID, t.Status, to)
	}
	t.Status = to
	return nil
}
