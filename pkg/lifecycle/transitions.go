package lifecycle

import (
	"errors"
	"fmt"

	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// ErrIllegalTransition is returned for a status change the lifecycle does not allow
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists the forward edges of the order lifecycle.
// Failure from any non-terminal state and reopening a failed order are handled separately.
var transitions = map[models.OrderStatus]models.OrderStatus{
	models.StatusPending:   models.StatusRouting,
	models.StatusRouting:   models.StatusBuilding,
	models.StatusBuilding:  models.StatusSubmitted,
	models.StatusSubmitted: models.StatusConfirmed,
}

// IsTerminal reports whether no pipeline step can leave status
func IsTerminal(status models.OrderStatus) bool {
	return status == models.StatusConfirmed || status == models.StatusFailed
}

// CanTransition reports whether an order may move from one status to another.
// A failed order may return to pending only when it is reopened for another attempt.
func CanTransition(from, to models.OrderStatus) bool {
	if to == models.StatusFailed {
		return !IsTerminal(from)
	}
	if from == models.StatusFailed && to == models.StatusPending {
		return true
	}
	next, ok := transitions[from]
	return ok && next == to
}

func checkTransition(from, to models.OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
