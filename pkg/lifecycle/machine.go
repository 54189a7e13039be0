package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/metrics"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/speedrun-hq/swaprunner/pkg/repository"
)

// Publisher receives an event after each persisted transition
type Publisher interface {
	Publish(orderID string, update models.StatusUpdate)
}

// Machine applies status transitions to persisted orders.
// Each transition is one repository write followed by one publish; nothing is published when the write fails.
type Machine struct {
	repo      repository.Repository
	publisher Publisher
	logger    logger.Logger
	now       func() time.Time
}

// NewMachine creates a state machine over repo that announces transitions to publisher
func NewMachine(repo repository.Repository, publisher Publisher, log logger.Logger) *Machine {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Machine{
		repo:      repo,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

func (m *Machine) commit(ctx context.Context, order *models.Order, to models.OrderStatus, patch models.OrderPatch, update models.StatusUpdate) error {
	if err := checkTransition(order.Status, to); err != nil {
		return fmt.Errorf("order %s: %w", order.ID, err)
	}
	if err := m.repo.UpdateStatus(ctx, order.ID, to, patch); err != nil {
		return err
	}

	from := order.Status
	order.Status = to
	metrics.OrderTransitions.WithLabelValues(string(to)).Inc()
	m.logger.Debug("Order %s: %s -> %s", order.ID, from, to)

	update.OrderID = order.ID
	update.Status = to
	update.Timestamp = m.now()
	if m.publisher != nil {
		m.publisher.Publish(order.ID, update)
	}
	return nil
}

// Advance moves order to the next forward status. The event carries message and, when set, the selected venue.
// The venue is only persisted on confirmation.
func (m *Machine) Advance(ctx context.Context, order *models.Order, to models.OrderStatus, message string, selected models.Venue) error {
	if to == models.StatusConfirmed || to == models.StatusFailed {
		return fmt.Errorf("order %s: %w: use Confirm or Fail for %s", order.ID, ErrIllegalTransition, to)
	}
	return m.commit(ctx, order, to, models.OrderPatch{}, models.StatusUpdate{
		Message:     message,
		SelectedDex: selected,
	})
}

// Confirm records a successful execution and moves order to confirmed
func (m *Machine) Confirm(ctx context.Context, order *models.Order, result models.ExecutionResult) error {
	dex := result.Dex
	price := result.ExecutedPrice
	amountOut := result.AmountOut
	txHash := result.TxHash
	executedAt := m.now()

	err := m.commit(ctx, order, models.StatusConfirmed, models.OrderPatch{
		SelectedDex:   &dex,
		ExecutedPrice: &price,
		AmountOut:     &amountOut,
		TxHash:        &txHash,
		ExecutedAt:    &executedAt,
		ClearFailure:  true,
	}, models.StatusUpdate{
		Message:       "Order executed successfully!",
		TxHash:        txHash,
		ExecutedPrice: &price,
		SelectedDex:   dex,
	})
	if err != nil {
		return err
	}

	order.SelectedDex = &dex
	order.ExecutedPrice = models.NewNullDecimal(price)
	order.AmountOut = models.NewNullDecimal(amountOut)
	order.TxHash = &txHash
	order.ExecutedAt = &executedAt
	order.FailureReason = nil
	return nil
}

// Fail moves order to failed with reason, clearing any execution data
func (m *Machine) Fail(ctx context.Context, order *models.Order, reason string) error {
	err := m.commit(ctx, order, models.StatusFailed, models.OrderPatch{
		FailureReason:  &reason,
		ClearExecution: true,
	}, models.StatusUpdate{
		Message: "Order execution failed",
		Error:   reason,
	})
	if err != nil {
		return err
	}

	order.SelectedDex = nil
	order.ExecutedPrice = models.NullDecimal()
	order.AmountOut = models.NullDecimal()
	order.TxHash = nil
	order.ExecutedAt = nil
	order.FailureReason = &reason
	return nil
}

// Reopen returns a failed order to pending for another attempt and counts the retry
func (m *Machine) Reopen(ctx context.Context, order *models.Order, attempt, maxAttempts int) error {
	if order.Status != models.StatusFailed {
		return fmt.Errorf("order %s: %w: only failed orders can be reopened, status is %s", order.ID, ErrIllegalTransition, order.Status)
	}
	err := m.commit(ctx, order, models.StatusPending, models.OrderPatch{
		ClearFailure:   true,
		ClearExecution: true,
		IncrementRetry: true,
	}, models.StatusUpdate{
		Message: fmt.Sprintf("Retrying order (attempt %d of %d)...", attempt, maxAttempts),
	})
	if err != nil {
		return err
	}

	order.FailureReason = nil
	order.RetryCount++
	return nil
}
