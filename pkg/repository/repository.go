package repository

import (
	"context"
	"errors"

	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// ErrOrderNotFound is returned when no order has the requested id
var ErrOrderNotFound = errors.New("order not found")

const (
	// DefaultListLimit is used when a non-positive limit is requested
	DefaultListLimit = 50
	// MaxListLimit caps a single page
	MaxListLimit = 500
)

// Repository persists orders
type Repository interface {
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id string) (*models.Order, error)
	// UpdateStatus sets the status and applies patch in a single atomic write
	UpdateStatus(ctx context.Context, id string, status models.OrderStatus, patch models.OrderPatch) error
	// List returns orders newest first
	List(ctx context.Context, limit, offset int) ([]models.Order, error)
	CountByStatus(ctx context.Context) (map[models.OrderStatus]int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// applyPatch mutates order in place
func applyPatch(order *models.Order, status models.OrderStatus, patch models.OrderPatch) {
	order.Status = status
	if patch.ClearExecution {
		order.SelectedDex = nil
		order.ExecutedPrice = models.NullDecimal()
		order.AmountOut = models.NullDecimal()
		order.TxHash = nil
		order.ExecutedAt = nil
	}
	if patch.ClearFailure {
		order.FailureReason = nil
	}
	if patch.SelectedDex != nil {
		dex := *patch.SelectedDex
		order.SelectedDex = &dex
	}
	if patch.ExecutedPrice != nil {
		order.ExecutedPrice = models.NewNullDecimal(*patch.ExecutedPrice)
	}
	if patch.AmountOut != nil {
		order.AmountOut = models.NewNullDecimal(*patch.AmountOut)
	}
	if patch.TxHash != nil {
		tx := *patch.TxHash
		order.TxHash = &tx
	}
	if patch.ExecutedAt != nil {
		at := *patch.ExecutedAt
		order.ExecutedAt = &at
	}
	if patch.FailureReason != nil {
		reason := *patch.FailureReason
		order.FailureReason = &reason
	}
	if patch.IncrementRetry {
		order.RetryCount++
	}
}
