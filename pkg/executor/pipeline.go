package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/speedrun-hq/swaprunner/pkg/repository"
)

// interruptedReason marks an order a previous process left mid-pipeline
const interruptedReason = "execution interrupted before completion"

// ErrAttemptsExhausted is returned for a replayed order that has no attempts left
var ErrAttemptsExhausted = errors.New("order has no attempts left")

// ExecuteOrder runs one attempt of the order pipeline for job.
// A returned error has already been recorded on the order as a failure.
func (s *Service) ExecuteOrder(ctx context.Context, job models.Job) error {
	order, err := s.repo.FindByID(ctx, job.OrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		s.logger.Error("Order %s no longer exists, dropping job", job.OrderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", job.OrderID, err)
	}

	if job.IsRetry() {
		s.logger.Notice("Retrying order %s (attempt %d/%d), last error: %s", order.ID, job.Attempt, job.MaxAttempts, job.LastError)
	}
	if err := s.prepare(ctx, order, job); err != nil {
		return err
	}
	if order.Status == models.StatusConfirmed {
		return nil
	}

	started := time.Now()
	venue, err := s.run(ctx, order)
	if err != nil {
		if ctx.Err() != nil {
			// shutdown: the stored job resumes this order on the next start
			return err
		}
		if failErr := s.machine.Fail(ctx, order, err.Error()); failErr != nil {
			s.logger.Error("Failed to record failure of order %s: %v", order.ID, failErr)
		}
		observeRun(venue, models.StatusFailed, started)
		s.logger.Error("Order %s failed on attempt %d/%d: %v", order.ID, job.Attempt, job.MaxAttempts, err)
		return err
	}

	observeRun(venue, models.StatusConfirmed, started)
	s.logger.InfoWithVenue(string(venue), "Order %s confirmed: %s %s -> %s %s at %s (tx %s)",
		order.ID, order.AmountIn, order.TokenIn, order.AmountOut.Decimal, order.TokenOut,
		order.ExecutedPrice.Decimal, *order.TxHash)
	return nil
}

// prepare brings order back to pending for this attempt. An order with no attempts
// left is failed instead and ErrAttemptsExhausted returned.
func (s *Service) prepare(ctx context.Context, order *models.Order, job models.Job) error {
	switch order.Status {
	case models.StatusConfirmed:
		s.logger.Debug("Order %s already confirmed, nothing to do", order.ID)
		return nil
	case models.StatusPending:
		if job.Attempt <= job.MaxAttempts {
			return nil
		}
		s.logger.Notice("Order %s was interrupted on its last attempt", order.ID)
		if err := s.machine.Fail(ctx, order, interruptedReason); err != nil {
			return err
		}
	case models.StatusFailed:
	default:
		s.logger.Notice("Order %s was left in %s, restarting it", order.ID, order.Status)
		if err := s.machine.Fail(ctx, order, interruptedReason); err != nil {
			return err
		}
	}

	// a failed order has already spent RetryCount+1 attempts
	attempt := max(job.Attempt, order.RetryCount+2)
	if attempt > job.MaxAttempts {
		return fmt.Errorf("%w: order %s used all %d attempts", ErrAttemptsExhausted, order.ID, job.MaxAttempts)
	}
	return s.machine.Reopen(ctx, order, attempt, job.MaxAttempts)
}

// run moves a pending order through routing, building and submission to confirmation.
// It returns the venue chosen so far.
func (s *Service) run(ctx context.Context, order *models.Order) (models.Venue, error) {
	if err := s.machine.Advance(ctx, order, models.StatusRouting, "Fetching quotes from DEXs...", ""); err != nil {
		return "", err
	}

	quote, err := s.router.BestQuote(ctx, order.TokenIn, order.TokenOut, order.AmountIn)
	if err != nil {
		return "", err
	}
	venue := quote.Dex

	msg := fmt.Sprintf("Building transaction on %s...", venue)
	if err := s.machine.Advance(ctx, order, models.StatusBuilding, msg, venue); err != nil {
		return venue, err
	}
	if err := s.machine.Advance(ctx, order, models.StatusSubmitted, "Transaction submitted to network...", ""); err != nil {
		return venue, err
	}

	result, err := s.router.ExecuteSwap(ctx, venue, order.TokenIn, order.TokenOut, order.AmountIn, quote.Price, order.Slippage)
	if err != nil {
		return venue, err
	}
	if err := s.machine.Confirm(ctx, order, result); err != nil {
		return venue, err
	}
	return venue, nil
}
