package dex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/swaprunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/metrics"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQuoteUnavailable is returned when a venue cannot produce a quote
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrExecutionFailed is returned when a venue cannot execute a swap
	ErrExecutionFailed = errors.New("execution failed")
	// ErrUnknownVenue is returned for a venue the router was not built with
	ErrUnknownVenue = errors.New("unknown venue")
)

// Router quotes every venue and executes swaps on the chosen one
type Router struct {
	order    []models.Venue
	venues   map[models.Venue]Venue
	breakers map[models.Venue]*circuitbreaker.CircuitBreaker
	logger   logger.Logger
}

// NewRouter creates a router over venues with one circuit breaker per venue.
// Venue order decides ties: a later venue wins an exact tie against an earlier one.
func NewRouter(cbCfg config.CircuitBreakerConfig, log logger.Logger, venues ...Venue) *Router {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	r := &Router{
		venues:   make(map[models.Venue]Venue, len(venues)),
		breakers: make(map[models.Venue]*circuitbreaker.CircuitBreaker, len(venues)),
		logger:   log,
	}
	for _, v := range venues {
		name := v.Name()
		r.order = append(r.order, name)
		r.venues[name] = v
		r.breakers[name] = circuitbreaker.NewCircuitBreaker(
			string(name),
			cbCfg.Enabled,
			cbCfg.Threshold,
			cbCfg.WindowDuration,
			cbCfg.ResetTimeout,
			log,
		)
	}
	return r
}

// NewSimulatedRouter creates a router over the simulated venues, venue A first
func NewSimulatedRouter(venueCfg config.VenueConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger, opts ...SimulatedOption) *Router {
	opts = append([]SimulatedOption{
		WithLatency(venueCfg.QuoteLatency, venueCfg.ExecutionMinLatency, venueCfg.ExecutionJitter),
	}, opts...)

	var venues []Venue
	for _, profile := range config.GetVenueProfiles() {
		venues = append(venues, NewSimulatedVenue(profile, opts...))
	}
	return NewRouter(cbCfg, log, venues...)
}

// Venues returns the venue names in tie-break order
func (r *Router) Venues() []models.Venue {
	out := make([]models.Venue, len(r.order))
	copy(out, r.order)
	return out
}

// Breakers returns the circuit breaker of every venue
func (r *Router) Breakers() map[models.Venue]*circuitbreaker.CircuitBreaker {
	out := make(map[models.Venue]*circuitbreaker.CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

func (r *Router) lookup(name models.Venue) (Venue, *circuitbreaker.CircuitBreaker, error) {
	v, ok := r.venues[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownVenue, name)
	}
	return v, r.breakers[name], nil
}

// Quote asks a single venue for a price
func (r *Router) Quote(ctx context.Context, name models.Venue, tokenIn, tokenOut string, amountIn decimal.Decimal) (models.Quote, error) {
	v, cb, err := r.lookup(name)
	if err != nil {
		return models.Quote{}, err
	}
	if cb.IsOpen() {
		return models.Quote{}, fmt.Errorf("%w: %s circuit open", ErrQuoteUnavailable, name)
	}

	start := time.Now()
	quote, err := v.Quote(ctx, tokenIn, tokenOut, amountIn)
	metrics.QuoteLatency.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.VenueErrors.WithLabelValues(string(name), "quote").Inc()
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		r.logger.ErrorWithVenue(string(name), "Quote %s->%s failed: %v", tokenIn, tokenOut, err)
		if errors.Is(err, ErrQuoteUnavailable) {
			return models.Quote{}, fmt.Errorf("%s: %w", name, err)
		}
		return models.Quote{}, fmt.Errorf("%w from %s: %w", ErrQuoteUnavailable, name, err)
	}

	r.logger.DebugWithVenue(string(name), "Quote %s %s->%s: price %s, output %s",
		amountIn, tokenIn, tokenOut, quote.Price, quote.EstimatedOutput)
	return quote, nil
}

// BestQuote quotes every venue concurrently and returns the one with the largest estimated output.
// Every venue must answer; one failure fails the comparison.
func (r *Router) BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (models.Quote, error) {
	if len(r.order) == 0 {
		return models.Quote{}, fmt.Errorf("%w: no venues configured", ErrQuoteUnavailable)
	}

	quotes := make([]models.Quote, len(r.order))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range r.order {
		i, name := i, name
		g.Go(func() error {
			q, err := r.Quote(gctx, name, tokenIn, tokenOut, amountIn)
			if err != nil {
				return err
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Quote{}, err
	}

	best := SelectBest(quotes)
	metrics.BestVenueSelected.WithLabelValues(string(best.Dex)).Inc()
	r.logger.InfoWithVenue(string(best.Dex), "Best venue for %s %s->%s: output %s at %s",
		amountIn, tokenIn, tokenOut, best.EstimatedOutput, best.Price)
	return best, nil
}

// SelectBest returns the quote with the strictly greatest estimated output.
// On an exact tie the later quote wins.
func SelectBest(quotes []models.Quote) models.Quote {
	if len(quotes) == 0 {
		return models.Quote{}
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if !best.EstimatedOutput.GreaterThan(q.EstimatedOutput) {
			best = q
		}
	}
	return best
}

// ExecuteSwap executes a swap on the named venue
func (r *Router) ExecuteSwap(ctx context.Context, name models.Venue, tokenIn, tokenOut string, amountIn, expectedPrice, slippagePct decimal.Decimal) (models.ExecutionResult, error) {
	v, cb, err := r.lookup(name)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	if cb.IsOpen() {
		return models.ExecutionResult{}, fmt.Errorf("%w: %s circuit open", ErrExecutionFailed, name)
	}

	r.logger.InfoWithVenue(string(name), "Executing swap %s %s->%s at expected price %s (slippage %s%%)",
		amountIn, tokenIn, tokenOut, expectedPrice, slippagePct)

	result, err := v.Execute(ctx, tokenIn, tokenOut, amountIn, expectedPrice, slippagePct)
	if err != nil {
		metrics.VenueErrors.WithLabelValues(string(name), "execute").Inc()
		if ctx.Err() == nil {
			cb.RecordFailure()
		}
		r.logger.ErrorWithVenue(string(name), "Swap execution failed: %v", err)
		if errors.Is(err, ErrExecutionFailed) {
			return models.ExecutionResult{}, fmt.Errorf("%s: %w", name, err)
		}
		return models.ExecutionResult{}, fmt.Errorf("%w on %s: %w", ErrExecutionFailed, name, err)
	}

	r.logger.InfoWithVenue(string(name), "Swap executed: tx %s, price %s, out %s",
		result.TxHash, result.ExecutedPrice, result.AmountOut)
	return result, nil
}

// ResetBreaker closes the circuit breaker of the named venue
func (r *Router) ResetBreaker(name models.Venue) error {
	cb, ok := r.breakers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVenue, name)
	}
	cb.Reset()
	return nil
}
