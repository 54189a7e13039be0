package dex

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// Venue is a liquidity source that can quote and execute swaps.
// Implementations report unreachable or failed calls as errors; the router wraps them.
type Venue interface {
	Name() models.Venue
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (models.Quote, error)
	Execute(ctx context.Context, tokenIn, tokenOut string, amountIn, expectedPrice, slippagePct decimal.Decimal) (models.ExecutionResult, error)
}

// SimulatedVenue produces randomized but bounded quotes and executions
type SimulatedVenue struct {
	profile      config.VenueProfile
	quoteLatency time.Duration
	execMin      time.Duration
	execJitter   time.Duration
	random       func() float64
}

var _ Venue = (*SimulatedVenue)(nil)

// SimulatedOption configures a SimulatedVenue
type SimulatedOption func(*SimulatedVenue)

// WithLatency overrides the simulated quote and execution delays
func WithLatency(quote, execMin, execJitter time.Duration) SimulatedOption {
	return func(v *SimulatedVenue) {
		v.quoteLatency = quote
		v.execMin = execMin
		v.execJitter = execJitter
	}
}

// WithRandom replaces the uniform [0, 1) source
func WithRandom(random func() float64) SimulatedOption {
	return func(v *SimulatedVenue) {
		v.random = random
	}
}

// NewSimulatedVenue creates a simulated venue from its pricing profile
func NewSimulatedVenue(profile config.VenueProfile, opts ...SimulatedOption) *SimulatedVenue {
	v := &SimulatedVenue{
		profile:      profile,
		quoteLatency: config.DefaultQuoteLatency,
		execMin:      config.DefaultExecutionMinLatency,
		execJitter:   config.DefaultExecutionJitter,
		random:       rand.Float64,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *SimulatedVenue) Name() models.Venue {
	return models.Venue(v.profile.Name)
}

func (v *SimulatedVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (models.Quote, error) {
	if err := sleep(ctx, v.quoteLatency); err != nil {
		return models.Quote{}, err
	}

	base := config.GetPairBasePrice(tokenIn, tokenOut)
	price := PriceWithVariance(base, v.profile.MinVariance, v.profile.MaxVariance, v.random())
	output := CalculateOutputAmount(amountIn, price, v.profile.Fee)

	return models.Quote{
		Dex:             v.Name(),
		Price:           RoundTo(price, PricePlaces),
		Fee:             v.profile.Fee,
		EstimatedOutput: RoundTo(output, AmountPlaces),
	}, nil
}

func (v *SimulatedVenue) Execute(ctx context.Context, tokenIn, tokenOut string, amountIn, expectedPrice, slippagePct decimal.Decimal) (models.ExecutionResult, error) {
	delay := v.execMin
	if v.execJitter > 0 {
		delay += time.Duration(v.random() * float64(v.execJitter))
	}
	if err := sleep(ctx, delay); err != nil {
		return models.ExecutionResult{}, err
	}

	executedPrice := RoundTo(ExecutedPrice(expectedPrice, slippagePct, v.random()), PricePlaces)
	amountOut := RoundTo(CalculateOutputAmount(amountIn, executedPrice, v.profile.Fee), AmountPlaces)

	return models.ExecutionResult{
		TxHash:        GenerateTxHash(v.Name(), tokenIn, tokenOut, amountIn),
		ExecutedPrice: executedPrice,
		AmountOut:     amountOut,
		Dex:           v.Name(),
	}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
