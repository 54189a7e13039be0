package dex

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/swaprunner/pkg/config"
	"github.com/speedrun-hq/swaprunner/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBreakerCfg = config.CircuitBreakerConfig{
	Enabled:        true,
	Threshold:      2,
	WindowDuration: time.Minute,
	ResetTimeout:   time.Minute,
}

var fastVenues = config.VenueConfig{
	QuoteLatency:        time.Millisecond,
	ExecutionMinLatency: time.Millisecond,
	ExecutionJitter:     time.Millisecond,
}

// stubVenue returns fixed quotes and counts calls
type stubVenue struct {
	name     models.Venue
	output   decimal.Decimal
	price    decimal.Decimal
	quoteErr error
	execErr  error
	quotes   atomic.Int32
}

func (s *stubVenue) Name() models.Venue { return s.name }

func (s *stubVenue) Quote(_ context.Context, _, _ string, _ decimal.Decimal) (models.Quote, error) {
	s.quotes.Add(1)
	if s.quoteErr != nil {
		return models.Quote{}, s.quoteErr
	}
	return models.Quote{Dex: s.name, Price: s.price, EstimatedOutput: s.output}, nil
}

func (s *stubVenue) Execute(_ context.Context, _, _ string, amountIn, expectedPrice, _ decimal.Decimal) (models.ExecutionResult, error) {
	if s.execErr != nil {
		return models.ExecutionResult{}, s.execErr
	}
	return models.ExecutionResult{
		TxHash:        "0xabc",
		ExecutedPrice: expectedPrice,
		AmountOut:     amountIn.Mul(expectedPrice),
		Dex:           s.name,
	}, nil
}

func TestSimulatedQuoteWithinBounds(t *testing.T) {
	router := NewSimulatedRouter(fastVenues, testBreakerCfg, nil)
	amountIn := d("10")

	for _, name := range router.Venues() {
		profile, ok := config.GetVenueProfile(string(name))
		require.True(t, ok)

		q, err := router.Quote(context.Background(), name, "SOL", "USDC", amountIn)
		require.NoError(t, err)

		net := amountIn.Sub(amountIn.Mul(profile.Fee))
		low := net.Mul(d("100")).Mul(decimal.NewFromFloat(profile.MinVariance)).Sub(d("0.00000001"))
		high := net.Mul(d("100")).Mul(decimal.NewFromFloat(profile.MaxVariance)).Add(d("0.00000001"))

		assert.Equal(t, name, q.Dex)
		assert.True(t, q.Fee.Equal(profile.Fee))
		assert.True(t, q.EstimatedOutput.IsPositive())
		assert.True(t, q.EstimatedOutput.GreaterThanOrEqual(low), "%s output %s below %s", name, q.EstimatedOutput, low)
		assert.True(t, q.EstimatedOutput.LessThanOrEqual(high), "%s output %s above %s", name, q.EstimatedOutput, high)
		assert.LessOrEqual(t, -q.Price.Exponent(), int32(PricePlaces))
		assert.LessOrEqual(t, -q.EstimatedOutput.Exponent(), int32(AmountPlaces))
	}
}

func TestBestQuotePicksLargerOutput(t *testing.T) {
	router := NewSimulatedRouter(fastVenues, testBreakerCfg, nil)

	for i := 0; i < 20; i++ {
		best, err := router.BestQuote(context.Background(), "SOL", "USDC", d("10"))
		require.NoError(t, err)
		assert.True(t, best.EstimatedOutput.IsPositive())
		assert.Contains(t, []models.Venue{models.VenueRaydium, models.VenueMeteora}, best.Dex)
	}

	a := &stubVenue{name: models.VenueRaydium, output: d("99.1"), price: d("99.4")}
	b := &stubVenue{name: models.VenueMeteora, output: d("98.7"), price: d("98.9")}
	best, err := NewRouter(testBreakerCfg, nil, a, b).BestQuote(context.Background(), "SOL", "USDC", d("1"))
	require.NoError(t, err)
	assert.Equal(t, models.VenueRaydium, best.Dex)
	assert.Equal(t, int32(1), a.quotes.Load())
	assert.Equal(t, int32(1), b.quotes.Load())
}

func TestBestQuoteTieGoesToVenueB(t *testing.T) {
	a := &stubVenue{name: models.VenueRaydium, output: d("50"), price: d("5")}
	b := &stubVenue{name: models.VenueMeteora, output: d("50"), price: d("5")}

	best, err := NewRouter(testBreakerCfg, nil, a, b).BestQuote(context.Background(), "RAY", "USDC", d("10"))
	require.NoError(t, err)
	assert.Equal(t, models.VenueMeteora, best.Dex)
}

func TestBestQuoteFailsWhenAnyVenueFails(t *testing.T) {
	a := &stubVenue{name: models.VenueRaydium, output: d("50"), price: d("5")}
	b := &stubVenue{name: models.VenueMeteora, quoteErr: errors.New("rpc timeout")}

	_, err := NewRouter(testBreakerCfg, nil, a, b).BestQuote(context.Background(), "RAY", "USDC", d("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.Contains(t, err.Error(), "rpc timeout")
}

func TestQuoteCircuitOpens(t *testing.T) {
	failing := &stubVenue{name: models.VenueMeteora, quoteErr: errors.New("down")}
	router := NewRouter(testBreakerCfg, nil, failing)

	for i := 0; i < 2; i++ {
		_, err := router.Quote(context.Background(), models.VenueMeteora, "SOL", "USDC", d("1"))
		require.ErrorIs(t, err, ErrQuoteUnavailable)
	}
	require.True(t, router.Breakers()[models.VenueMeteora].IsOpen())

	// open circuit short-circuits without calling the venue
	_, err := router.Quote(context.Background(), models.VenueMeteora, "SOL", "USDC", d("1"))
	assert.ErrorIs(t, err, ErrQuoteUnavailable)
	assert.Equal(t, int32(2), failing.quotes.Load())

	require.NoError(t, router.ResetBreaker(models.VenueMeteora))
	assert.False(t, router.Breakers()[models.VenueMeteora].IsOpen())
	assert.ErrorIs(t, router.ResetBreaker("orca"), ErrUnknownVenue)
}

func TestExecuteSwapSlippageBound(t *testing.T) {
	router := NewSimulatedRouter(fastVenues, testBreakerCfg, nil)

	for i := 0; i < 20; i++ {
		result, err := router.ExecuteSwap(context.Background(), models.VenueRaydium, "SOL", "USDC", d("1"), d("100"), d("1.0"))
		require.NoError(t, err)
		assert.True(t, result.ExecutedPrice.GreaterThanOrEqual(d("100")))
		assert.True(t, result.ExecutedPrice.LessThanOrEqual(d("100.5")), "executed price %s", result.ExecutedPrice)
		assert.Len(t, result.TxHash, TxHashLength)
		assert.Equal(t, models.VenueRaydium, result.Dex)
		assert.True(t, result.AmountOut.IsPositive())
	}
}

func TestExecuteSwapWrapsVenueError(t *testing.T) {
	v := &stubVenue{name: models.VenueRaydium, execErr: errors.New("reverted")}
	_, err := NewRouter(testBreakerCfg, nil, v).ExecuteSwap(context.Background(), models.VenueRaydium, "SOL", "USDC", d("1"), d("100"), d("1"))
	assert.ErrorIs(t, err, ErrExecutionFailed)

	_, err = NewRouter(testBreakerCfg, nil, v).ExecuteSwap(context.Background(), "orca", "SOL", "USDC", d("1"), d("100"), d("1"))
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

func TestSimulatedVenueHonoursContext(t *testing.T) {
	profile, _ := config.GetVenueProfile("raydium")
	v := NewSimulatedVenue(profile, WithLatency(time.Second, time.Second, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := v.Quote(ctx, "SOL", "USDC", d("1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSimulatedVenueDeterministicRandom(t *testing.T) {
	profile, _ := config.GetVenueProfile("raydium")
	v := NewSimulatedVenue(profile, WithLatency(0, 0, 0), WithRandom(func() float64 { return 0.5 }))

	q, err := v.Quote(context.Background(), "SOL", "USDC", d("1000"))
	require.NoError(t, err)
	// price 100 * 1.00, output (1000 - 3) * 100
	assert.True(t, q.Price.Equal(d("100")), "price %s", q.Price)
	assert.True(t, q.EstimatedOutput.Equal(d("99700")), "output %s", q.EstimatedOutput)

	res, err := v.Execute(context.Background(), "SOL", "USDC", d("1"), d("100"), d("1"))
	require.NoError(t, err)
	assert.True(t, res.ExecutedPrice.Equal(d("100.25")), "executed %s", res.ExecutedPrice)
}
