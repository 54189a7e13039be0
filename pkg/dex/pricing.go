package dex

import (
	"github.com/shopspring/decimal"
)

const (
	// PricePlaces is the precision of quoted and executed prices
	PricePlaces = 6
	// AmountPlaces is the precision of token amounts
	AmountPlaces = 8
)

// executionSlippageFactor scales the slippage percentage into the simulated execution drift
var executionSlippageFactor = decimal.RequireFromString("0.005")

// CalculateOutputAmount returns (amountIn - amountIn*fee) * price
func CalculateOutputAmount(amountIn, price, fee decimal.Decimal) decimal.Decimal {
	return amountIn.Sub(amountIn.Mul(fee)).Mul(price)
}

// RoundTo rounds x half away from zero to the given number of decimal places
func RoundTo(x decimal.Decimal, places int32) decimal.Decimal {
	return x.Round(places)
}

// PriceWithVariance scales base by a factor drawn uniformly from [minVariance, maxVariance]
// using u in [0, 1).
func PriceWithVariance(base decimal.Decimal, minVariance, maxVariance, u float64) decimal.Decimal {
	variance := minVariance + u*(maxVariance-minVariance)
	return base.Mul(decimal.NewFromFloat(variance))
}

// ExecutedPrice applies simulated slippage drift to the expected price.
// The drift is u * slippagePct * 0.005, so a 1% tolerance moves the price by at most 0.5%.
func ExecutedPrice(expectedPrice, slippagePct decimal.Decimal, u float64) decimal.Decimal {
	drift := slippagePct.Mul(executionSlippageFactor).Mul(decimal.NewFromFloat(u))
	return expectedPrice.Mul(decimal.NewFromInt(1).Add(drift))
}
