package config

import (
	"strings"

	"github.com/shopspring/decimal"
)

// pairBasePrices maps "TOKENIN-TOKENOUT" to the reference price of one unit of tokenIn in tokenOut
var pairBasePrices = map[string]decimal.Decimal{
	"SOL-USDC":  decimal.RequireFromString("100"),
	"SOL-USDT":  decimal.RequireFromString("100.5"),
	"USDC-USDT": decimal.RequireFromString("1"),
	"BONK-USDC": decimal.RequireFromString("0.00001234"),
	"RAY-USDC":  decimal.RequireFromString("2.5"),
}

// VenueProfile describes the simulated pricing behaviour of a venue
type VenueProfile struct {
	Name        string
	MinVariance float64
	MaxVariance float64
	Fee         decimal.Decimal
}

// venueProfiles is ordered A then B
var venueProfiles = []VenueProfile{
	{
		Name:        "raydium",
		MinVariance: 0.98,
		MaxVariance: 1.02,
		Fee:         decimal.RequireFromString("0.003"),
	},
	{
		Name:        "meteora",
		MinVariance: 0.97,
		MaxVariance: 1.02,
		Fee:         decimal.RequireFromString("0.002"),
	},
}

func pairKey(tokenIn, tokenOut string) string {
	return strings.ToUpper(tokenIn) + "-" + strings.ToUpper(tokenOut)
}

// GetPairBasePrice returns the reference price for a pair.
// The inverse of the reverse pair is used when only that direction is listed, and 1 when neither is.
func GetPairBasePrice(tokenIn, tokenOut string) decimal.Decimal {
	if price, ok := pairBasePrices[pairKey(tokenIn, tokenOut)]; ok {
		return price
	}
	if reverse, ok := pairBasePrices[pairKey(tokenOut, tokenIn)]; ok && !reverse.IsZero() {
		return decimal.NewFromInt(1).Div(reverse)
	}
	return decimal.NewFromInt(1)
}

// GetVenueProfiles returns the venue profiles, venue A first
func GetVenueProfiles() []VenueProfile {
	profiles := make([]VenueProfile, len(venueProfiles))
	copy(profiles, venueProfiles)
	return profiles
}

// GetVenueProfile returns the profile of a named venue
func GetVenueProfile(name string) (VenueProfile, bool) {
	for _, p := range venueProfiles {
		if p.Name == name {
			return p, true
		}
	}
	return VenueProfile{}, false
}
