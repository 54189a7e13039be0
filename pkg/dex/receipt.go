package dex

import (
	"crypto/rand"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// TxHashLength is the length of a receipt id: 0x followed by 64 hex characters
const TxHashLength = 66

// GenerateTxHash returns a unique receipt id for a simulated swap.
// It is the keccak256 digest of the swap parameters and 32 bytes of entropy.
func GenerateTxHash(venue models.Venue, tokenIn, tokenOut string, amountIn decimal.Decimal) string {
	nonce := make([]byte, 32)
	_, _ = rand.Read(nonce)

	return crypto.Keccak256Hash(
		[]byte(venue),
		[]byte(tokenIn),
		[]byte(tokenOut),
		[]byte(amountIn.String()),
		nonce,
	).Hex()
}
