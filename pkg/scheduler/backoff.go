package scheduler

import (
	"time"
)

// MaxBackoff caps a single retry delay
const MaxBackoff = time.Hour

// CalculateBackoff returns the delay before the attempt following attempt n (1-based):
// base * 2^(n-1). With a 1s base the second attempt waits 1s and the third 2s.
func CalculateBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= MaxBackoff || backoff <= 0 {
			return MaxBackoff
		}
	}
	if backoff > MaxBackoff {
		return MaxBackoff
	}
	return backoff
}
