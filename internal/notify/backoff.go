package notify

import (
	"math/rand/v2"
	"time"
)

// retryDelay returns the wait before the attempt after attempt (1-based):
// base*2^(attempt-1), capped at max, with symmetric jitter. The result never
// exceeds max.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	if base <= 0 || maxD <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	if j := cfg.RetryJitter; j > 0 {
		d = time.Duration(float64(d) * (1 - j + rand.Float64()*2*j))
	}
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
