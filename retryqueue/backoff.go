package retryqueue

import (
	"fmt"
	"math"
	"time"
)

const (
	DefaultBackoffBase  = 5 * time.Minute
	DefaultBackoffRatio = 3
	// maxBackoff caps the delay so large retry counts cannot overflow time.Duration.
	maxBackoff = 30 * 24 * time.Hour
)

// Backoff computes the delay before retry attempt n (n >= 1) as
// Base * Ratio^(n-1): 5m, 15m, 45m with the defaults.
type Backoff struct {
	Base  time.Duration
	Ratio int
}

// DefaultBackoff returns the 5 minute, ratio 3 policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBackoffBase, Ratio: DefaultBackoffRatio}
}

// Validate rejects non-geometric policies.
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", b.Base)
	}
	if b.Ratio < 2 {
		return fmt.Errorf("backoff ratio must be at least 2, got %d", b.Ratio)
	}
	return nil
}

// Delay returns the wait before attempt n. Values of n below 1 are treated as 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Base) * math.Pow(float64(b.Ratio), float64(n-1))
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

// NextRetryAt returns now + Delay(n).
func (b Backoff) NextRetryAt(now time.Time, n int) time.Time {
	return now.Add(b.Delay(n))
}
