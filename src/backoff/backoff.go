// Package backoff computes reconnect delays as a pure function of the
// attempt counter, so the schedule can be tested without a network.
package backoff

import (
	"math"
	"time"
)

// Policy defines an exponential backoff schedule. The delay for
// attempt n is Base * Factor^n, capped at Max.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultPolicy doubles from one second up to thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		Base:   time.Second,
		Max:    30 * time.Second,
		Factor: 2,
	}
}

// Delay returns the wait before reconnect attempt n. Attempts are
// counted from zero; negative values are treated as zero.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2
	}

	d := float64(p.Base) * math.Pow(factor, float64(attempt))
	if d > float64(p.Max) || math.IsInf(d, 1) {
		return p.Max
	}
	return time.Duration(d)
}
