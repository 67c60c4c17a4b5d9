package retry

import (
	"math"
	"math/rand"
	"time"

	"call-insights-go/internal/types"
)

// Policy decides retry eligibility and backoff delay for a failed stage
// attempt. It is stateless; attempt counters live on the ProcessingRecord.
type Policy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// Rand overrides the jitter source, for deterministic tests.
	Rand func() float64
}

// New builds a policy with the conventional doubling curve and a small
// jitter band.
func New(base, max time.Duration) Policy {
	return Policy{
		BaseDelay:    base,
		MaxDelay:     max,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// Decide evaluates the attempt that just failed. attempt is 1-based: after
// the k-th failure of a stage with maxAttempts=k the answer is final.
// Permanent errors are never retried; unknown kinds default to transient.
func (p Policy) Decide(err error, attempt, maxAttempts int) types.RetryDecision {
	if types.KindOf(err).Class() == types.ClassPermanent {
		return types.RetryDecision{}
	}
	if attempt >= maxAttempts {
		return types.RetryDecision{}
	}
	return types.RetryDecision{
		Retry:             true,
		Delay:             p.delay(attempt),
		AttemptsRemaining: maxAttempts - attempt,
	}
}

func (p Policy) delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 1 {
		mult = 2.0
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.JitterFactor > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d *= 1 + p.JitterFactor*(2*r()-1)
		if d > float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
		}
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
