package retry

import (
	"errors"
	"testing"
	"time"

	"call-insights-go/internal/types"
)

func noJitter(base, max time.Duration) Policy {
	p := New(base, max)
	p.JitterFactor = 0
	return p
}

func TestDecide_PermanentNeverRetried(t *testing.T) {
	p := noJitter(time.Second, time.Minute)
	kinds := []types.ErrorKind{types.KindAuthError, types.KindInvalidAudio, types.KindConstraint}
	for _, kind := range kinds {
		err := types.NewProviderError("op", kind, errors.New("boom"))
		d := p.Decide(err, 1, 5)
		if d.Retry {
			t.Errorf("%s: retried on first attempt despite permanent class", kind)
		}
	}
}

func TestDecide_TransientRetriedUpToCap(t *testing.T) {
	p := noJitter(time.Second, time.Minute)
	err := types.NewProviderError("op", types.KindRateLimited, errors.New("429"))

	for attempt := 1; attempt < 3; attempt++ {
		d := p.Decide(err, attempt, 3)
		if !d.Retry {
			t.Fatalf("attempt %d: expected retry", attempt)
		}
		if want := 3 - attempt; d.AttemptsRemaining != want {
			t.Errorf("attempt %d: remaining = %d, want %d", attempt, d.AttemptsRemaining, want)
		}
	}
	if d := p.Decide(err, 3, 3); d.Retry {
		t.Error("retried past maxAttempts")
	}
}

func TestDecide_UnknownDefaultsToTransient(t *testing.T) {
	p := noJitter(time.Second, time.Minute)
	err := errors.New("something unclassified")
	if d := p.Decide(err, 1, 3); !d.Retry {
		t.Error("unknown error not treated as transient")
	}
	if d := p.Decide(err, 3, 3); d.Retry {
		t.Error("unknown error retried past the cap")
	}
}

func TestDecide_DelayNonDecreasingAndCapped(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	p := noJitter(base, max)
	err := types.NewProviderError("op", types.KindTimeout, errors.New("slow"))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 8; attempt++ {
		d := p.Decide(err, attempt, 20)
		if d.Delay < prev {
			t.Errorf("attempt %d: delay %s decreased from %s", attempt, d.Delay, prev)
		}
		if d.Delay > max {
			t.Errorf("attempt %d: delay %s exceeds cap %s", attempt, d.Delay, max)
		}
		prev = d.Delay
	}

	if d := p.Decide(err, 1, 20); d.Delay != base {
		t.Errorf("first delay = %s, want base %s", d.Delay, base)
	}
	if d := p.Decide(err, 2, 20); d.Delay != 2*base {
		t.Errorf("second delay = %s, want doubled base %s", d.Delay, 2*base)
	}
}

func TestDecide_JitterStaysInBand(t *testing.T) {
	base, max := 100*time.Millisecond, time.Minute
	err := types.NewProviderError("op", types.KindTimeout, errors.New("slow"))

	for _, r := range []float64{0, 0.25, 0.5, 0.75, 1} {
		p := New(base, max)
		p.Rand = func() float64 { return r }
		d := p.Decide(err, 1, 5)
		lo := time.Duration(float64(base) * (1 - p.JitterFactor))
		hi := time.Duration(float64(base) * (1 + p.JitterFactor))
		if d.Delay < lo || d.Delay > hi {
			t.Errorf("rand=%.2f: delay %s outside [%s, %s]", r, d.Delay, lo, hi)
		}
	}
}

func TestDecide_JitteredDelayRespectsCap(t *testing.T) {
	p := New(time.Second, time.Second)
	p.Rand = func() float64 { return 1 } // max positive jitter
	err := types.NewProviderError("op", types.KindTimeout, errors.New("slow"))
	if d := p.Decide(err, 5, 10); d.Delay > time.Second {
		t.Errorf("jittered delay %s exceeds cap", d.Delay)
	}
}
