package listener

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Audience curve bounds. The quadratic is slowest at the extremes and
// fastest around curveCenter viewers: idle chats do not deserve quota, and
// very busy ones would swamp the dispatcher anyway.
const (
	minAudience = 1
	maxAudience = 400

	curveSteepness = 0.000625
	curveCenter    = 200.0
	curveFloor     = 5.0

	minDelaySeconds = 5.0
	maxDelaySeconds = 100.0
)

// DelayController owns the loop's two independent timers: the dynamic poll
// delay derived from audience size, and the exponential backoff applied
// after consecutive transient failures.
type DelayController struct {
	bo *backoff.ExponentialBackOff
}

// NewDelayController builds a controller whose backoff starts at initial,
// doubles per consecutive failure, and caps at max. The sequence is
// deterministic: no jitter.
func NewDelayController(initial, max time.Duration) *DelayController {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}
	bo.Reset()
	return &DelayController{bo: bo}
}

// PollDelay maps an audience size (clamped to [1,400]) onto a poll delay.
func (d *DelayController) PollDelay(audience int) time.Duration {
	if audience < minAudience {
		audience = minAudience
	}
	if audience > maxAudience {
		audience = maxAudience
	}
	n := float64(audience)
	sec := curveSteepness*(n-curveCenter)*(n-curveCenter) + curveFloor
	if sec < minDelaySeconds {
		sec = minDelaySeconds
	}
	if sec > maxDelaySeconds {
		sec = maxDelaySeconds
	}
	return time.Duration(math.Round(sec*1000)) * time.Millisecond
}

// PollInterval combines the provider's pacing hint with the audience curve;
// the longer of the two wins.
func (d *DelayController) PollInterval(hint time.Duration, audience int) time.Duration {
	if dyn := d.PollDelay(audience); dyn > hint {
		return dyn
	}
	return hint
}

// NextBackoff returns the sleep for the current consecutive failure and
// advances the doubling sequence.
func (d *DelayController) NextBackoff() time.Duration {
	return d.bo.NextBackOff()
}

// ResetBackoff rewinds the sequence to the initial interval. The loop calls
// this at the top of every successful cycle, not just after a failure, so a
// stale counter never survives into an unrelated later failure.
func (d *DelayController) ResetBackoff() {
	d.bo.Reset()
}
