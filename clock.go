package prism

import "math"

// Clock is the single source of truth for playback time. In live mode it is
// driven by the audio output's consumed-sample counter; in scripted mode it
// advances by fixed deltas and drives the audio cursor instead, which makes
// offline re-renders bit-deterministic.
//
// Time is held as an integer sample count at the production sample rate.
// While live with a positive rate, Now is monotonically non-decreasing;
// a backward-stepping audio counter is clamped and flagged, never applied.
type Clock struct {
	audio      Audio
	sampleRate int

	samples  int64 // current playback position, in samples
	consumed uint64
	rate     float64
	scripted bool
	primed   bool // consumed baseline captured
	desynced bool // one-shot, cleared by TakeDesync
}

// NewClock creates a live clock reading the given audio collaborator.
func NewClock(audio Audio, sampleRate int) *Clock {
	if sampleRate <= 0 {
		panic("prism: sample rate must be positive")
	}
	return &Clock{audio: audio, sampleRate: sampleRate, rate: 1}
}

// NewScriptedClock creates a deterministic clock for offline rendering.
// The audio collaborator is seeked to follow the clock rather than drive it.
func NewScriptedClock(audio Audio, sampleRate int) *Clock {
	c := NewClock(audio, sampleRate)
	c.scripted = true
	return c
}

// Scripted reports whether the clock is in deterministic stepping mode.
func (c *Clock) Scripted() bool { return c.scripted }

// SampleRate returns the clock's sample rate.
func (c *Clock) SampleRate() int { return c.sampleRate }

// Now returns the current playback time in seconds.
func (c *Clock) Now() Time {
	return Time(float64(c.samples) / float64(c.sampleRate))
}

// NowSamples returns the current playback position as a sample count.
func (c *Clock) NowSamples() int64 { return c.samples }

// Rate returns the playback rate. 0 means paused, negative means scrub-back.
func (c *Clock) Rate() float64 { return c.rate }

// SetRate sets the playback rate. The next Advance applies it.
func (c *Clock) SetRate(r float64) { c.rate = r }

// Advance recomputes the current time from the audio backend's consumed-sample
// counter. Called once per frame by the frame loop. A counter discontinuity
// (backward step) clamps to the last known-good time and flags DesyncDetected;
// the time already handed to this frame's scene evaluation never moves back.
func (c *Clock) Advance() Time {
	if c.scripted {
		return c.Now()
	}

	consumed := c.audio.ConsumedSamples()
	if !c.primed {
		c.consumed = consumed
		c.primed = true
		return c.Now()
	}

	if consumed < c.consumed {
		// Device discontinuity. Hold time, rebase the counter so playback
		// resumes from here instead of replaying the gap.
		c.consumed = consumed
		c.desynced = true
		return c.Now()
	}

	delta := int64(consumed - c.consumed)
	c.consumed = consumed
	if c.rate != 0 {
		c.samples += int64(math.Round(float64(delta) * c.rate))
		if c.samples < 0 {
			c.samples = 0
		}
	}
	return c.Now()
}

// AdvanceBy advances a scripted clock by a fixed delta in seconds and drives
// the audio cursor to match. No-op on live clocks (the audio output is
// authoritative there).
func (c *Clock) AdvanceBy(dt float64) Time {
	if !c.scripted {
		return c.Now()
	}
	c.samples += int64(math.Round(dt * c.rate * float64(c.sampleRate)))
	if c.samples < 0 {
		c.samples = 0
	}
	if c.audio != nil {
		c.audio.Seek(uint64(c.samples)) //nolint:errcheck // scripted audio follows best-effort
	}
	return c.Now()
}

// Seek sets the current time directly and moves the audio playback cursor to
// the same sample offset, so the two never diverge by more than one audio
// buffer. Seeking is exempt from the monotonicity invariant.
func (c *Clock) Seek(t Time) error {
	s := int64(math.Round(float64(t) * float64(c.sampleRate)))
	if s < 0 {
		s = 0
	}
	c.samples = s
	if c.audio != nil {
		if err := c.audio.Seek(uint64(s)); err != nil {
			return err
		}
		// Rebase so the pre-seek counter value is not misread as a delta.
		c.consumed = c.audio.ConsumedSamples()
		c.primed = true
	}
	return nil
}

// TakeDesync reports and clears the desync flag. The frame loop reads this
// once per tick and emits a DesyncDetected event.
func (c *Clock) TakeDesync() bool {
	d := c.desynced
	c.desynced = false
	return d
}
