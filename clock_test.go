package prism

import (
	"math"
	"testing"
)

// fakeAudio is a scriptable Audio collaborator for clock tests.
type fakeAudio struct {
	consumed uint64
	seeks    []uint64
}

func (a *fakeAudio) ConsumedSamples() uint64 { return a.consumed }

func (a *fakeAudio) Seek(sample uint64) error {
	a.seeks = append(a.seeks, sample)
	return nil
}

func TestClockFirstAdvancePrimesBaseline(t *testing.T) {
	au := &fakeAudio{consumed: 96000}
	c := NewClock(au, 48000)

	// The pre-existing counter value is a baseline, not elapsed time.
	if got := c.Advance(); got != 0 {
		t.Errorf("first Advance = %v, want 0", got)
	}

	au.consumed += 48000
	if got := c.Advance(); got != 1 {
		t.Errorf("second Advance = %v, want 1", got)
	}
}

func TestClockAdvanceFollowsConsumedSamples(t *testing.T) {
	au := &fakeAudio{}
	c := NewClock(au, 48000)
	c.Advance()

	au.consumed = 24000
	if got := c.Advance(); got != 0.5 {
		t.Errorf("Advance = %v, want 0.5", got)
	}
	au.consumed = 24000 + 12000
	if got := c.Advance(); got != 0.75 {
		t.Errorf("Advance = %v, want 0.75", got)
	}
}

func TestClockRateScalesDelta(t *testing.T) {
	au := &fakeAudio{}
	c := NewClock(au, 48000)
	c.Advance()
	c.SetRate(2)

	au.consumed = 48000
	if got := c.Advance(); got != 2 {
		t.Errorf("Advance at rate 2 = %v, want 2", got)
	}

	c.SetRate(0)
	au.consumed = 96000
	if got := c.Advance(); got != 2 {
		t.Errorf("Advance at rate 0 = %v, want 2 (held)", got)
	}
}

func TestClockNegativeRateClampsAtZero(t *testing.T) {
	au := &fakeAudio{}
	c := NewClock(au, 48000)
	c.Advance()
	c.SetRate(-1)

	au.consumed = 480000
	if got := c.Advance(); got != 0 {
		t.Errorf("Advance = %v, want clamp at 0", got)
	}
}

func TestClockDesyncClampsAndFlags(t *testing.T) {
	au := &fakeAudio{}
	c := NewClock(au, 48000)
	c.Advance()

	au.consumed = 48000
	c.Advance()

	// Device discontinuity: the counter steps backward.
	au.consumed = 1000
	if got := c.Advance(); got != 1 {
		t.Errorf("Advance after desync = %v, want held 1", got)
	}
	if !c.TakeDesync() {
		t.Fatal("expected TakeDesync after backward counter")
	}
	if c.TakeDesync() {
		t.Error("TakeDesync did not clear the flag")
	}

	// The rebased counter resumes normal accounting.
	au.consumed = 1000 + 24000
	if got := c.Advance(); got != 1.5 {
		t.Errorf("Advance after rebase = %v, want 1.5", got)
	}
}

func TestClockSeekMovesAudioCursor(t *testing.T) {
	au := &fakeAudio{}
	c := NewClock(au, 48000)
	c.Advance()

	if err := c.Seek(2); err != nil {
		t.Fatal(err)
	}
	if got := c.Now(); got != 2 {
		t.Errorf("Now after seek = %v, want 2", got)
	}
	if len(au.seeks) != 1 || au.seeks[0] != 96000 {
		t.Errorf("audio seeks = %v, want [96000]", au.seeks)
	}

	// The counter value observed during the seek must not replay as a delta.
	if got := c.Advance(); got != 2 {
		t.Errorf("Advance after seek = %v, want 2", got)
	}
}

func TestScriptedClockIsDeterministic(t *testing.T) {
	run := func() []Time {
		c := NewScriptedClock(&fakeAudio{}, 48000)
		out := make([]Time, 0, 10)
		for i := 0; i < 10; i++ {
			out = append(out, c.AdvanceBy(1.0/60))
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d: %v != %v", i, a[i], b[i])
		}
	}
	if math.Abs(float64(a[9])-10.0/60) > 1e-4 {
		t.Errorf("final time = %v, want ~%v", a[9], 10.0/60)
	}
}

func TestScriptedClockDrivesAudio(t *testing.T) {
	au := &fakeAudio{}
	c := NewScriptedClock(au, 48000)

	c.AdvanceBy(0.5)
	if len(au.seeks) != 1 || au.seeks[0] != 24000 {
		t.Errorf("audio seeks = %v, want [24000]", au.seeks)
	}

	// Live Advance is a no-op in scripted mode.
	au.consumed = 480000
	if got := c.Advance(); got != 0.5 {
		t.Errorf("Advance in scripted mode = %v, want 0.5", got)
	}
}
