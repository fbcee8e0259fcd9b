package prism

import (
	"fmt"
	"sort"

	"github.com/tanema/gween/ease"
)

// PayloadKind discriminates cue payload behavior. Payloads are a tagged
// variant dispatched by switch; the composition rules between kinds form a
// closed table, not open-ended behavior.
type PayloadKind uint8

const (
	PayloadTransform  PayloadKind = iota // keyframed transform channels
	PayloadParams                        // keyframed shader parameters
	PayloadVisibility                    // visibility toggle
)

// String returns the manifest spelling of the payload kind.
func (k PayloadKind) String() string {
	switch k {
	case PayloadTransform:
		return "transform"
	case PayloadParams:
		return "params"
	case PayloadVisibility:
		return "visibility"
	default:
		return "unknown"
	}
}

// Channel identifies one animatable transform channel on a scene node.
type Channel uint8

const (
	ChannelX Channel = iota
	ChannelY
	ChannelScaleX
	ChannelScaleY
	ChannelRotation
	ChannelAlpha
	numChannels
)

var channelNames = [numChannels]string{"x", "y", "scale-x", "scale-y", "rotation", "alpha"}

// String returns the manifest spelling of the channel.
func (c Channel) String() string {
	if int(c) < len(channelNames) {
		return channelNames[c]
	}
	return "unknown"
}

// ChannelByName maps a manifest spelling back to a Channel.
func ChannelByName(name string) (Channel, bool) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), true
		}
	}
	return 0, false
}

// Keyframe is one point on an animation track. Ease names the easing function
// used to approach this keyframe from the previous one; empty means linear.
type Keyframe struct {
	Time  Time
	Value float64
	Ease  string
}

// Track is a named, keyframed value curve. Keyframes are sorted by time at
// load and immutable afterwards.
type Track struct {
	Channel Channel // transform payloads
	Param   string  // param payloads
	Frames  []Keyframe
}

// Payload is the tagged-variant cue payload. Exactly the fields for its Kind
// are populated; the rest stay zero.
type Payload struct {
	Kind     PayloadKind
	Tracks   []Track // transform: sorted by Channel; params: sorted by Param
	Additive bool    // transform only: values apply as offsets, not sets
	Visible  bool    // visibility only
}

// easeTable maps manifest easing names to gween easing functions.
var easeTable = map[string]ease.TweenFunc{
	"linear":       ease.Linear,
	"in-quad":      ease.InQuad,
	"out-quad":     ease.OutQuad,
	"in-out-quad":  ease.InOutQuad,
	"in-cubic":     ease.InCubic,
	"out-cubic":    ease.OutCubic,
	"in-out-cubic": ease.InOutCubic,
	"in-sine":      ease.InSine,
	"out-sine":     ease.OutSine,
	"in-out-sine":  ease.InOutSine,
	"in-expo":      ease.InExpo,
	"out-expo":     ease.OutExpo,
	"in-out-expo":  ease.InOutExpo,
	"in-back":      ease.InBack,
	"out-back":     ease.OutBack,
	"out-bounce":   ease.OutBounce,
	"out-elastic":  ease.OutElastic,
}

// easeFunc resolves an easing name; empty resolves to linear.
func easeFunc(name string) (ease.TweenFunc, error) {
	if name == "" {
		return ease.Linear, nil
	}
	fn, ok := easeTable[name]
	if !ok {
		return nil, fmt.Errorf("unknown easing %q", name)
	}
	return fn, nil
}

// Sample evaluates a track at a cue-local time. Before the first keyframe the
// first value holds; after the last keyframe the last value holds (cues "set
// and hold").
func (tr Track) Sample(local Time) float64 {
	frames := tr.Frames
	if len(frames) == 0 {
		return 0
	}
	if local <= frames[0].Time {
		return frames[0].Value
	}
	last := frames[len(frames)-1]
	if local >= last.Time {
		return last.Value
	}
	// Find the segment containing local: frames[i].Time <= local < frames[i+1].Time.
	i := sort.Search(len(frames), func(j int) bool { return frames[j].Time > local }) - 1
	a, b := frames[i], frames[i+1]
	dur := float64(b.Time - a.Time)
	if dur <= 0 {
		return b.Value
	}
	fn, err := easeFunc(b.Ease)
	if err != nil {
		// Unknown names are rejected at load.
		fn = ease.Linear
	}
	elapsed := float64(local - a.Time)
	return float64(fn(float32(elapsed), float32(a.Value), float32(b.Value-a.Value), float32(dur)))
}

// normalize validates the payload and puts its tracks in canonical order so
// evaluation and serialization are deterministic. Called once at load.
func (p *Payload) normalize() error {
	switch p.Kind {
	case PayloadTransform:
		if len(p.Tracks) == 0 {
			return fmt.Errorf("transform payload has no tracks")
		}
		seen := make(map[Channel]bool, len(p.Tracks))
		for i := range p.Tracks {
			tr := &p.Tracks[i]
			if seen[tr.Channel] {
				return fmt.Errorf("duplicate channel %s", tr.Channel)
			}
			seen[tr.Channel] = true
			if err := normalizeFrames(tr.Frames); err != nil {
				return fmt.Errorf("channel %s: %w", tr.Channel, err)
			}
		}
		sort.Slice(p.Tracks, func(i, j int) bool { return p.Tracks[i].Channel < p.Tracks[j].Channel })
	case PayloadParams:
		if len(p.Tracks) == 0 {
			return fmt.Errorf("params payload has no tracks")
		}
		seen := make(map[string]bool, len(p.Tracks))
		for i := range p.Tracks {
			tr := &p.Tracks[i]
			if tr.Param == "" {
				return fmt.Errorf("params payload track missing name")
			}
			if seen[tr.Param] {
				return fmt.Errorf("duplicate param %q", tr.Param)
			}
			seen[tr.Param] = true
			if err := normalizeFrames(tr.Frames); err != nil {
				return fmt.Errorf("param %q: %w", tr.Param, err)
			}
		}
		sort.Slice(p.Tracks, func(i, j int) bool { return p.Tracks[i].Param < p.Tracks[j].Param })
	case PayloadVisibility:
		if len(p.Tracks) != 0 {
			return fmt.Errorf("visibility payload cannot carry tracks")
		}
	default:
		return fmt.Errorf("unknown payload kind %d", p.Kind)
	}
	return nil
}

func normalizeFrames(frames []Keyframe) error {
	if len(frames) == 0 {
		return fmt.Errorf("empty keyframe list")
	}
	sort.SliceStable(frames, func(i, j int) bool { return frames[i].Time < frames[j].Time })
	for _, f := range frames {
		if f.Time < 0 {
			return fmt.Errorf("keyframe time %g before cue start", float64(f.Time))
		}
		if _, err := easeFunc(f.Ease); err != nil {
			return err
		}
	}
	return nil
}

// Compositable reports whether two payloads may be active on the same node at
// the same time. The rule table:
//
//   - transform × transform: disjoint channel sets, or all shared channels
//     carried by additive payloads (offsets stack, sets must be exclusive)
//   - params × params: disjoint parameter names
//   - visibility × visibility: never
//   - different kinds: always
func Compositable(a, b Payload) bool {
	if a.Kind != b.Kind {
		return true
	}
	switch a.Kind {
	case PayloadTransform:
		for _, ta := range a.Tracks {
			for _, tb := range b.Tracks {
				if ta.Channel == tb.Channel && !(a.Additive && b.Additive) {
					return false
				}
			}
		}
		return true
	case PayloadParams:
		for _, ta := range a.Tracks {
			for _, tb := range b.Tracks {
				if ta.Param == tb.Param {
					return false
				}
			}
		}
		return true
	default: // visibility
		return false
	}
}
