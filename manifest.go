package prism

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TimelineManifest is the serializable timeline description. Loading a
// manifest, rebuilding it from the resulting Timeline, and loading it again
// reproduces an identical cue graph.
type TimelineManifest struct {
	Version string        `yaml:"version"`
	Cues    []CueManifest `yaml:"cues"`
}

// CueManifest is one cue entry in a timeline document.
type CueManifest struct {
	ID       string                        `yaml:"id"`
	Start    float64                       `yaml:"start"`
	End      float64                       `yaml:"end"`
	Node     string                        `yaml:"node"`
	Kind     string                        `yaml:"kind"`
	Additive bool                          `yaml:"additive,omitempty"`
	Channels map[string][]KeyframeManifest `yaml:"channels,omitempty"`
	Params   map[string][]KeyframeManifest `yaml:"params,omitempty"`
	Visible  bool                          `yaml:"visible,omitempty"`
}

// KeyframeManifest is one keyframe entry on a manifest track.
type KeyframeManifest struct {
	Time  float64 `yaml:"time"`
	Value float64 `yaml:"value"`
	Ease  string  `yaml:"ease,omitempty"`
}

// ReadTimelineManifest loads a timeline document from disk.
func ReadTimelineManifest(path string) (*TimelineManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTimelineManifest(data)
}

// ParseTimelineManifest parses timeline document bytes.
func ParseTimelineManifest(data []byte) (*TimelineManifest, error) {
	var m TimelineManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("prism: parse timeline: %w", err)
	}
	return &m, nil
}

// WriteTimelineManifest writes a timeline document to disk.
func WriteTimelineManifest(m *TimelineManifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// BuildTimeline turns a manifest into a validated, immutable Timeline.
func BuildTimeline(m *TimelineManifest) (*Timeline, error) {
	cues := make([]Cue, 0, len(m.Cues))
	for _, cm := range m.Cues {
		cue := Cue{
			ID:    cm.ID,
			Start: Time(cm.Start),
			End:   Time(cm.End),
			Node:  cm.Node,
		}
		switch cm.Kind {
		case "transform":
			cue.Payload.Kind = PayloadTransform
			cue.Payload.Additive = cm.Additive
			for name, frames := range cm.Channels {
				ch, ok := ChannelByName(name)
				if !ok {
					return nil, fmt.Errorf("prism: cue %q: unknown channel %q", cm.ID, name)
				}
				cue.Payload.Tracks = append(cue.Payload.Tracks, Track{
					Channel: ch,
					Frames:  buildFrames(frames),
				})
			}
		case "params":
			cue.Payload.Kind = PayloadParams
			for name, frames := range cm.Params {
				cue.Payload.Tracks = append(cue.Payload.Tracks, Track{
					Param:  name,
					Frames: buildFrames(frames),
				})
			}
		case "visibility":
			cue.Payload.Kind = PayloadVisibility
			cue.Payload.Visible = cm.Visible
		default:
			return nil, fmt.Errorf("prism: cue %q: unknown payload kind %q", cm.ID, cm.Kind)
		}
		cues = append(cues, cue)
	}
	return NewTimeline(cues)
}

func buildFrames(frames []KeyframeManifest) []Keyframe {
	out := make([]Keyframe, len(frames))
	for i, f := range frames {
		out[i] = Keyframe{Time: Time(f.Time), Value: f.Value, Ease: f.Ease}
	}
	return out
}

// ManifestFromTimeline rebuilds the serializable description from a loaded
// timeline, in declaration order. Together with BuildTimeline it forms the
// round-trip contract.
func ManifestFromTimeline(tl *Timeline) *TimelineManifest {
	byDecl := make([]*Cue, len(tl.cues))
	copy(byDecl, tl.cues)
	for i := 1; i < len(byDecl); i++ {
		for j := i; j > 0 && byDecl[j-1].decl > byDecl[j].decl; j-- {
			byDecl[j-1], byDecl[j] = byDecl[j], byDecl[j-1]
		}
	}

	m := &TimelineManifest{Version: "1"}
	for _, c := range byDecl {
		cm := CueManifest{
			ID:    c.ID,
			Start: float64(c.Start),
			End:   float64(c.End),
			Node:  c.Node,
		}
		switch c.Payload.Kind {
		case PayloadTransform:
			cm.Kind = "transform"
			cm.Additive = c.Payload.Additive
			cm.Channels = make(map[string][]KeyframeManifest, len(c.Payload.Tracks))
			for _, tr := range c.Payload.Tracks {
				cm.Channels[tr.Channel.String()] = manifestFrames(tr.Frames)
			}
		case PayloadParams:
			cm.Kind = "params"
			cm.Params = make(map[string][]KeyframeManifest, len(c.Payload.Tracks))
			for _, tr := range c.Payload.Tracks {
				cm.Params[tr.Param] = manifestFrames(tr.Frames)
			}
		case PayloadVisibility:
			cm.Kind = "visibility"
			cm.Visible = c.Payload.Visible
		}
		m.Cues = append(m.Cues, cm)
	}
	return m
}

func manifestFrames(frames []Keyframe) []KeyframeManifest {
	out := make([]KeyframeManifest, len(frames))
	for i, f := range frames {
		out[i] = KeyframeManifest{Time: float64(f.Time), Value: f.Value, Ease: f.Ease}
	}
	return out
}

// PipelineManifest is the serializable render pipeline description: an
// ordered list of passes whose dependencies must form a DAG.
type PipelineManifest struct {
	Version string         `yaml:"version"`
	Passes  []PassManifest `yaml:"passes"`
}

// PassManifest is one render pass entry. Target names another pass's output
// buffer implicitly (each pass owns one); an empty Target draws to the screen.
// Node binds the pass's uniforms to a scene node's parameters.
type PassManifest struct {
	ID     string          `yaml:"id"`
	Shader string          `yaml:"shader"`
	Node   string          `yaml:"node,omitempty"`
	Inputs []InputManifest `yaml:"inputs,omitempty"`
	Screen bool            `yaml:"screen,omitempty"`
}

// InputManifest is one pass input: exactly one of Asset (a logical texture
// path) or Pass (a prior pass's output) is set.
type InputManifest struct {
	Asset string `yaml:"asset,omitempty"`
	Pass  string `yaml:"pass,omitempty"`
}

// ReadPipelineManifest loads a pipeline document from disk.
func ReadPipelineManifest(path string) (*PipelineManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePipelineManifest(data)
}

// ParsePipelineManifest parses pipeline document bytes.
func ParsePipelineManifest(data []byte) (*PipelineManifest, error) {
	var m PipelineManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("prism: parse pipeline: %w", err)
	}
	return &m, nil
}

// WritePipelineManifest writes a pipeline document to disk.
func WritePipelineManifest(m *PipelineManifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
