package prism

import (
	"path/filepath"
	"reflect"
	"testing"
)

const timelineYAML = `version: "1"
cues:
  - id: slide
    start: 0
    end: 2
    node: root/logo
    kind: transform
    channels:
      x:
        - {time: 0, value: 0}
        - {time: 2, value: 100, ease: in-out-quad}
  - id: glow
    start: 1
    end: 3
    node: root/logo
    kind: params
    params:
      Intensity:
        - {time: 0, value: 1}
  - id: hide
    start: 3
    end: 4
    node: root/logo
    kind: visibility
    visible: false
`

func TestParseTimelineManifest(t *testing.T) {
	m, err := ParseTimelineManifest([]byte(timelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Cues) != 3 {
		t.Fatalf("cues = %d, want 3", len(m.Cues))
	}
	if m.Cues[0].Kind != "transform" || m.Cues[1].Kind != "params" || m.Cues[2].Kind != "visibility" {
		t.Errorf("kinds = %q %q %q", m.Cues[0].Kind, m.Cues[1].Kind, m.Cues[2].Kind)
	}
	if m.Cues[0].Channels["x"][1].Ease != "in-out-quad" {
		t.Errorf("ease = %q, want in-out-quad", m.Cues[0].Channels["x"][1].Ease)
	}
}

func TestBuildTimelineFromManifest(t *testing.T) {
	m, err := ParseTimelineManifest([]byte(timelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	tl, err := BuildTimeline(m)
	if err != nil {
		t.Fatal(err)
	}
	if tl.Len() != 3 {
		t.Fatalf("timeline cues = %d, want 3", tl.Len())
	}
	ids := cueIDs(tl.ActiveCues(1.5))
	if !sameIDs(ids, "slide", "glow") {
		t.Errorf("ActiveCues(1.5) = %v, want [slide glow]", ids)
	}
}

func TestTimelineManifestRoundTrip(t *testing.T) {
	in, err := ParseTimelineManifest([]byte(timelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	tl, err := BuildTimeline(in)
	if err != nil {
		t.Fatal(err)
	}

	out := ManifestFromTimeline(tl)
	tl2, err := BuildTimeline(out)
	if err != nil {
		t.Fatal(err)
	}

	// The rebuilt manifest must describe an identical cue graph.
	if tl2.Len() != tl.Len() {
		t.Fatalf("rebuilt cues = %d, want %d", tl2.Len(), tl.Len())
	}
	for i, a := range tl.Cues() {
		b := tl2.Cues()[i]
		if a.ID != b.ID || a.Start != b.Start || a.End != b.End || a.Node != b.Node {
			t.Errorf("cue %d header differs: %+v vs %+v", i, a, b)
		}
		if !reflect.DeepEqual(a.Payload, b.Payload) {
			t.Errorf("cue %q payload differs:\n%+v\n%+v", a.ID, a.Payload, b.Payload)
		}
	}
}

func TestBuildTimelineRejectsUnknownKind(t *testing.T) {
	m := &TimelineManifest{Cues: []CueManifest{
		{ID: "x", Start: 0, End: 1, Node: "root/n", Kind: "morph"},
	}}
	if _, err := BuildTimeline(m); err == nil {
		t.Error("expected error for unknown payload kind")
	}
}

func TestBuildTimelineRejectsUnknownChannel(t *testing.T) {
	m := &TimelineManifest{Cues: []CueManifest{
		{ID: "x", Start: 0, End: 1, Node: "root/n", Kind: "transform",
			Channels: map[string][]KeyframeManifest{"spin": {{Value: 1}}}},
	}}
	if _, err := BuildTimeline(m); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestTimelineManifestFileRoundTrip(t *testing.T) {
	m, err := ParseTimelineManifest([]byte(timelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "timeline.yaml")
	if err := WriteTimelineManifest(m, path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadTimelineManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("file round trip differs:\n%+v\n%+v", got, m)
	}
}

const pipelineYAML = `version: "1"
passes:
  - id: scene
    shader: scene.kage
    node: root/logo
    inputs:
      - asset: logo.png
  - id: post
    shader: blur.kage
    screen: true
    inputs:
      - pass: scene
`

func TestParsePipelineManifest(t *testing.T) {
	m, err := ParsePipelineManifest([]byte(pipelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Passes) != 2 {
		t.Fatalf("passes = %d, want 2", len(m.Passes))
	}
	if m.Passes[0].Inputs[0].Asset != "logo.png" {
		t.Errorf("asset input = %q", m.Passes[0].Inputs[0].Asset)
	}
	if m.Passes[1].Inputs[0].Pass != "scene" || !m.Passes[1].Screen {
		t.Errorf("pass input = %+v", m.Passes[1])
	}
}

func TestPipelineManifestFileRoundTrip(t *testing.T) {
	m, err := ParsePipelineManifest([]byte(pipelineYAML))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := WritePipelineManifest(m, path); err != nil {
		t.Fatal(err)
	}
	got, err := ReadPipelineManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("file round trip differs:\n%+v\n%+v", got, m)
	}
}
