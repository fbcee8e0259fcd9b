package prism

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// fakeGraphics records backend calls for scheduler tests.
type fakeGraphics struct {
	failSubstr  string // CreatePipeline fails for sources containing this
	compiled    []string
	targets     int
	released    []TargetHandle
	releasedTex []*Texture
	execs       []fakeExec
	execErr     error
}

type fakeExec struct {
	pipeline PipelineHandle
	target   TargetHandle
	inputs   []Resource
	uniforms map[string]any
}

func (g *fakeGraphics) CreatePipeline(src []byte) (PipelineHandle, error) {
	if g.failSubstr != "" && bytes.Contains(src, []byte(g.failSubstr)) {
		return 0, fmt.Errorf("compile error near %q", g.failSubstr)
	}
	g.compiled = append(g.compiled, string(src))
	return PipelineHandle(len(g.compiled) - 1), nil
}

func (g *fakeGraphics) CreateTarget(w, h int) (TargetHandle, error) {
	g.targets++
	return TargetHandle(g.targets - 1), nil
}

func (g *fakeGraphics) Execute(p PipelineHandle, inputs []Resource, uniforms map[string]any, target TargetHandle) error {
	g.execs = append(g.execs, fakeExec{pipeline: p, target: target, inputs: inputs, uniforms: uniforms})
	return g.execErr
}

func (g *fakeGraphics) ReleaseTarget(t TargetHandle) {
	g.released = append(g.released, t)
}

func (g *fakeGraphics) ReleaseTexture(t *Texture) {
	g.releasedTex = append(g.releasedTex, t)
}

func collectSink() (EventSink, *[]Event) {
	var events []Event
	return func(ev Event) { events = append(events, ev) }, &events
}

func twoPassManifest() *PipelineManifest {
	// "post" is declared before its dependency to exercise the sort.
	return &PipelineManifest{Passes: []PassManifest{
		{ID: "post", Shader: "post.kage", Screen: true,
			Inputs: []InputManifest{{Pass: "main"}}},
		{ID: "main", Shader: "main.kage", Node: "root/fx",
			Inputs: []InputManifest{{Asset: "tex.png"}}},
	}}
}

func newTestScheduler(t *testing.T, g Graphics, m *PipelineManifest) (*RenderScheduler, *AssetCache) {
	t.Helper()
	ac := newTestCache(t, map[string]string{
		"main.kage": "main v1",
		"post.kage": "post v1",
		"tex.png":   "pixels",
	})
	rs, err := NewRenderScheduler(g, ac, m, 640, 480)
	if err != nil {
		t.Fatal(err)
	}
	return rs, ac
}

func TestSchedulerExecutesInDependencyOrder(t *testing.T) {
	g := &fakeGraphics{}
	rs, ac := newTestScheduler(t, g, twoPassManifest())
	sink, events := collectSink()

	s := NewScene()
	s.Ensure("root/fx")
	rs.Execute(s, 1, sink)
	ac.EndFrame()

	if len(*events) != 0 {
		t.Fatalf("events = %v, want none", *events)
	}
	if len(g.execs) != 2 {
		t.Fatalf("execs = %d, want 2", len(g.execs))
	}
	// "main" runs first into its offscreen target; "post" consumes it on the
	// way to the screen.
	if g.execs[0].target == TargetScreen {
		t.Error("dependency executed after its consumer")
	}
	if g.execs[1].target != TargetScreen {
		t.Errorf("final pass target = %v, want screen", g.execs[1].target)
	}
	if in := g.execs[1].inputs; len(in) != 1 || in[0].Texture != nil || in[0].Target != g.execs[0].target {
		t.Errorf("post inputs = %+v, want main's target", in)
	}
}

func TestSchedulerRejectsCycle(t *testing.T) {
	m := &PipelineManifest{Passes: []PassManifest{
		{ID: "a", Shader: "main.kage", Inputs: []InputManifest{{Pass: "b"}}},
		{ID: "b", Shader: "post.kage", Inputs: []InputManifest{{Pass: "a"}}},
	}}
	ac := newTestCache(t, map[string]string{"main.kage": "m", "post.kage": "p"})

	_, err := NewRenderScheduler(&fakeGraphics{}, ac, m, 640, 480)
	var ce *CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CycleError", err)
	}
	if len(ce.Members) != 2 {
		t.Errorf("cycle members = %v, want both passes", ce.Members)
	}
}

func TestSchedulerRejectsUnknownInputPass(t *testing.T) {
	m := &PipelineManifest{Passes: []PassManifest{
		{ID: "a", Shader: "main.kage", Inputs: []InputManifest{{Pass: "ghost"}}},
	}}
	ac := newTestCache(t, map[string]string{"main.kage": "m"})
	if _, err := NewRenderScheduler(&fakeGraphics{}, ac, m, 640, 480); err == nil {
		t.Error("expected error for unknown input pass")
	}
}

func TestSchedulerRejectsDuplicatePassID(t *testing.T) {
	m := &PipelineManifest{Passes: []PassManifest{
		{ID: "a", Shader: "main.kage"},
		{ID: "a", Shader: "post.kage"},
	}}
	ac := newTestCache(t, map[string]string{"main.kage": "m", "post.kage": "p"})
	if _, err := NewRenderScheduler(&fakeGraphics{}, ac, m, 640, 480); err == nil {
		t.Error("expected error for duplicate pass id")
	}
}

func TestSchedulerSkipsPassOnMissingInput(t *testing.T) {
	g := &fakeGraphics{}
	rs, ac := newTestScheduler(t, g, twoPassManifest())
	sink, events := collectSink()

	ac.Evict("tex.png")
	s := NewScene()
	s.Ensure("root/fx")
	rs.Execute(s, 1, sink)

	// "main" is skipped with an event; "post" still draws from main's stale
	// target.
	if len(g.execs) != 1 || g.execs[0].target != TargetScreen {
		t.Fatalf("execs = %+v, want only the screen pass", g.execs)
	}
	if len(*events) != 1 {
		t.Fatalf("events = %v, want one skip", *events)
	}
	skip, ok := (*events)[0].(PassSkipped)
	if !ok || skip.Pass != "main" {
		t.Errorf("event = %+v, want PassSkipped for main", (*events)[0])
	}
}

func TestSchedulerRecompilesOnShaderReload(t *testing.T) {
	g := &fakeGraphics{}
	rs, ac := newTestScheduler(t, g, twoPassManifest())
	sink, events := collectSink()
	s := NewScene()
	s.Ensure("root/fx")

	if _, err := ac.CommitReload("main.kage", ShaderSource("main v2")); err != nil {
		t.Fatal(err)
	}
	rs.Execute(s, 1, sink)

	if len(*events) != 0 {
		t.Fatalf("events = %v, want none", *events)
	}
	found := false
	for _, src := range g.compiled {
		if src == "main v2" {
			found = true
		}
	}
	if !found {
		t.Errorf("compiled sources = %v, want main v2 present", g.compiled)
	}
}

func TestSchedulerKeepsPipelineOnBadReload(t *testing.T) {
	g := &fakeGraphics{failSubstr: "bad"}
	rs, ac := newTestScheduler(t, g, twoPassManifest())
	sink, events := collectSink()
	s := NewScene()
	s.Ensure("root/fx")

	if _, err := ac.CommitReload("main.kage", ShaderSource("bad v2")); err != nil {
		t.Fatal(err)
	}
	rs.Execute(s, 1, sink)

	if len(*events) != 1 {
		t.Fatalf("events = %v, want one reload failure", *events)
	}
	rf, ok := (*events)[0].(ReloadFailed)
	if !ok || rf.Path != "main.kage" {
		t.Errorf("event = %+v, want ReloadFailed for main.kage", (*events)[0])
	}
	// Both passes still draw, the failed one with its previous pipeline.
	if len(g.execs) != 2 {
		t.Errorf("execs = %d, want 2", len(g.execs))
	}

	// The failure is reported once, not every frame.
	rs.Execute(s, 2, sink)
	if len(*events) != 1 {
		t.Errorf("events after second frame = %v, want still one", *events)
	}
}

func TestSchedulerSkipsInvisibleNodeSilently(t *testing.T) {
	g := &fakeGraphics{}
	rs, _ := newTestScheduler(t, g, twoPassManifest())
	sink, events := collectSink()

	s := NewScene()
	s.Ensure("root/fx").Visible = false
	rs.Execute(s, 1, sink)

	if len(*events) != 0 {
		t.Errorf("events = %v, want none for hidden node", *events)
	}
	if len(g.execs) != 1 || g.execs[0].target != TargetScreen {
		t.Errorf("execs = %+v, want only the unbound screen pass", g.execs)
	}
}

func TestSchedulerUniformsFromBoundNode(t *testing.T) {
	g := &fakeGraphics{}
	rs, _ := newTestScheduler(t, g, twoPassManifest())

	s := NewScene()
	n := s.Ensure("root/fx")
	n.X = 7
	n.Alpha = 0.5
	n.Params["Intensity"] = 0.75
	s.Evaluate(0, nil)

	rs.Execute(s, 2.5, func(Event) {})

	var bound map[string]any
	for _, ex := range g.execs {
		if ex.target != TargetScreen {
			bound = ex.uniforms
		}
	}
	if bound == nil {
		t.Fatal("bound pass did not execute")
	}
	if bound["Time"] != float32(2.5) {
		t.Errorf("Time = %v, want 2.5", bound["Time"])
	}
	if bound["Intensity"] != float32(0.75) {
		t.Errorf("Intensity = %v, want 0.75", bound["Intensity"])
	}
	if bound["NodeX"] != float32(7) {
		t.Errorf("NodeX = %v, want 7", bound["NodeX"])
	}
	if bound["NodeAlpha"] != float32(0.5) {
		t.Errorf("NodeAlpha = %v, want 0.5", bound["NodeAlpha"])
	}
}

func TestSchedulerReleaseTargets(t *testing.T) {
	g := &fakeGraphics{}
	rs, _ := newTestScheduler(t, g, twoPassManifest())

	rs.ReleaseTargets()
	if len(g.released) != 1 {
		t.Errorf("released = %v, want the one offscreen target", g.released)
	}
}
