package prism

import (
	"fmt"
	"log"
	"time"
)

// Engine is the frame loop: it owns the clock, timeline, scene, cache, and
// render scheduler, and sequences each tick as reloads, time, evaluation,
// render. All engine state is confined to the goroutine calling Tick and
// RenderFrame; background work (file watching, decoding) communicates through
// channels drained here.
type Engine struct {
	cfg   Config
	g     Graphics
	clock *Clock
	cache *AssetCache
	pool  *decodePool
	watch *Watcher
	scene *Scene
	sched *RenderScheduler
	sink  EventSink

	timeline *Timeline
	state    PlayState
}

// NewEngine builds a stopped engine from a project config and its backend
// collaborators. The timeline and pipeline documents are loaded and validated
// here; any structural error (cycle, conflict, bad manifest) fails the build.
func NewEngine(cfg Config, g Graphics, audio Audio) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	decoder := &StdDecoder{MaxTextureDim: cfg.MaxTextureDim}
	cache := NewAssetCache(cfg.AssetRoot, decoder)
	if tr, ok := g.(TextureReleaser); ok {
		cache.SetReleaseHook(func(payload any) {
			if t, ok := payload.(*Texture); ok {
				tr.ReleaseTexture(t)
			}
		})
	}

	th, err := cache.GetOrLoad(cfg.Timeline, AssetTimeline)
	if err != nil {
		return nil, err
	}
	te, err := cache.Resolve(th)
	if err != nil {
		return nil, err
	}
	tl := te.Payload.(*Timeline)

	ph, err := cache.GetOrLoad(cfg.Pipeline, AssetPipeline)
	if err != nil {
		return nil, err
	}
	pe, err := cache.Resolve(ph)
	if err != nil {
		return nil, err
	}
	pm := pe.Payload.(*PipelineManifest)

	if cfg.Audio != "" {
		if _, err := cache.GetOrLoad(cfg.Audio, AssetAudio); err != nil {
			return nil, err
		}
	}

	scene := NewScene()
	scene.Bind(tl)

	sched, err := NewRenderScheduler(g, cache, pm, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}

	var clock *Clock
	if cfg.Scripted {
		clock = NewScriptedClock(audio, cfg.SampleRate)
	} else {
		clock = NewClock(audio, cfg.SampleRate)
	}

	watch, err := NewWatcher(cfg.AssetRoot, time.Duration(cfg.DebounceMS)*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if err := watch.Start(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		g:        g,
		clock:    clock,
		cache:    cache,
		pool:     newDecodePool(cfg.AssetRoot, decoder, cfg.DecodeWorkers),
		watch:    watch,
		scene:    scene,
		sched:    sched,
		timeline: tl,
		state:    StateStarting,
	}, nil
}

// SetEventSink routes runtime events to the given sink. A nil sink logs.
func (e *Engine) SetEventSink(sink EventSink) { e.sink = sink }

// State returns the loop's lifecycle state.
func (e *Engine) State() PlayState { return e.state }

// Clock returns the playback clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Scene returns the scene graph.
func (e *Engine) Scene() *Scene { return e.scene }

// Timeline returns the current cue graph. A hot swap replaces it wholesale.
func (e *Engine) Timeline() *Timeline { return e.timeline }

// Play starts or resumes playback.
func (e *Engine) Play() {
	if e.state == StateStopped {
		return
	}
	e.state = StateRunning
}

// Pause holds the clock. Hot reloads still land and re-render while paused.
func (e *Engine) Pause() {
	if e.state != StateRunning {
		return
	}
	e.state = StatePaused
}

// Seek moves playback to t and re-evaluates the scene there, so the next
// rendered frame reflects the sought time even while paused.
func (e *Engine) Seek(t Time) error {
	if e.state == StateStopped {
		return fmt.Errorf("prism: seek on stopped engine")
	}
	if err := e.clock.Seek(t); err != nil {
		return err
	}
	e.evaluate(e.clock.Now())
	return nil
}

// Reload forces a reload of a loaded asset path, bypassing the watcher. The
// decode runs in the background; the result lands on a later Tick.
func (e *Engine) Reload(path string) {
	if kind, ok := e.cache.Kind(path); ok {
		e.pool.submit(path, kind)
	}
}

// Tick advances the engine by one frame. Order within a tick is fixed:
// reloads commit first, then time advances, then the scene evaluates. Paused
// ticks still commit reloads and keep the held time's evaluation fresh.
func (e *Engine) Tick() {
	switch e.state {
	case StateStopped, StateStarting:
		return
	}

	e.drainReloads()

	if e.state == StatePaused {
		e.evaluate(e.clock.Now())
		return
	}

	var t Time
	if e.clock.Scripted() {
		t = e.clock.AdvanceBy(1 / float64(e.cfg.FPS))
	} else {
		t = e.clock.Advance()
	}
	if e.clock.TakeDesync() {
		e.emit(DesyncDetected{At: t})
	}
	e.evaluate(t)
}

func (e *Engine) evaluate(t Time) {
	e.scene.Evaluate(t, e.timeline.ActiveCues(t))
}

// RenderFrame executes the pass pipeline against the last evaluated scene
// state and releases the frame's asset pins.
func (e *Engine) RenderFrame() {
	if e.state == StateStopped || e.state == StateStarting {
		return
	}
	e.sched.Execute(e.scene, e.clock.Now(), e.emit)
	e.cache.EndFrame()
}

// Stop shuts the engine down: the watcher closes, in-flight decodes finish
// and are discarded, targets and assets are released. Terminal.
func (e *Engine) Stop() {
	if e.state == StateStopped {
		return
	}
	e.state = StateStopped
	e.watch.Stop()
	e.pool.close()
	e.sched.ReleaseTargets()
	e.cache.ReleaseAll()
}

// drainReloads routes debounced file changes to the decode pool and commits
// finished decodes. Runs between frames so consumers never observe a
// mid-frame swap.
func (e *Engine) drainReloads() {
changes:
	for {
		select {
		case ev, ok := <-e.watch.Events():
			if !ok {
				break changes
			}
			if ev.Kind == ChangeRemove {
				// Keep serving the last good version of a deleted file.
				continue
			}
			if kind, ok := e.cache.Kind(ev.Path); ok {
				e.pool.submit(ev.Path, kind)
			}
		default:
			break changes
		}
	}

	for _, res := range e.pool.drain() {
		if res.err != nil {
			e.emit(ReloadFailed{Path: res.path, Cause: res.err})
			continue
		}
		if tl, ok := res.payload.(*Timeline); ok && res.path == e.cfg.Timeline {
			e.swapTimeline(res.path, tl, res.payload)
			continue
		}
		if pm, ok := res.payload.(*PipelineManifest); ok && res.path == e.cfg.Pipeline {
			e.swapPipeline(res.path, pm, res.payload)
			continue
		}
		if _, err := e.cache.CommitReload(res.path, res.payload); err != nil {
			e.emit(ReloadFailed{Path: res.path, Cause: err})
		}
	}
}

// swapTimeline replaces the cue graph wholesale. The fresh timeline rebuilds
// its open set on first query, so active cues at the held time are exact.
func (e *Engine) swapTimeline(path string, tl *Timeline, payload any) {
	if _, err := e.cache.CommitReload(path, payload); err != nil {
		e.emit(ReloadFailed{Path: path, Cause: err})
		return
	}
	e.timeline = tl
	e.scene.Bind(tl)
	e.emit(TimelineReplaced{Path: path, Cues: tl.Len()})
}

// swapPipeline rebuilds the pass schedule from an edited pipeline document.
// A manifest that fails validation (cycle, unknown pass, missing shader)
// leaves the current schedule drawing and is not committed.
func (e *Engine) swapPipeline(path string, pm *PipelineManifest, payload any) {
	sched, err := NewRenderScheduler(e.g, e.cache, pm, e.cfg.Width, e.cfg.Height)
	if err != nil {
		e.emit(ReloadFailed{Path: path, Cause: err})
		return
	}
	if _, err := e.cache.CommitReload(path, payload); err != nil {
		sched.ReleaseTargets()
		e.emit(ReloadFailed{Path: path, Cause: err})
		return
	}
	e.sched.ReleaseTargets()
	e.sched = sched
	for _, pass := range pm.Passes {
		if pass.Node != "" {
			e.scene.Ensure(pass.Node)
		}
	}
	e.emit(PipelineReplaced{Path: path, Passes: sched.PassCount()})
}

func (e *Engine) emit(ev Event) {
	if e.sink != nil {
		e.sink(ev)
		return
	}
	log.Printf("prism: %s", ev)
}
