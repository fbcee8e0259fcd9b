// Package prism is a real-time audiovisual playback engine for scripted,
// precisely-timed productions ("demos") built on [Ebitengine].
//
// A fixed audio track drives a deterministic, frame-accurate visual timeline
// rendered through a GPU pass pipeline. Assets — textures, shaders, audio,
// and the timeline itself — can be edited on disk and hot-reloaded while the
// production runs, without stalling or desynchronizing playback.
//
// # Quick start
//
// The simplest way to play a production is [Run], which creates a window,
// an audio player, and the frame loop for you:
//
//	cfg, err := prism.LoadConfig("demo.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := prism.Run(cfg); err != nil {
//		log.Fatal(err)
//	}
//
// For full control — offline re-renders, custom backends — build an [Engine]
// directly and drive [Engine.Tick] and [Engine.RenderFrame] yourself.
//
// # Time
//
// Playback time is derived from the audio output's consumed-sample counter,
// not from wall-clock deltas, so audio/video sync is bounded by audio buffer
// granularity regardless of frame jitter. The [Clock] keeps an integer sample
// count internally; seconds appear only at API boundaries. Scripted mode
// advances by a fixed delta per frame instead, for bit-deterministic
// re-renders.
//
// # Timeline and cues
//
// A production is scripted as a set of [Cue]s, each active during a half-open
// time interval [Start, End) and bound to a scene node by path. Cue payloads
// are keyframed transform channels, shader parameters, or visibility toggles;
// easing uses [gween]. The cue graph is immutable after load — editing the
// timeline document on disk replaces the whole graph atomically.
//
// # Hot reload
//
// A debounced filesystem watcher feeds a bounded background decode pool.
// Decoded payloads are committed to the [AssetCache] between frames only, so
// a frame always renders against one consistent version of every asset, and
// a broken edit keeps the last good version on screen instead of blanking
// the production.
//
// [Ebitengine]: https://ebitengine.org
// [gween]: https://github.com/tanema/gween
package prism
