package prism

import (
	"errors"
	"fmt"
)

// ErrStaleHandle is returned by AssetCache.Resolve for handles whose entry was
// explicitly evicted. Reloading never stales a handle.
var ErrStaleHandle = errors.New("prism: stale asset handle")

// CycleError is a load-time error for cyclic render pass dependencies or
// cyclic node parenting in a manifest.
type CycleError struct {
	Kind    string // "pass" or "node"
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("prism: cyclic %s dependency: %v", e.Kind, e.Members)
}

// ConflictError is a load-time error for two cues that overlap in time on the
// same node with non-compositable payloads.
type ConflictError struct {
	CueA, CueB string
	Node       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("prism: cues %q and %q overlap on node %q with non-compositable payloads",
		e.CueA, e.CueB, e.Node)
}

// DecodeError wraps a failure to decode asset bytes.
type DecodeError struct {
	Path string
	Kind AssetKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("prism: decode %s %q: %v", e.Kind, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Event is a recoverable runtime condition surfaced by the frame loop.
// Fatal conditions are errors, not events: anything statically checkable is
// rejected at load time instead.
type Event interface {
	String() string
}

// EventSink receives engine events. A nil sink falls back to log output.
type EventSink func(Event)

// ReloadFailed reports a hot reload that could not be committed. The previous
// asset version keeps serving.
type ReloadFailed struct {
	Path  string
	Cause error
}

func (e ReloadFailed) String() string {
	return fmt.Sprintf("reload failed for %q: %v (keeping previous version)", e.Path, e.Cause)
}

// DesyncDetected reports an audio discontinuity (underrun, device change).
// The clock clamps to the last known-good time.
type DesyncDetected struct {
	At Time
}

func (e DesyncDetected) String() string {
	return fmt.Sprintf("audio desync detected at t=%.3fs, clock clamped", float64(e.At))
}

// PassSkipped reports a render pass whose required input failed to resolve.
// The rest of the frame proceeds.
type PassSkipped struct {
	Pass  string
	Cause error
}

func (e PassSkipped) String() string {
	return fmt.Sprintf("pass %q skipped: %v", e.Pass, e.Cause)
}

// TimelineReplaced reports a successful hot reload of the cue graph.
type TimelineReplaced struct {
	Path string
	Cues int
}

func (e TimelineReplaced) String() string {
	return fmt.Sprintf("timeline %q replaced (%d cues)", e.Path, e.Cues)
}

// PipelineReplaced reports a successful hot reload of the render pipeline:
// the pass schedule was rebuilt and old targets released.
type PipelineReplaced struct {
	Path   string
	Passes int
}

func (e PipelineReplaced) String() string {
	return fmt.Sprintf("pipeline %q replaced (%d passes)", e.Path, e.Passes)
}
