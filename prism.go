package prism

// Time is a playback timestamp in seconds. The engine's source of truth is an
// integer sample count; Time values appear only at API boundaries and are
// always derived from samples, never from wall clocks.
type Time float64

// Seconds returns the timestamp as a plain float64.
func (t Time) Seconds() float64 { return float64(t) }

// AssetKind identifies what a cached asset decodes to.
type AssetKind uint8

const (
	AssetTexture  AssetKind = iota // decoded RGBA image
	AssetShader                    // Kage shader source
	AssetAudio                     // raw PCM clip (s16le, interleaved stereo)
	AssetTimeline                  // timeline document (cue graph)
	AssetPipeline                  // render pipeline document
)

// String returns the manifest spelling of the asset kind.
func (k AssetKind) String() string {
	switch k {
	case AssetTexture:
		return "texture"
	case AssetShader:
		return "shader"
	case AssetAudio:
		return "audio"
	case AssetTimeline:
		return "timeline"
	case AssetPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// AssetKindForPath guesses the asset kind from a logical path's extension.
// Timeline and pipeline documents must be registered explicitly; extensions
// only distinguish leaf assets.
func AssetKindForPath(path string) AssetKind {
	switch {
	case hasSuffix(path, ".png"), hasSuffix(path, ".jpg"), hasSuffix(path, ".jpeg"):
		return AssetTexture
	case hasSuffix(path, ".kage"), hasSuffix(path, ".glsl"):
		return AssetShader
	case hasSuffix(path, ".pcm"), hasSuffix(path, ".raw"):
		return AssetAudio
	default:
		return AssetTexture
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// PlayState is the frame loop's lifecycle state.
type PlayState uint8

const (
	StateStarting PlayState = iota // built but not yet ticked
	StateRunning                   // clock advancing, scene evaluating
	StatePaused                    // reloads drained and re-rendered, clock held
	StateStopped                   // terminal; resources released
)

// String returns a readable state name for logs.
func (s PlayState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Audio is the audio output collaborator. The Clock is its sole consumer.
type Audio interface {
	// ConsumedSamples reports the total number of sample frames the output
	// has consumed since playback began. Monotonic in normal operation; a
	// backward step signals a device discontinuity.
	ConsumedSamples() uint64
	// Seek moves the playback cursor to the given sample offset.
	Seek(sample uint64) error
}

// PipelineHandle identifies a compiled GPU pipeline inside a Graphics backend.
type PipelineHandle int

// TargetHandle identifies a render target inside a Graphics backend.
// TargetScreen addresses the final presentation surface.
type TargetHandle int

// TargetScreen is the implicit presentation target.
const TargetScreen TargetHandle = -1

// Resource is one bound input to a render pass: either a decoded texture
// asset or the output target of an earlier pass.
type Resource struct {
	Texture *Texture     // non-nil for asset inputs
	Target  TargetHandle // valid when Texture is nil
}

// TextureReleaser is implemented by Graphics backends that hold per-texture
// GPU state. The engine calls it when the cache drops a texture version, so
// hot reloads do not accumulate dead uploads.
type TextureReleaser interface {
	ReleaseTexture(t *Texture)
}

// Graphics is the GPU collaborator. The render scheduler never touches raw
// command buffers; it hands the backend already-ordered pass work.
type Graphics interface {
	// CreatePipeline compiles shader source into an executable pipeline.
	CreatePipeline(src []byte) (PipelineHandle, error)
	// CreateTarget allocates an offscreen render target.
	CreateTarget(w, h int) (TargetHandle, error)
	// Execute runs one pass: bind inputs and uniforms, draw into target.
	Execute(p PipelineHandle, inputs []Resource, uniforms map[string]any, target TargetHandle) error
	// ReleaseTarget frees an offscreen target. Releasing TargetScreen is a no-op.
	ReleaseTarget(t TargetHandle)
}
