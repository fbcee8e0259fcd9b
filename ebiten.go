package prism

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
)

// EbitenGraphics implements Graphics on Ebitengine. Pipelines are Kage
// shaders; passes draw with DrawRectShader into offscreen images or the
// frame's screen.
type EbitenGraphics struct {
	width, height int

	pipelines []*ebiten.Shader
	targets   []*ebiten.Image
	uploads   map[*Texture]*ebiten.Image
	screen    *ebiten.Image
}

// NewEbitenGraphics creates a backend rendering at the given resolution.
func NewEbitenGraphics(width, height int) *EbitenGraphics {
	return &EbitenGraphics{
		width:   width,
		height:  height,
		uploads: make(map[*Texture]*ebiten.Image),
	}
}

// SetScreen binds the presentation surface for the current frame. Called from
// the game's Draw before RenderFrame.
func (g *EbitenGraphics) SetScreen(screen *ebiten.Image) { g.screen = screen }

// CreatePipeline compiles Kage source into a shader.
func (g *EbitenGraphics) CreatePipeline(src []byte) (PipelineHandle, error) {
	s, err := ebiten.NewShader(src)
	if err != nil {
		return 0, err
	}
	g.pipelines = append(g.pipelines, s)
	return PipelineHandle(len(g.pipelines) - 1), nil
}

// CreateTarget allocates an offscreen render image.
func (g *EbitenGraphics) CreateTarget(w, h int) (TargetHandle, error) {
	g.targets = append(g.targets, ebiten.NewImage(w, h))
	return TargetHandle(len(g.targets) - 1), nil
}

// Execute draws one full-target rect through the pass's shader.
func (g *EbitenGraphics) Execute(p PipelineHandle, inputs []Resource, uniforms map[string]any, target TargetHandle) error {
	if int(p) < 0 || int(p) >= len(g.pipelines) {
		return fmt.Errorf("prism: invalid pipeline handle %d", p)
	}
	dst, err := g.resolveTarget(target)
	if err != nil {
		return err
	}
	if target != TargetScreen {
		dst.Clear()
	}

	var op ebiten.DrawRectShaderOptions
	op.Uniforms = uniforms
	for i, in := range inputs {
		if i >= len(op.Images) {
			return fmt.Errorf("prism: pass has %d inputs, backend supports %d", len(inputs), len(op.Images))
		}
		img, err := g.resolveInput(in)
		if err != nil {
			return err
		}
		op.Images[i] = img
	}

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	dst.DrawRectShader(w, h, g.pipelines[p], &op)
	return nil
}

func (g *EbitenGraphics) resolveTarget(t TargetHandle) (*ebiten.Image, error) {
	if t == TargetScreen {
		if g.screen == nil {
			return nil, fmt.Errorf("prism: no screen bound")
		}
		return g.screen, nil
	}
	if int(t) < 0 || int(t) >= len(g.targets) || g.targets[t] == nil {
		return nil, fmt.Errorf("prism: invalid target handle %d", t)
	}
	return g.targets[t], nil
}

func (g *EbitenGraphics) resolveInput(in Resource) (*ebiten.Image, error) {
	if in.Texture != nil {
		return g.upload(in.Texture), nil
	}
	return g.resolveTarget(in.Target)
}

// upload lazily converts a decoded texture to a GPU image. Keyed by payload
// pointer, so a reloaded texture uploads fresh on first use.
func (g *EbitenGraphics) upload(t *Texture) *ebiten.Image {
	if img, ok := g.uploads[t]; ok {
		return img
	}
	img := ebiten.NewImageFromImage(t.Pixels)
	g.uploads[t] = img
	return img
}

// ReleaseTexture frees the GPU upload for a retired texture version.
func (g *EbitenGraphics) ReleaseTexture(t *Texture) {
	if img, ok := g.uploads[t]; ok {
		img.Deallocate()
		delete(g.uploads, t)
	}
}

var _ TextureReleaser = (*EbitenGraphics)(nil)

// ReleaseTarget frees an offscreen image.
func (g *EbitenGraphics) ReleaseTarget(t TargetHandle) {
	if t == TargetScreen || int(t) < 0 || int(t) >= len(g.targets) {
		return
	}
	if img := g.targets[t]; img != nil {
		img.Deallocate()
		g.targets[t] = nil
	}
}

// EbitenAudio implements Audio on Ebitengine's audio player. The consumed
// counter derives from the player position, which tracks actual device
// consumption rather than submitted buffers.
type EbitenAudio struct {
	player     *audio.Player
	sampleRate int
}

// NewEbitenAudio creates an audio output playing the given clip in a loop of
// one. The package-global audio context is created on first use.
func NewEbitenAudio(sampleRate int, clip *AudioClip) *EbitenAudio {
	ctx := audio.CurrentContext()
	if ctx == nil {
		ctx = audio.NewContext(sampleRate)
	}
	pcm := make([]byte, len(clip.Samples)*2)
	for i, s := range clip.Samples {
		pcm[2*i] = byte(s)
		pcm[2*i+1] = byte(s >> 8)
	}
	return &EbitenAudio{
		player:     ctx.NewPlayerFromBytes(pcm),
		sampleRate: sampleRate,
	}
}

// Play starts the soundtrack.
func (a *EbitenAudio) Play() { a.player.Play() }

// ConsumedSamples implements Audio.
func (a *EbitenAudio) ConsumedSamples() uint64 {
	return uint64(a.player.Position().Seconds() * float64(a.sampleRate))
}

// Seek implements Audio.
func (a *EbitenAudio) Seek(sample uint64) error {
	return a.player.SetPosition(time.Duration(sample) * time.Second / time.Duration(a.sampleRate))
}

// SilentAudio is a wall-clock Audio stand-in for productions without a
// soundtrack. Its counter advances with real time at the sample rate.
type SilentAudio struct {
	sampleRate int
	start      time.Time
	offset     uint64
}

// NewSilentAudio creates a silent driver at the given sample rate.
func NewSilentAudio(sampleRate int) *SilentAudio {
	return &SilentAudio{sampleRate: sampleRate, start: time.Now()}
}

// ConsumedSamples implements Audio.
func (a *SilentAudio) ConsumedSamples() uint64 {
	return a.offset + uint64(time.Since(a.start).Seconds()*float64(a.sampleRate))
}

// Seek implements Audio.
func (a *SilentAudio) Seek(sample uint64) error {
	a.start = time.Now()
	a.offset = sample
	return nil
}

// game adapts the engine to ebiten.Game.
type game struct {
	e *Engine
	g *EbitenGraphics
	w int
	h int
}

func (gm *game) Update() error {
	if gm.e.State() == StateStarting {
		gm.e.Play()
	}
	gm.e.Tick()
	if gm.e.State() == StateStopped {
		return ebiten.Termination
	}
	return nil
}

func (gm *game) Draw(screen *ebiten.Image) {
	gm.g.SetScreen(screen)
	gm.e.RenderFrame()
}

func (gm *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return gm.w, gm.h
}

// Run builds an engine from a project config and runs it in an Ebitengine
// window until the window closes or the engine stops.
func Run(cfg Config) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	var out Audio
	if cfg.Audio != "" {
		raw, err := os.ReadFile(filepath.Join(cfg.AssetRoot, filepath.FromSlash(cfg.Audio)))
		if err != nil {
			return fmt.Errorf("prism: read soundtrack: %w", err)
		}
		dec := &StdDecoder{}
		payload, err := dec.Decode(raw, AssetAudio)
		if err != nil {
			return &DecodeError{Path: cfg.Audio, Kind: AssetAudio, Err: err}
		}
		ea := NewEbitenAudio(cfg.SampleRate, payload.(*AudioClip))
		ea.Play()
		out = ea
	} else {
		out = NewSilentAudio(cfg.SampleRate)
	}

	g := NewEbitenGraphics(cfg.Width, cfg.Height)
	e, err := NewEngine(cfg, g, out)
	if err != nil {
		return err
	}
	defer e.Stop()

	ebiten.SetWindowSize(cfg.Width, cfg.Height)
	ebiten.SetWindowTitle(cfg.Title)
	return ebiten.RunGame(&game{e: e, g: g, w: cfg.Width, h: cfg.Height})
}
