package prism

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"unicode/utf8"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Texture is a decoded RGBA image ready for upload by a graphics backend.
type Texture struct {
	Pixels *image.RGBA
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.Pixels.Rect.Dx() }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.Pixels.Rect.Dy() }

// ShaderSource is Kage shader source text. Compilation happens in the
// graphics backend when a pipeline is (re)built.
type ShaderSource []byte

// AudioClip is a decoded PCM clip: interleaved stereo s16le at the
// production sample rate.
type AudioClip struct {
	Samples []int16
}

// Decoder is the file decoding collaborator. Implementations must be safe for
// concurrent use: the reload path runs decodes on a background worker pool.
type Decoder interface {
	Decode(raw []byte, kind AssetKind) (any, error)
}

// StdDecoder decodes the built-in asset formats. MaxTextureDim, when
// positive, downscales oversized textures to fit.
type StdDecoder struct {
	MaxTextureDim int
}

// Decode implements Decoder.
func (d *StdDecoder) Decode(raw []byte, kind AssetKind) (any, error) {
	switch kind {
	case AssetTexture:
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return d.toTexture(img), nil
	case AssetShader:
		if len(raw) == 0 {
			return nil, fmt.Errorf("empty shader source")
		}
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("shader source is not valid UTF-8")
		}
		return ShaderSource(bytes.Clone(raw)), nil
	case AssetAudio:
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("odd PCM byte count %d", len(raw))
		}
		samples := make([]int16, len(raw)/2)
		for i := range samples {
			samples[i] = int16(raw[2*i]) | int16(raw[2*i+1])<<8
		}
		return &AudioClip{Samples: samples}, nil
	case AssetTimeline:
		m, err := ParseTimelineManifest(raw)
		if err != nil {
			return nil, err
		}
		return BuildTimeline(m)
	case AssetPipeline:
		return ParsePipelineManifest(raw)
	default:
		return nil, fmt.Errorf("unknown asset kind %d", kind)
	}
}

func (d *StdDecoder) toTexture(img image.Image) *Texture {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	max := d.MaxTextureDim
	if max > 0 && (w > max || h > max) {
		scale := float64(max) / float64(w)
		if h > w {
			scale = float64(max) / float64(h)
		}
		w = int(float64(w) * scale)
		h = int(float64(h) * scale)
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Rect, img, b, xdraw.Src, nil)
		return &Texture{Pixels: dst}
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return &Texture{Pixels: rgba}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Rect, img, b.Min, xdraw.Src)
	return &Texture{Pixels: dst}
}

// decodeResult is one finished background decode, delivered to the frame
// loop's inbox. seq identifies which write produced it; results superseded by
// a newer write for the same path are discarded on drain.
type decodeResult struct {
	path    string
	kind    AssetKind
	seq     uint64
	payload any
	err     error
}

// decodeJob is one queued decode awaiting a worker slot.
type decodeJob struct {
	path string
	kind AssetKind
	seq  uint64
}

// decodePool runs asset decodes off the frame-loop goroutine on a bounded
// worker pool, posting results to a single-consumer inbox drained once per
// tick. Jobs that find no free worker wait in a frame-loop-owned queue and
// retry on the next drain, so submit never blocks the caller however many
// decodes are in flight. In-flight decodes are never cancelled; stale results
// are ignored.
type decodePool struct {
	root    string
	decoder Decoder
	group   errgroup.Group
	inbox   chan decodeResult
	seq     map[string]uint64 // latest submitted sequence per path; frame-loop owned
	pending []decodeJob       // jobs waiting for a worker slot; frame-loop owned
	closed  bool
}

func newDecodePool(root string, decoder Decoder, workers int) *decodePool {
	if workers < 1 {
		workers = 1
	}
	p := &decodePool{
		root:    root,
		decoder: decoder,
		inbox:   make(chan decodeResult, 64),
		seq:     make(map[string]uint64),
	}
	p.group.SetLimit(workers)
	return p
}

// submit queues a decode for a changed path. Called from the frame loop.
func (p *decodePool) submit(path string, kind AssetKind) {
	if p.closed {
		return
	}
	p.seq[path]++
	p.pending = append(p.pending, decodeJob{path: path, kind: kind, seq: p.seq[path]})
	p.flush()
}

// flush hands queued jobs to workers with TryGo, keeping whatever finds no
// free slot. Jobs superseded by a newer submit are dropped before they start.
func (p *decodePool) flush() {
	if p.closed {
		return
	}
	kept := p.pending[:0]
	for _, job := range p.pending {
		if job.seq != p.seq[job.path] {
			continue
		}
		job := job
		if !p.group.TryGo(func() error {
			p.decodeOne(job)
			return nil
		}) {
			kept = append(kept, job)
		}
	}
	for i := len(kept); i < len(p.pending); i++ {
		p.pending[i] = decodeJob{}
	}
	p.pending = kept
}

func (p *decodePool) decodeOne(job decodeJob) {
	raw, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(job.path)))
	var payload any
	if err == nil {
		payload, err = p.decoder.Decode(raw, job.kind)
	}
	if err != nil {
		err = &DecodeError{Path: job.path, Kind: job.kind, Err: err}
	}
	p.inbox <- decodeResult{path: job.path, kind: job.kind, seq: job.seq, payload: payload, err: err}
}

// drain retries queued jobs and returns all finished results without
// blocking, dropping any result already superseded by a newer submit for the
// same path.
func (p *decodePool) drain() []decodeResult {
	p.flush()
	var out []decodeResult
	for {
		select {
		case res := <-p.inbox:
			if res.seq != p.seq[res.path] {
				continue // a newer write superseded this decode
			}
			out = append(out, res)
		default:
			return out
		}
	}
}

// close drops queued jobs, waits for in-flight decodes, and discards their
// results.
func (p *decodePool) close() {
	if p.closed {
		return
	}
	p.closed = true
	p.pending = nil
	done := make(chan struct{})
	go func() {
		for range p.inbox {
		}
		close(done)
	}()
	p.group.Wait() //nolint:errcheck // workers never return errors
	close(p.inbox)
	<-done
}
