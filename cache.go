package prism

import (
	"fmt"
	"os"
	"path/filepath"
)

// Handle is a stable indirection identifier for a cached asset. It remains
// valid across hot reloads of the same logical path: the cache rebinds the
// underlying data, so holders never dangle. Zero is invalid.
type Handle uint32

// AssetEntry is one committed version of a decoded asset. The cache owns the
// payload; consumers hold Handles and must treat resolved entries as
// read-only.
type AssetEntry struct {
	Path    string
	Kind    AssetKind
	Version uint64
	Payload any

	refs int // frames currently rendering against this version
}

type assetSlot struct {
	path    string
	kind    AssetKind
	current *AssetEntry
	evicted bool
	version uint64 // last committed version
}

// AssetCache is a content store of decoded assets keyed by logical path,
// with arena-style handle indirection. All mutation happens on the frame-loop
// goroutine (reload commits are applied there after draining decode results),
// so the cache itself carries no locks; only the decode work feeding
// CommitReload runs concurrently.
type AssetCache struct {
	root    string
	decoder Decoder

	slots  []*assetSlot // index = Handle - 1
	byPath map[string]Handle

	retired []*AssetEntry // superseded versions still referenced by a frame
	frame   []*AssetEntry // entries acquired during the current frame

	release func(payload any) // invoked when a payload is dropped for good
}

// NewAssetCache creates a cache rooted at the given asset directory. Initial
// loads read and decode synchronously through the decoder collaborator;
// reloads arrive pre-decoded via CommitReload.
func NewAssetCache(root string, decoder Decoder) *AssetCache {
	return &AssetCache{
		root:    root,
		decoder: decoder,
		byPath:  make(map[string]Handle),
	}
}

// GetOrLoad returns the handle for a logical path, loading and decoding the
// asset on first use. The handle is stable for the cache's lifetime.
func (ac *AssetCache) GetOrLoad(path string, kind AssetKind) (Handle, error) {
	if h, ok := ac.byPath[path]; ok {
		return h, nil
	}
	raw, err := os.ReadFile(filepath.Join(ac.root, filepath.FromSlash(path)))
	if err != nil {
		return 0, fmt.Errorf("prism: load %q: %w", path, err)
	}
	payload, err := ac.decoder.Decode(raw, kind)
	if err != nil {
		return 0, &DecodeError{Path: path, Kind: kind, Err: err}
	}
	slot := &assetSlot{
		path:    path,
		kind:    kind,
		version: 1,
		current: &AssetEntry{Path: path, Kind: kind, Version: 1, Payload: payload},
	}
	ac.slots = append(ac.slots, slot)
	h := Handle(len(ac.slots))
	ac.byPath[path] = h
	return h, nil
}

// Lookup returns the handle for an already-loaded path.
func (ac *AssetCache) Lookup(path string) (Handle, bool) {
	h, ok := ac.byPath[path]
	return h, ok
}

// Contains reports whether a logical path is loaded.
func (ac *AssetCache) Contains(path string) bool {
	_, ok := ac.byPath[path]
	return ok
}

// Kind returns the asset kind registered for a path.
func (ac *AssetCache) Kind(path string) (AssetKind, bool) {
	h, ok := ac.byPath[path]
	if !ok {
		return 0, false
	}
	return ac.slots[h-1].kind, true
}

// Resolve returns the entry for the highest committed version. It fails with
// ErrStaleHandle only if the entry was explicitly evicted, never merely
// reloaded.
func (ac *AssetCache) Resolve(h Handle) (*AssetEntry, error) {
	slot, err := ac.slot(h)
	if err != nil {
		return nil, err
	}
	return slot.current, nil
}

// Acquire resolves a handle and pins the returned version until EndFrame.
// The render scheduler uses this so a reload committed between frames can
// never swap a payload out from under in-flight GPU work.
func (ac *AssetCache) Acquire(h Handle) (*AssetEntry, error) {
	slot, err := ac.slot(h)
	if err != nil {
		return nil, err
	}
	e := slot.current
	e.refs++
	ac.frame = append(ac.frame, e)
	return e, nil
}

// EndFrame releases every entry acquired during the frame and drops retired
// versions that are no longer referenced.
func (ac *AssetCache) EndFrame() {
	for i, e := range ac.frame {
		e.refs--
		ac.frame[i] = nil
	}
	ac.frame = ac.frame[:0]
	ac.sweepRetired()
}

// CommitReload atomically replaces the payload for a path with a freshly
// decoded one and returns the new version. The previous entry stays alive
// while any in-flight frame still references it. Callers invoke this only
// between frames, on the frame-loop goroutine.
func (ac *AssetCache) CommitReload(path string, payload any) (uint64, error) {
	h, ok := ac.byPath[path]
	if !ok {
		return 0, fmt.Errorf("prism: commit reload for unknown path %q", path)
	}
	slot := ac.slots[h-1]
	if slot.evicted {
		return 0, fmt.Errorf("prism: commit reload for evicted path %q", path)
	}
	if err := validatePayload(payload, slot.kind); err != nil {
		return 0, err
	}
	slot.version++
	prev := slot.current
	slot.current = &AssetEntry{Path: path, Kind: slot.kind, Version: slot.version, Payload: payload}
	ac.retire(prev)
	return slot.version, nil
}

// Evict removes a path from the cache. Outstanding handles become stale.
func (ac *AssetCache) Evict(path string) {
	h, ok := ac.byPath[path]
	if !ok {
		return
	}
	slot := ac.slots[h-1]
	slot.evicted = true
	ac.retire(slot.current)
	slot.current = nil
	delete(ac.byPath, path)
}

// ReleaseAll evicts everything and drops even still-referenced retired
// versions. Called when the frame loop stops; no frame is in flight then.
func (ac *AssetCache) ReleaseAll() {
	for path := range ac.byPath {
		ac.Evict(path)
	}
	for i := range ac.frame {
		ac.frame[i] = nil
	}
	ac.frame = ac.frame[:0]
	for i, e := range ac.retired {
		ac.drop(e)
		ac.retired[i] = nil
	}
	ac.retired = ac.retired[:0]
}

// Paths returns the loaded logical paths, for reload routing.
func (ac *AssetCache) Paths() []string {
	out := make([]string, 0, len(ac.byPath))
	for p := range ac.byPath {
		out = append(out, p)
	}
	return out
}

func (ac *AssetCache) slot(h Handle) (*assetSlot, error) {
	if h == 0 || int(h) > len(ac.slots) {
		return nil, fmt.Errorf("prism: invalid handle %d", h)
	}
	slot := ac.slots[h-1]
	if slot.evicted {
		return nil, fmt.Errorf("%w: %q", ErrStaleHandle, slot.path)
	}
	return slot, nil
}

// SetReleaseHook registers a callback fired when a superseded or evicted
// payload is dropped for good (no frame references it anymore). Backends use
// it to free per-payload state, GPU uploads in particular. Runs on the
// frame-loop goroutine.
func (ac *AssetCache) SetReleaseHook(fn func(payload any)) { ac.release = fn }

func (ac *AssetCache) drop(e *AssetEntry) {
	if ac.release != nil && e.Payload != nil {
		ac.release(e.Payload)
	}
	e.Payload = nil
}

func (ac *AssetCache) retire(e *AssetEntry) {
	if e == nil {
		return
	}
	if e.refs > 0 {
		ac.retired = append(ac.retired, e)
		return
	}
	ac.drop(e)
}

func (ac *AssetCache) sweepRetired() {
	kept := ac.retired[:0]
	for _, e := range ac.retired {
		if e.refs > 0 {
			kept = append(kept, e)
			continue
		}
		ac.drop(e)
	}
	// Zero the tail so dropped entries are not retained by the backing array.
	for i := len(kept); i < len(ac.retired); i++ {
		ac.retired[i] = nil
	}
	ac.retired = kept
}

// validatePayload checks that a decoded payload matches the slot's registered
// kind. A mismatch means the decode succeeded but produced the wrong asset
// class; the reload is rejected and the previous version keeps serving.
func validatePayload(payload any, kind AssetKind) error {
	var ok bool
	switch kind {
	case AssetTexture:
		_, ok = payload.(*Texture)
	case AssetShader:
		_, ok = payload.(ShaderSource)
	case AssetAudio:
		_, ok = payload.(*AudioClip)
	case AssetTimeline:
		_, ok = payload.(*Timeline)
	case AssetPipeline:
		_, ok = payload.(*PipelineManifest)
	}
	if !ok {
		return fmt.Errorf("prism: payload %T does not match asset kind %s", payload, kind)
	}
	return nil
}
