package prism

import (
	"math"
	"strings"
)

// sceneNodeIDCounter is a plain counter; the scene is owned by the
// frame-loop goroutine.
var sceneNodeIDCounter uint32

func nextSceneNodeID() uint32 {
	sceneNodeIDCounter++
	return sceneNodeIDCounter
}

// SceneNode is one element of the scene hierarchy. Its transform fields hold
// the last-applied cue state ("set and hold"); additive cue contributions live
// in a per-frame offset overlay so they never accumulate across frames.
//
// Parent linkage is a non-owning back-reference; ownership flows strictly
// parent to child, so the ownership graph is acyclic by construction.
type SceneNode struct {
	ID     uint32
	Name   string
	Parent *SceneNode

	// Held state, written by non-additive cues.
	X, Y           float64
	ScaleX, ScaleY float64
	Rotation       float64
	Alpha          float64
	Visible        bool

	// Shader parameters exposed to render passes bound to this node.
	Params map[string]float64

	// Renderable binding; zero when the node is purely structural.
	Renderable Handle

	children []*SceneNode

	// Per-frame additive overlay, indexed by Channel.
	offsets    [numChannels]float64
	hasOffsets bool

	// Computed during top-down traversal.
	world      [6]float64
	worldAlpha float64
}

func newSceneNode(name string) *SceneNode {
	return &SceneNode{
		ID:      nextSceneNodeID(),
		Name:    name,
		ScaleX:  1,
		ScaleY:  1,
		Alpha:   1,
		Visible: true,
		Params:  make(map[string]float64),
	}
}

// AddChild appends child to this node. Panics if child is nil or if adding it
// would create a cycle; cyclic parenting is a programmer error, rejected at
// construction.
func (n *SceneNode) AddChild(child *SceneNode) {
	if child == nil {
		panic("prism: cannot add nil child")
	}
	for p := n; p != nil; p = p.Parent {
		if p == child {
			panic("prism: adding child would create a cycle")
		}
	}
	if child.Parent != nil {
		child.Parent.removeChild(child)
	}
	child.Parent = n
	n.children = append(n.children, child)
}

func (n *SceneNode) removeChild(child *SceneNode) {
	for i, c := range n.children {
		if c == child {
			copy(n.children[i:], n.children[i+1:])
			n.children[len(n.children)-1] = nil
			n.children = n.children[:len(n.children)-1]
			return
		}
	}
}

// Children returns the child list. The returned slice MUST NOT be mutated.
func (n *SceneNode) Children() []*SceneNode { return n.children }

// EffectiveChannel returns the node's value for a transform channel with this
// frame's additive overlay applied.
func (n *SceneNode) EffectiveChannel(ch Channel) float64 {
	base := n.channelBase(ch)
	if n.hasOffsets {
		return base + n.offsets[ch]
	}
	return base
}

func (n *SceneNode) channelBase(ch Channel) float64 {
	switch ch {
	case ChannelX:
		return n.X
	case ChannelY:
		return n.Y
	case ChannelScaleX:
		return n.ScaleX
	case ChannelScaleY:
		return n.ScaleY
	case ChannelRotation:
		return n.Rotation
	case ChannelAlpha:
		return n.Alpha
	default:
		return 0
	}
}

func (n *SceneNode) setChannel(ch Channel, v float64) {
	switch ch {
	case ChannelX:
		n.X = v
	case ChannelY:
		n.Y = v
	case ChannelScaleX:
		n.ScaleX = v
	case ChannelScaleY:
		n.ScaleY = v
	case ChannelRotation:
		n.Rotation = v
	case ChannelAlpha:
		n.Alpha = v
	}
}

// WorldTransform returns the node's world affine matrix [a, b, c, d, tx, ty]
// as of the last Evaluate.
func (n *SceneNode) WorldTransform() [6]float64 { return n.world }

// WorldAlpha returns the node's world alpha as of the last Evaluate.
func (n *SceneNode) WorldAlpha() float64 { return n.worldAlpha }

// Scene owns the node hierarchy and applies active cues to it each frame.
type Scene struct {
	root   *SceneNode
	byPath map[string]*SceneNode

	touched []*SceneNode // nodes with additive overlays from the last frame
}

// NewScene creates a scene with a root node named "root".
func NewScene() *Scene {
	root := newSceneNode("root")
	return &Scene{
		root:   root,
		byPath: map[string]*SceneNode{"root": root},
	}
}

// Root returns the scene's root node.
func (s *Scene) Root() *SceneNode { return s.root }

// Lookup returns the node at a slash path, or nil.
func (s *Scene) Lookup(path string) *SceneNode { return s.byPath[path] }

// Ensure returns the node at a slash path, materializing intermediate nodes
// as needed. Nodes come into existence from the paths the timeline and
// pipeline documents reference; there is no separate scene document.
func (s *Scene) Ensure(path string) *SceneNode {
	if n, ok := s.byPath[path]; ok {
		return n
	}
	parts := strings.Split(path, "/")
	if parts[0] != s.root.Name {
		// Paths are rooted; anything else hangs off root by its full path.
		parts = append([]string{s.root.Name}, parts...)
	}
	cur := s.root
	built := parts[0]
	for _, part := range parts[1:] {
		built += "/" + part
		next, ok := s.byPath[built]
		if !ok {
			next = newSceneNode(part)
			cur.AddChild(next)
			s.byPath[built] = next
		}
		cur = next
	}
	// Alias unrooted spellings to the same node.
	s.byPath[path] = cur
	return cur
}

// Bind materializes the target node of every cue in a timeline. Called at
// load and after a timeline hot swap, so evaluation never misses a target.
func (s *Scene) Bind(tl *Timeline) {
	for _, c := range tl.Cues() {
		s.Ensure(c.Node)
	}
}

// Evaluate applies the active cues at time t and recomputes world transforms
// for the whole tree, parents before children. Nodes not targeted by any
// active cue retain their last-evaluated state. Compositable overlaps
// combine by payload rule: sets write held state, additive payloads stack
// into a per-frame overlay.
func (s *Scene) Evaluate(t Time, active []*Cue) {
	// Clear the previous frame's additive overlays.
	for i, n := range s.touched {
		n.offsets = [numChannels]float64{}
		n.hasOffsets = false
		s.touched[i] = nil
	}
	s.touched = s.touched[:0]

	// Active cues arrive in (Start, declaration) order; applying sets before
	// offsets keeps composition independent of that order.
	for _, c := range active {
		if c.Payload.Kind == PayloadTransform && c.Payload.Additive {
			continue
		}
		s.applyCue(t, c)
	}
	for _, c := range active {
		if c.Payload.Kind == PayloadTransform && c.Payload.Additive {
			s.applyCue(t, c)
		}
	}

	updateWorld(s.root, identityTransform, 1)
}

func (s *Scene) applyCue(t Time, c *Cue) {
	n := s.byPath[c.Node]
	if n == nil {
		n = s.Ensure(c.Node)
	}
	local := t - c.Start
	switch c.Payload.Kind {
	case PayloadTransform:
		if c.Payload.Additive {
			if !n.hasOffsets {
				n.hasOffsets = true
				s.touched = append(s.touched, n)
			}
			for _, tr := range c.Payload.Tracks {
				n.offsets[tr.Channel] += tr.Sample(local)
			}
			return
		}
		for _, tr := range c.Payload.Tracks {
			n.setChannel(tr.Channel, tr.Sample(local))
		}
	case PayloadParams:
		for _, tr := range c.Payload.Tracks {
			n.Params[tr.Param] = tr.Sample(local)
		}
	case PayloadVisibility:
		n.Visible = c.Payload.Visible
	}
}

// identityTransform is the identity affine matrix [a, b, c, d, tx, ty].
var identityTransform = [6]float64{1, 0, 0, 1, 0, 0}

// updateWorld resolves world transforms top-down: a parent's matrix is final
// before any of its children compose with it.
func updateWorld(n *SceneNode, parent [6]float64, parentAlpha float64) {
	local := localTransform(n)
	n.world = mulAffine(parent, local)
	n.worldAlpha = parentAlpha * n.EffectiveChannel(ChannelAlpha)
	for _, child := range n.children {
		updateWorld(child, n.world, n.worldAlpha)
	}
}

// localTransform composes Scale, then Rotate, then Translate from the node's
// effective channel values.
func localTransform(n *SceneNode) [6]float64 {
	sx := n.EffectiveChannel(ChannelScaleX)
	sy := n.EffectiveChannel(ChannelScaleY)
	r := n.EffectiveChannel(ChannelRotation)
	x := n.EffectiveChannel(ChannelX)
	y := n.EffectiveChannel(ChannelY)

	sin, cos := math.Sincos(r)
	return [6]float64{
		cos * sx, sin * sx,
		-sin * sy, cos * sy,
		x, y,
	}
}

// mulAffine multiplies two affine matrices: result = parent * child.
//
//	Matrix layout: [a, b, c, d, tx, ty]
//	| a  c  tx |
//	| b  d  ty |
//	| 0  0   1 |
func mulAffine(p, c [6]float64) [6]float64 {
	return [6]float64{
		p[0]*c[0] + p[2]*c[1],
		p[1]*c[0] + p[3]*c[1],
		p[0]*c[2] + p[2]*c[3],
		p[1]*c[2] + p[3]*c[3],
		p[0]*c[4] + p[2]*c[5] + p[4],
		p[1]*c[4] + p[3]*c[5] + p[5],
	}
}
