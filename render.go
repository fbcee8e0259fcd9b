package prism

import "fmt"

// passInput is one resolved input binding for a pass.
type passInput struct {
	asset Handle // texture asset, or
	pass  int    // index of the producing pass in topological order
}

// renderPass is the runtime form of one pass: compiled pipeline, resolved
// input bindings, and its output target. Passes are static across frames;
// only the resolved versions of their inputs change.
type renderPass struct {
	id         string
	shader     Handle
	shaderVer  uint64 // version the pipeline was compiled from
	pipeline   PipelineHandle
	pipelineOK bool
	node       string
	inputs     []passInput
	target     TargetHandle
	screen     bool
}

// RenderScheduler turns scene state and the static pass pipeline into an
// ordered sequence of GPU executions per frame. The pass dependency graph is
// validated and topologically sorted once at load; a cycle is a load error,
// never a runtime condition.
type RenderScheduler struct {
	g     Graphics
	cache *AssetCache

	passes []renderPass // topological order
	byID   map[string]int
	width  int
	height int
}

// NewRenderScheduler validates a pipeline manifest, compiles its shaders, and
// allocates its offscreen targets.
func NewRenderScheduler(g Graphics, cache *AssetCache, m *PipelineManifest, width, height int) (*RenderScheduler, error) {
	order, err := sortPasses(m.Passes)
	if err != nil {
		return nil, err
	}

	rs := &RenderScheduler{
		g:      g,
		cache:  cache,
		byID:   make(map[string]int, len(order)),
		width:  width,
		height: height,
	}

	for _, pm := range order {
		rp := renderPass{id: pm.ID, node: pm.Node, screen: pm.Screen}

		rp.shader, err = cache.GetOrLoad(pm.Shader, AssetShader)
		if err != nil {
			return nil, err
		}
		if err := rs.compile(&rp); err != nil {
			return nil, fmt.Errorf("prism: pass %q: %w", pm.ID, err)
		}

		for _, im := range pm.Inputs {
			switch {
			case im.Asset != "" && im.Pass != "":
				return nil, fmt.Errorf("prism: pass %q: input names both asset and pass", pm.ID)
			case im.Asset != "":
				h, err := cache.GetOrLoad(im.Asset, AssetKindForPath(im.Asset))
				if err != nil {
					return nil, err
				}
				rp.inputs = append(rp.inputs, passInput{asset: h})
			case im.Pass != "":
				dep, ok := rs.byID[im.Pass]
				if !ok {
					// sortPasses already ordered dependencies first.
					return nil, fmt.Errorf("prism: pass %q: unknown input pass %q", pm.ID, im.Pass)
				}
				rp.inputs = append(rp.inputs, passInput{asset: 0, pass: dep})
			default:
				return nil, fmt.Errorf("prism: pass %q: empty input", pm.ID)
			}
		}

		if pm.Screen {
			rp.target = TargetScreen
		} else {
			rp.target, err = g.CreateTarget(width, height)
			if err != nil {
				return nil, fmt.Errorf("prism: pass %q: create target: %w", pm.ID, err)
			}
		}

		rs.byID[pm.ID] = len(rs.passes)
		rs.passes = append(rs.passes, rp)
	}
	return rs, nil
}

// compile builds the pass's pipeline from the current shader asset version.
func (rs *RenderScheduler) compile(rp *renderPass) error {
	entry, err := rs.cache.Resolve(rp.shader)
	if err != nil {
		return err
	}
	src, ok := entry.Payload.(ShaderSource)
	if !ok {
		return fmt.Errorf("asset %q is not a shader", entry.Path)
	}
	p, err := rs.g.CreatePipeline(src)
	if err != nil {
		return err
	}
	rp.pipeline = p
	rp.pipelineOK = true
	rp.shaderVer = entry.Version
	return nil
}

// PassCount returns the number of scheduled passes.
func (rs *RenderScheduler) PassCount() int { return len(rs.passes) }

// Execute runs every pass in dependency order against the current scene
// state. A pass whose required input fails to resolve is skipped for the
// frame with a PassSkipped event; the rest of the frame proceeds. Entries
// resolved here stay pinned until the caller's AssetCache.EndFrame.
func (rs *RenderScheduler) Execute(sc *Scene, t Time, sink EventSink) {
	for i := range rs.passes {
		rp := &rs.passes[i]

		// Hot shader swap: the pipeline follows the asset version. A source
		// that fails to compile leaves the previous pipeline drawing.
		if entry, err := rs.cache.Resolve(rp.shader); err == nil {
			if entry.Version != rp.shaderVer {
				prevOK := rp.pipelineOK
				if err := rs.compile(rp); err != nil {
					rp.shaderVer = entry.Version // don't retry every frame
					rp.pipelineOK = prevOK
					sink(ReloadFailed{Path: entry.Path, Cause: err})
				}
			}
		}
		if !rp.pipelineOK {
			sink(PassSkipped{Pass: rp.id, Cause: fmt.Errorf("no compiled pipeline")})
			continue
		}

		var node *SceneNode
		if rp.node != "" {
			node = sc.Lookup(rp.node)
			if node != nil && !node.Visible {
				continue // toggled off by a visibility cue; not an error
			}
		}

		inputs, err := rs.resolveInputs(rp)
		if err != nil {
			sink(PassSkipped{Pass: rp.id, Cause: err})
			continue
		}

		uniforms := passUniforms(t, node)
		if err := rs.g.Execute(rp.pipeline, inputs, uniforms, rp.target); err != nil {
			sink(PassSkipped{Pass: rp.id, Cause: err})
		}
	}
}

func (rs *RenderScheduler) resolveInputs(rp *renderPass) ([]Resource, error) {
	inputs := make([]Resource, 0, len(rp.inputs))
	for _, in := range rp.inputs {
		if in.asset == 0 {
			inputs = append(inputs, Resource{Target: rs.passes[in.pass].target})
			continue
		}
		entry, err := rs.cache.Acquire(in.asset)
		if err != nil {
			return nil, err
		}
		tex, ok := entry.Payload.(*Texture)
		if !ok {
			return nil, fmt.Errorf("input %q is not a texture", entry.Path)
		}
		inputs = append(inputs, Resource{Texture: tex})
	}
	return inputs, nil
}

// passUniforms assembles the uniform set for a pass: playback time plus the
// bound node's parameters and effective transform channels.
func passUniforms(t Time, node *SceneNode) map[string]any {
	u := map[string]any{"Time": float32(t)}
	if node == nil {
		return u
	}
	for name, v := range node.Params {
		u[name] = float32(v)
	}
	u["NodeX"] = float32(node.EffectiveChannel(ChannelX))
	u["NodeY"] = float32(node.EffectiveChannel(ChannelY))
	u["NodeScaleX"] = float32(node.EffectiveChannel(ChannelScaleX))
	u["NodeScaleY"] = float32(node.EffectiveChannel(ChannelScaleY))
	u["NodeRotation"] = float32(node.EffectiveChannel(ChannelRotation))
	u["NodeAlpha"] = float32(node.WorldAlpha())
	return u
}

// ReleaseTargets frees the scheduler's offscreen targets. Called when the
// frame loop stops.
func (rs *RenderScheduler) ReleaseTargets() {
	for i := range rs.passes {
		if !rs.passes[i].screen {
			rs.g.ReleaseTarget(rs.passes[i].target)
		}
	}
}

// sortPasses validates pass IDs and returns the passes in topological order
// of their pass-to-pass dependencies (Kahn's algorithm). Declaration order is
// preserved among independent passes so scheduling is reproducible.
func sortPasses(passes []PassManifest) ([]PassManifest, error) {
	index := make(map[string]int, len(passes))
	for i, pm := range passes {
		if pm.ID == "" {
			return nil, fmt.Errorf("prism: pass %d: missing id", i)
		}
		if pm.Shader == "" {
			return nil, fmt.Errorf("prism: pass %q: missing shader", pm.ID)
		}
		if _, dup := index[pm.ID]; dup {
			return nil, fmt.Errorf("prism: duplicate pass id %q", pm.ID)
		}
		index[pm.ID] = i
	}

	indegree := make([]int, len(passes))
	dependents := make([][]int, len(passes))
	for i, pm := range passes {
		for _, in := range pm.Inputs {
			if in.Pass == "" {
				continue
			}
			dep, ok := index[in.Pass]
			if !ok {
				return nil, fmt.Errorf("prism: pass %q: unknown input pass %q", pm.ID, in.Pass)
			}
			dependents[dep] = append(dependents[dep], i)
			indegree[i]++
		}
	}

	var queue []int
	for i := range passes {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	out := make([]PassManifest, 0, len(passes))
	for len(queue) > 0 {
		// Pop the lowest declaration index for stable output order.
		min := 0
		for i := 1; i < len(queue); i++ {
			if queue[i] < queue[min] {
				min = i
			}
		}
		cur := queue[min]
		queue = append(queue[:min], queue[min+1:]...)

		out = append(out, passes[cur])
		for _, dep := range dependents[cur] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(out) != len(passes) {
		var cycle []string
		for i, pm := range passes {
			if indegree[i] > 0 {
				cycle = append(cycle, pm.ID)
			}
		}
		return nil, &CycleError{Kind: "pass", Members: cycle}
	}
	return out, nil
}
