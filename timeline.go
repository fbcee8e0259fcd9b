package prism

import (
	"fmt"
	"sort"
)

// Cue is a time-scoped instruction bound to a scene node. It is active during
// the half-open interval [Start, End) and immutable after load; timeline edits
// replace the whole cue graph, never individual cues.
type Cue struct {
	ID      string
	Start   Time
	End     Time
	Node    string // slash path of the target node, e.g. "root/logo/glow"
	Payload Payload

	decl int // declaration order, breaks Start ties
}

// Timeline is an immutable, time-indexed collection of cues. Queries are
// served from an incrementally maintained open set while time advances
// monotonically; a backward seek falls back to a full rescan.
type Timeline struct {
	cues []*Cue // sorted by (Start, decl)

	open   []*Cue // cues with Start <= lastT < End, in (Start, decl) order
	cursor int    // index of the next cue to open
	lastT  Time
	primed bool
}

// NewTimeline validates and indexes a set of cues. Load-time rejections:
// Start >= End, unknown payload contents, and overlapping cues on one node
// whose payloads are not compositable.
func NewTimeline(cues []Cue) (*Timeline, error) {
	indexed := make([]*Cue, len(cues))
	byNode := make(map[string][]*Cue)
	for i := range cues {
		c := cues[i]
		c.decl = i
		if c.Start >= c.End {
			return nil, fmt.Errorf("prism: cue %q: start %g is not before end %g",
				c.ID, float64(c.Start), float64(c.End))
		}
		if c.Node == "" {
			return nil, fmt.Errorf("prism: cue %q: missing target node", c.ID)
		}
		if err := c.Payload.normalize(); err != nil {
			return nil, fmt.Errorf("prism: cue %q: %w", c.ID, err)
		}
		indexed[i] = &c
		byNode[c.Node] = append(byNode[c.Node], &c)
	}

	// Overlap conflicts are rejected here so evaluation never special-cases.
	for node, group := range byNode {
		sort.Slice(group, func(i, j int) bool { return group[i].Start < group[j].Start })
		for i, a := range group {
			for _, b := range group[i+1:] {
				if b.Start >= a.End {
					break
				}
				if !Compositable(a.Payload, b.Payload) {
					first, second := a, b
					if second.decl < first.decl {
						first, second = second, first
					}
					return nil, &ConflictError{CueA: first.ID, CueB: second.ID, Node: node}
				}
			}
		}
	}

	sort.SliceStable(indexed, func(i, j int) bool {
		if indexed[i].Start != indexed[j].Start {
			return indexed[i].Start < indexed[j].Start
		}
		return indexed[i].decl < indexed[j].decl
	})
	return &Timeline{cues: indexed}, nil
}

// Len returns the number of cues.
func (tl *Timeline) Len() int { return len(tl.cues) }

// Cues returns all cues in (Start, declaration) order.
// The returned slice MUST NOT be mutated.
func (tl *Timeline) Cues() []*Cue { return tl.cues }

// Duration returns the end time of the last-ending cue.
func (tl *Timeline) Duration() Time {
	var d Time
	for _, c := range tl.cues {
		if c.End > d {
			d = c.End
		}
	}
	return d
}

// ActiveCues returns every cue with Start <= t < End, ascending by Start with
// ties broken by declaration order. Queries before the first cue or after the
// last return an empty slice; the scene holds last-applied state, not a reset.
// The returned slice is valid until the next call and MUST NOT be mutated.
func (tl *Timeline) ActiveCues(t Time) []*Cue {
	if !tl.primed || t < tl.lastT {
		tl.rescan(t)
		return tl.open
	}

	// Monotonic advance: close expired cues, then open newly started ones.
	kept := tl.open[:0]
	for _, c := range tl.open {
		if c.End > t {
			kept = append(kept, c)
		}
	}
	tl.open = kept
	for tl.cursor < len(tl.cues) && tl.cues[tl.cursor].Start <= t {
		if c := tl.cues[tl.cursor]; c.End > t {
			tl.open = tl.insertOpen(c)
		}
		tl.cursor++
	}
	tl.lastT = t
	return tl.open
}

// rescan rebuilds the open set from scratch for a non-monotonic seek.
func (tl *Timeline) rescan(t Time) {
	tl.open = tl.open[:0]
	tl.cursor = 0
	for tl.cursor < len(tl.cues) && tl.cues[tl.cursor].Start <= t {
		if c := tl.cues[tl.cursor]; c.End > t {
			tl.open = append(tl.open, c)
		}
		tl.cursor++
	}
	tl.lastT = t
	tl.primed = true
}

// insertOpen inserts c preserving (Start, decl) order. Cues open in index
// order, but a cue surviving from an earlier advance may sort after a newly
// opened one; insertion keeps the invariant regardless.
func (tl *Timeline) insertOpen(c *Cue) []*Cue {
	i := sort.Search(len(tl.open), func(j int) bool {
		o := tl.open[j]
		if o.Start != c.Start {
			return o.Start > c.Start
		}
		return o.decl > c.decl
	})
	tl.open = append(tl.open, nil)
	copy(tl.open[i+1:], tl.open[i:])
	tl.open[i] = c
	return tl.open
}
