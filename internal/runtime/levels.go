package runtime

import (
	"github.com/refluxhq/reflux/internal/core"
)

// Levels computes the level schedule of a spec by Kahn layering over
// in-degrees: level 0 holds every source, each following level holds
// the nodes whose dependencies all sit in earlier levels. Nodes within
// a level share no edges and execute concurrently.
//
// The schedule places every node exactly once and guarantees
// level(u) < level(v) for every edge (u, v). Node order within a level
// follows declaration order in the spec so schedules are reproducible.
func Levels(spec *core.FlowSpec) ([][]string, error) {
	if err := spec.ValidateGraph(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(spec.Nodes))
	successors := make(map[string][]string, len(spec.Nodes))
	order := make([]string, 0, len(spec.Nodes))
	for _, n := range spec.Nodes {
		inDegree[n.ID] = 0
		order = append(order, n.ID)
	}
	for _, e := range spec.Edges {
		successors[e.From] = append(successors[e.From], e.To)
		inDegree[e.To]++
	}

	var levels [][]string
	placed := make(map[string]struct{}, len(order))
	remaining := len(order)

	for remaining > 0 {
		var level []string
		for _, id := range order {
			if _, done := placed[id]; done {
				continue
			}
			if inDegree[id] == 0 {
				level = append(level, id)
			}
		}
		// No source left while nodes remain: every remaining node sits
		// on a cycle.
		if len(level) == 0 {
			return nil, core.Validationf("Workflow contains a cycle")
		}
		for _, id := range level {
			placed[id] = struct{}{}
			for _, succ := range successors[id] {
				inDegree[succ]--
			}
		}
		remaining -= len(level)
		levels = append(levels, level)
	}
	return levels, nil
}
