package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refluxhq/reflux/internal/core"
)

func specOf(nodes []string, edges [][2]string) *core.FlowSpec {
	s := &core.FlowSpec{}
	for _, id := range nodes {
		s.Nodes = append(s.Nodes, core.SpecNode{ID: id, Type: "nodes.noop"})
	}
	for _, e := range edges {
		s.Edges = append(s.Edges, core.SpecEdge{From: e[0], To: e[1]})
	}
	return s
}

func TestLevelsLinearChain(t *testing.T) {
	levels, err := Levels(specOf([]string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}}))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levels)
}

func TestLevelsDiamond(t *testing.T) {
	levels, err := Levels(specOf(
		[]string{"a", "b", "c", "d"},
		[][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}},
	))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, levels)
}

func TestLevelsIndependentNodesShareLevelZero(t *testing.T) {
	levels, err := Levels(specOf([]string{"x", "y", "z"}, nil))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x", "y", "z"}}, levels)
}

// Every node must land in exactly one level, and every edge must cross
// strictly forward between levels.
func TestLevelsScheduleProperties(t *testing.T) {
	nodes := []string{"a", "b", "c", "d", "e", "f", "g"}
	edges := [][2]string{
		{"a", "c"}, {"b", "c"}, {"b", "d"}, {"c", "e"},
		{"d", "e"}, {"d", "f"}, {"e", "g"}, {"f", "g"},
	}
	levels, err := Levels(specOf(nodes, edges))
	require.NoError(t, err)

	levelOf := map[string]int{}
	for i, level := range levels {
		for _, id := range level {
			_, seen := levelOf[id]
			require.False(t, seen, "node %s appears twice", id)
			levelOf[id] = i
		}
	}
	require.Len(t, levelOf, len(nodes))
	for _, e := range edges {
		assert.Less(t, levelOf[e[0]], levelOf[e[1]],
			"edge %s->%s must cross forward", e[0], e[1])
	}
}

func TestLevelsCycleRejected(t *testing.T) {
	_, err := Levels(specOf([]string{"a", "b", "c"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}))
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
	assert.Contains(t, err.Error(), "Workflow contains a cycle")
}

func TestLevelsSelfLoopRejected(t *testing.T) {
	_, err := Levels(specOf([]string{"a"}, [][2]string{{"a", "a"}}))
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
}

func TestLevelsEmptySpecRejected(t *testing.T) {
	_, err := Levels(&core.FlowSpec{})
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
}

func TestLevelsEdgeToUndeclaredNodeRejected(t *testing.T) {
	_, err := Levels(specOf([]string{"a"}, [][2]string{{"a", "ghost"}}))
	require.Error(t, err)
	assert.Equal(t, core.ErrTypeValidation, core.Classify(err))
}

func TestLevelsKeepDeclarationOrderWithinLevel(t *testing.T) {
	levels, err := Levels(specOf(
		[]string{"z", "m", "a", "sink"},
		[][2]string{{"z", "sink"}, {"m", "sink"}, {"a", "sink"}},
	))
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, []string{"z", "m", "a"}, levels[0])
}
