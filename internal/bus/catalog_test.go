package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversBuiltinNodes(t *testing.T) {
	for _, nodeType := range []string{
		"nodes.http.request",
		"nodes.transform.execute",
		"nodes.condition.execute",
		"nodes.database.query",
		"nodes.email.send",
		"nodes.openai.chat",
		"nodes.webhook.trigger",
	} {
		contract, ok := Contract(nodeType)
		require.True(t, ok, nodeType)
		assert.NotEmpty(t, contract.Category, nodeType)
		assert.NotEmpty(t, contract.Inputs, nodeType)
		assert.NotEmpty(t, contract.Outputs, nodeType)
	}

	_, ok := Contract("nodes.unknown")
	assert.False(t, ok)
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{"any", "string", true},
		{"number", "any", true},
		{"string", "string", true},
		{"json", "object", true},
		{"json", "array", true},
		{"array", "json", true},
		{"http.response", "object", true},
		{"webhook.payload", "object", true},
		{"openai.message", "string", true},
		{"object", "string", true},
		{"json", "number", true},
		{"webhook.payload", "number", true},

		{"string", "number", false},
		{"boolean", "string", false},
		{"http.response", "array", false},
		{"openai.message", "number", false},
		{"number", "object", false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Compatible(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
