package bus

// Port is one typed input or output of a node contract. Types extend
// the parameter alphabet with wire-level kinds (json, http.response,
// openai.message, webhook.payload) used by edge validation in UI
// tooling.
type Port struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// PortContract is the documented shape of one node type.
type PortContract struct {
	Inputs   []Port `json:"inputs"`
	Outputs  []Port `json:"outputs"`
	Category string `json:"category"`
}

// Catalog maps dotted node types to their documented contracts. The
// catalog is static documentation; the registry holds the live
// handlers.
var Catalog = map[string]PortContract{
	"nodes.http.request": {
		Category: "network",
		Inputs: []Port{
			{Name: "url", Type: "string", Required: true, Description: "Request URL"},
			{Name: "method", Type: "string", Description: "HTTP method, default GET"},
			{Name: "headers", Type: "object", Description: "Request headers"},
			{Name: "body", Type: "any", Description: "Request body"},
		},
		Outputs: []Port{
			{Name: "status", Type: "number"},
			{Name: "headers", Type: "object"},
			{Name: "data", Type: "json", Description: "Parsed response body"},
		},
	},
	"nodes.transform.execute": {
		Category: "data",
		Inputs: []Port{
			{Name: "code", Type: "string", Required: true, Description: "Assignment statements over inputs"},
		},
		Outputs: []Port{
			{Name: "outputs", Type: "object", Description: "Values assigned by the code"},
		},
	},
	"nodes.condition.execute": {
		Category: "logic",
		Inputs: []Port{
			{Name: "condition", Type: "string", Required: true, Description: "Boolean expression"},
		},
		Outputs: []Port{
			{Name: "result", Type: "boolean"},
		},
	},
	"nodes.database.query": {
		Category: "data",
		Inputs: []Port{
			{Name: "connectionString", Type: "string", Description: "Override connection string"},
			{Name: "query", Type: "string", Required: true, Description: "SQL statement"},
			{Name: "params", Type: "array", Description: "Positional query parameters"},
		},
		Outputs: []Port{
			{Name: "rows", Type: "array"},
			{Name: "rowCount", Type: "number"},
			{Name: "fields", Type: "array"},
		},
	},
	"nodes.email.send": {
		Category: "communication",
		Inputs: []Port{
			{Name: "to", Type: "string", Required: true},
			{Name: "subject", Type: "string", Required: true},
			{Name: "text", Type: "string"},
			{Name: "html", Type: "string"},
			{Name: "from", Type: "string"},
			{Name: "cc", Type: "string"},
			{Name: "bcc", Type: "string"},
		},
		Outputs: []Port{
			{Name: "messageId", Type: "string"},
			{Name: "accepted", Type: "array"},
			{Name: "rejected", Type: "array"},
		},
	},
	"nodes.openai.chat": {
		Category: "ai",
		Inputs: []Port{
			{Name: "model", Type: "string"},
			{Name: "prompt", Type: "string", Required: true},
			{Name: "systemPrompt", Type: "string"},
			{Name: "temperature", Type: "number"},
			{Name: "maxTokens", Type: "number"},
			{Name: "apiKey", Type: "string", Description: "Override API key"},
		},
		Outputs: []Port{
			{Name: "content", Type: "openai.message"},
			{Name: "model", Type: "string"},
			{Name: "usage", Type: "object"},
			{Name: "finishReason", Type: "string"},
		},
	},
	"nodes.webhook.trigger": {
		Category: "trigger",
		Inputs: []Port{
			{Name: "path", Type: "string", Required: true, Description: "Webhook path to match"},
			{Name: "method", Type: "string", Description: "HTTP method to match; POST matches any"},
		},
		Outputs: []Port{
			{Name: "payload", Type: "webhook.payload"},
		},
	},
}

// Contract returns the catalog entry for a node type.
func Contract(nodeType string) (PortContract, bool) {
	c, ok := Catalog[nodeType]
	return c, ok
}

// Compatible reports whether an output port type can feed an input
// port type when edges are validated in UI tooling.
func Compatible(from, to string) bool {
	if from == "any" || to == "any" {
		return true
	}
	if from == to {
		return true
	}
	switch {
	case from == "json" && (to == "object" || to == "array"):
		return true
	case to == "json" && (from == "object" || from == "array"):
		return true
	case (from == "http.response" || from == "webhook.payload") && to == "object":
		return true
	case from == "openai.message" && to == "string":
		return true
	// Objects flow into string or number slots through templating.
	case (from == "object" || from == "json" || from == "webhook.payload") && (to == "string" || to == "number"):
		return true
	}
	return false
}
