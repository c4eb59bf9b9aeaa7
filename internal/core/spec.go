package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NodeTypeWebhookTrigger is the node type the webhook router matches on.
const NodeTypeWebhookTrigger = "nodes.webhook.trigger"

// FlowSpec is the JSON body of flow.spec: a DAG of typed nodes.
type FlowSpec struct {
	Nodes []SpecNode `json:"nodes"`
	Edges []SpecEdge `json:"edges"`
}

// SpecNode is one vertex of the DAG. Version selects the handler
// version on the dispatch bus; empty means the default.
type SpecNode struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Version string         `json:"version,omitempty"`
	Params  map[string]any `json:"params"`
}

// SpecEdge is a directed dependency between two node ids.
type SpecEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ParseSpec decodes a spec document. Structural faults (duplicate ids,
// empty ids, missing types) are validation errors; graph-level faults
// (dangling edges, cycles) are left to execution admission so that a
// stored flow can still be inspected and fixed.
func ParseSpec(data []byte) (*FlowSpec, error) {
	var spec FlowSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, Validationf("invalid flow spec: %v", err)
	}
	seen := make(map[string]struct{}, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if n.ID == "" {
			return nil, Validationf("flow spec contains a node without an id")
		}
		if n.Type == "" {
			return nil, Validationf("node %q has no type", n.ID)
		}
		if _, dup := seen[n.ID]; dup {
			return nil, Validationf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	return &spec, nil
}

// ValidateGraph checks the invariants required before scheduling:
// non-empty node set and edges that reference declared node ids.
// Cycle detection happens during level computation.
func (s *FlowSpec) ValidateGraph() error {
	if len(s.Nodes) == 0 {
		return Validationf("flow spec has no nodes")
	}
	ids := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		ids[n.ID] = struct{}{}
	}
	for _, e := range s.Edges {
		if _, ok := ids[e.From]; !ok {
			return Validationf("edge references unknown node %q", e.From)
		}
		if _, ok := ids[e.To]; !ok {
			return Validationf("edge references unknown node %q", e.To)
		}
	}
	return nil
}

// Node returns the node with the given id, or nil.
func (s *FlowSpec) Node(id string) *SpecNode {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i]
		}
	}
	return nil
}

// WebhookTrigger describes a webhook entry point declared in a spec.
type WebhookTrigger struct {
	NodeID string
	Path   string
	Method string
}

// WebhookTriggers collects the webhook trigger nodes of the spec.
func (s *FlowSpec) WebhookTriggers() []WebhookTrigger {
	var out []WebhookTrigger
	for _, n := range s.Nodes {
		if n.Type != NodeTypeWebhookTrigger {
			continue
		}
		t := WebhookTrigger{NodeID: n.ID}
		if p, ok := n.Params["path"].(string); ok {
			t.Path = p
		}
		if m, ok := n.Params["method"].(string); ok {
			t.Method = strings.ToUpper(m)
		}
		out = append(out, t)
	}
	return out
}

// Matches reports whether this trigger accepts the given request.
// A trigger matches when the path is equal and the method either
// matches, is unset, or is POST.
func (t WebhookTrigger) Matches(method, path string) bool {
	if t.Path != path {
		return false
	}
	method = strings.ToUpper(method)
	return t.Method == method || t.Method == "" || t.Method == "POST"
}

// String renders an edge for error messages.
func (e SpecEdge) String() string {
	return fmt.Sprintf("%s->%s", e.From, e.To)
}
