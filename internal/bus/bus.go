// Package bus is the name- and version-addressed dispatch layer between
// the run engine and node handlers. Handlers register under addresses
// of the shape <version>.<name>.execute; clients dispatch by name and
// version without knowing where the handler runs. The local transport
// executes in-process; the redis transport carries the same envelope
// across processes.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/refluxhq/reflux/internal/core"
)

// DefaultVersion is assumed when a dispatch names no version.
const DefaultVersion = "1.0.0"

// VersionLatest resolves to the newest registered version of a name.
const VersionLatest = "latest"

// DefaultRequestTimeout bounds one dispatch round trip.
const DefaultRequestTimeout = 30 * time.Second

// Meta is the execution metadata delivered to every handler unchanged:
// the run, the step, and the accumulated execution context.
type Meta struct {
	RunID  string                    `json:"run_id"`
	StepID string                    `json:"step_id"`
	Inputs map[string]any            `json:"inputs,omitempty"`
	Nodes  map[string]core.NodeState `json:"nodes,omitempty"`
}

// HandlerFunc executes one node invocation.
type HandlerFunc func(ctx context.Context, params map[string]any, meta Meta) (any, error)

// ParamSpec documents one handler parameter for registry introspection.
// Types range over string, number, boolean, object, array, any.
type ParamSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

// HandlerDef is a registered node handler: its dotted name, version,
// parameter schema, and the function itself.
type HandlerDef struct {
	Name    string
	Version string
	Params  []ParamSpec
	Handler HandlerFunc
}

// Address renders the dispatch address of this definition.
func (d *HandlerDef) Address() string {
	return Address(d.Name, d.Version)
}

// Address renders a dispatch address from a dotted name and version.
func Address(name, version string) string {
	if version == "" {
		version = DefaultVersion
	}
	return fmt.Sprintf("%s.%s.execute", version, name)
}

// AddressInfo describes one registered address for introspection.
type AddressInfo struct {
	Address string      `json:"address"`
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Params  []ParamSpec `json:"params,omitempty"`
}

// Bus dispatches node invocations and exposes the registered addresses.
type Bus interface {
	// Dispatch resolves (name, version) and executes the handler with
	// the given params and metadata. It fails with a not_found error
	// when no handler is registered and a timeout error when the
	// request timeout elapses.
	Dispatch(ctx context.Context, name, version string, params map[string]any, meta Meta) (any, error)
	// Addresses lists the registered addresses and their schemas.
	Addresses(ctx context.Context) ([]AddressInfo, error)
}
