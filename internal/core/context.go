package core

import "time"

// NodeState is the recorded outcome of one node within a run.
type NodeState struct {
	Output     any       `json:"output,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
	ErrorType  ErrorType `json:"error_type,omitempty"`
}

// ExecutionContext accumulates state while a run executes. It is local
// to the run's scheduling goroutine and never shared between runs; the
// engine passes it by reference through the level loop.
type ExecutionContext struct {
	Inputs map[string]any       `json:"inputs"`
	Nodes  map[string]NodeState `json:"nodes"`
}

// NewExecutionContext builds a context seeded with the run inputs.
func NewExecutionContext(inputs map[string]any) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &ExecutionContext{
		Inputs: inputs,
		Nodes:  map[string]NodeState{},
	}
}
