// Package runtime executes workflow runs. A run's spec is layered into
// levels by Kahn's algorithm; each level dispatches all of its nodes
// concurrently over the bus and the engine awaits the whole level
// before advancing. Failures are collected per level, aggregated, and
// written as the run's terminal error.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/refluxhq/reflux/internal/bus"
	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/cmn/telemetry"
	"github.com/refluxhq/reflux/internal/core"
	"github.com/refluxhq/reflux/internal/persistence"
	"github.com/refluxhq/reflux/internal/runlog"
)

// ErrRunCancelled is returned by Execute when the run row was
// cancelled between levels. The row already carries its terminal
// state; the engine leaves it untouched.
var ErrRunCancelled = errors.New("run cancelled")

// ExecuteRequest carries everything the engine needs for one run. The
// spec is the snapshot pinned at trigger time; later updates to the
// flow do not reach a run already submitted.
type ExecuteRequest struct {
	RunID    string
	FlowID   string
	FlowName string
	Spec     *core.FlowSpec
	Inputs   map[string]any
}

// Result is the successful outcome of a run: the per-node states
// accumulated by the execution context.
type Result struct {
	Outputs map[string]core.NodeState `json:"outputs"`
	Nodes   map[string]core.NodeState `json:"nodes"`
}

// Engine schedules and executes runs. Execute is synchronous; Submit
// wraps it for fire-and-forget use by the trigger handlers and tracks
// in-flight runs so shutdown can drain them.
type Engine struct {
	runs       persistence.RunStore
	dispatcher bus.Bus
	runLog     *runlog.Logger
	recorder   *Recorder
	metrics    *Metrics
	tracer     *telemetry.Tracer

	wg sync.WaitGroup
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithRunLog attaches the buffered run logger.
func WithRunLog(l *runlog.Logger) EngineOption {
	return func(e *Engine) { e.runLog = l }
}

// WithRecorder attaches the async metric recorder.
func WithRecorder(r *Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics attaches the Prometheus metrics.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer attaches the OTel tracer.
func WithTracer(t *telemetry.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine builds an engine over the run store and dispatch bus.
func NewEngine(runs persistence.RunStore, dispatcher bus.Bus, opts ...EngineOption) *Engine {
	e := &Engine{runs: runs, dispatcher: dispatcher}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit accepts a pending run and executes it in the background. The
// run row transitions to running before execution starts and to
// completed after a successful Execute; failure transitions are
// written inside Execute. The goroutine detaches from the caller's
// cancellation so an HTTP disconnect does not kill the run.
func (e *Engine) Submit(ctx context.Context, req ExecuteRequest) {
	e.wg.Add(1)
	detached := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()
		e.runAccepted(detached, req)
	}()
}

func (e *Engine) runAccepted(ctx context.Context, req ExecuteRequest) {
	ok, err := e.runs.MarkRunning(ctx, req.RunID, "wf-"+req.RunID, uuid.NewString())
	if err != nil {
		logger.Error(ctx, "Failed to mark run running", tag.RunID(req.RunID), tag.Error(err))
		return
	}
	if !ok {
		logger.Warn(ctx, "Run is not pending, skipping execution", tag.RunID(req.RunID))
		return
	}

	res, err := e.Execute(ctx, req)
	if err != nil {
		// Execute wrote the failed state; a cancelled run keeps its row.
		return
	}

	outputs, err := json.Marshal(res.Outputs)
	if err != nil {
		logger.Error(ctx, "Failed to encode run outputs", tag.RunID(req.RunID), tag.Error(err))
		outputs = nil
	}
	if _, err := e.runs.MarkCompleted(ctx, req.RunID, outputs); err != nil {
		logger.Error(ctx, "Failed to mark run completed", tag.RunID(req.RunID), tag.Error(err))
	}
}

// Drain blocks until every submitted run has finished or the context
// expires.
func (e *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the spec level by level. On success it returns the
// accumulated node states and leaves the terminal completion to the
// caller. On failure it writes the failed state through the guarded
// store transition and returns the aggregated error.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*Result, error) {
	start := time.Now().UTC()
	e.metrics.RunStarted()

	ctx, span := e.tracer.Start(ctx, "run.execute", trace.WithAttributes(
		attribute.String("reflux.run_id", req.RunID),
		attribute.String("reflux.flow_id", req.FlowID),
		attribute.String("reflux.flow_name", req.FlowName),
	))
	defer span.End()

	levels, err := Levels(req.Spec)
	if err != nil {
		return nil, e.fail(ctx, span, req, start, err)
	}

	logger.Info(ctx, "Run started",
		tag.RunID(req.RunID), tag.FlowID(req.FlowID), tag.Count(len(req.Spec.Nodes)))
	e.logRun(req.RunID, core.LogInfo, fmt.Sprintf("Workflow started: %s", req.FlowName),
		map[string]any{"levels": len(levels), "nodes": len(req.Spec.Nodes)})

	nodesByID := make(map[string]core.SpecNode, len(req.Spec.Nodes))
	for _, n := range req.Spec.Nodes {
		nodesByID[n.ID] = n
	}

	ec := core.NewExecutionContext(req.Inputs)
	for i, level := range levels {
		if i > 0 && e.isCancelled(ctx, req.RunID) {
			e.logRun(req.RunID, core.LogWarn, "Workflow cancelled, stopping execution",
				map[string]any{"level": i})
			span.SetStatus(codes.Error, "cancelled")
			e.metrics.RunFinished(string(core.StatusCancelled), time.Since(start))
			return nil, ErrRunCancelled
		}

		if err := e.runLevel(ctx, req, i, level, nodesByID, ec); err != nil {
			return nil, e.fail(ctx, span, req, start, err)
		}
	}

	e.logRun(req.RunID, core.LogInfo, "Workflow completed", map[string]any{"nodes": len(ec.Nodes)})
	logger.Info(ctx, "Run completed",
		tag.RunID(req.RunID), tag.FlowID(req.FlowID), tag.Duration(time.Since(start)))
	span.SetStatus(codes.Ok, "")
	e.metrics.RunFinished(string(core.StatusCompleted), time.Since(start))
	e.record(req, core.MetricSuccess, start, "")

	return &Result{Outputs: ec.Nodes, Nodes: ec.Nodes}, nil
}

// nodeResult carries one node's outcome back to the level loop.
type nodeResult struct {
	id    string
	state core.NodeState
	err   error
}

// runLevel dispatches every node of one level concurrently and merges
// the results into the execution context. All failures of the level
// are collected before the aggregate error is built; siblings are
// never aborted mid-flight.
func (e *Engine) runLevel(ctx context.Context, req ExecuteRequest, levelIdx int, level []string, nodesByID map[string]core.SpecNode, ec *core.ExecutionContext) error {
	tc := newTemplateContext(ec)
	meta := bus.Meta{
		RunID:  req.RunID,
		Inputs: ec.Inputs,
		Nodes:  snapshotNodes(ec),
	}

	results := make(chan nodeResult, len(level))
	var wg sync.WaitGroup
	for _, id := range level {
		node := nodesByID[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.runNode(ctx, req, node, tc, meta)
		}()
	}
	wg.Wait()
	close(results)

	byID := make(map[string]nodeResult, len(level))
	for res := range results {
		byID[res.id] = res
		ec.Nodes[res.id] = res.state
	}

	var failures []string
	for _, id := range level {
		res := byID[id]
		if res.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s (%s)", id, res.err.Error(), core.Classify(res.err)))
		}
	}
	if len(failures) > 0 {
		return core.Executionf("Workflow failed at level %d. Failed nodes: %s",
			levelIdx, strings.Join(failures, "; "))
	}
	return nil
}

// runNode resolves the node's params against the level snapshot,
// dispatches it over the bus, and records log entries, a metric row
// and a child span for the attempt.
func (e *Engine) runNode(ctx context.Context, req ExecuteRequest, node core.SpecNode, tc *templateContext, meta bus.Meta) nodeResult {
	meta.StepID = node.ID

	ctx, span := e.tracer.Start(ctx, "node.execute", trace.WithAttributes(
		attribute.String("reflux.node_id", node.ID),
		attribute.String("reflux.node_type", node.Type),
	))
	defer span.End()

	params := resolveParams(node.Params, tc)
	startedAt := time.Now().UTC()

	e.logStep(req.RunID, node.ID, core.LogInfo, fmt.Sprintf("Node started: %s", node.Type), nil)

	output, err := e.dispatcher.Dispatch(ctx, node.Type, node.Version, params, meta)
	finishedAt := time.Now().UTC()
	duration := finishedAt.Sub(startedAt)

	if err != nil {
		errType := core.Classify(err)
		span.SetStatus(codes.Error, err.Error())
		e.logStep(req.RunID, node.ID, core.LogError, fmt.Sprintf("Node failed: %s", err.Error()),
			map[string]any{"error_type": string(errType)})
		logger.Warn(ctx, "Node execution failed",
			tag.RunID(req.RunID), tag.NodeID(node.ID), tag.NodeType(node.Type),
			tag.ErrorType(string(errType)), tag.Error(err))
		e.metrics.NodeExecuted(node.Type, string(core.MetricFailure), duration)
		e.recordNode(req, node, core.MetricFailure, startedAt, duration, errType)
		return nodeResult{
			id: node.ID,
			state: core.NodeState{
				StartedAt:  startedAt,
				FinishedAt: finishedAt,
				Error:      err.Error(),
				ErrorType:  errType,
			},
			err: err,
		}
	}

	span.SetStatus(codes.Ok, "")
	e.logStep(req.RunID, node.ID, core.LogInfo, "Node completed", map[string]any{"output": output})
	e.metrics.NodeExecuted(node.Type, string(core.MetricSuccess), duration)
	e.recordNode(req, node, core.MetricSuccess, startedAt, duration, "")
	return nodeResult{
		id: node.ID,
		state: core.NodeState{
			Output:     output,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		},
	}
}

// fail writes the failed terminal state through the guarded
// transition, emits the terminal log entry and metric rows, and
// returns the error unchanged.
func (e *Engine) fail(ctx context.Context, span trace.Span, req ExecuteRequest, start time.Time, cause error) error {
	span.SetStatus(codes.Error, cause.Error())
	e.logRun(req.RunID, core.LogError, fmt.Sprintf("Workflow failed: %s", cause.Error()),
		map[string]any{"error_type": string(core.Classify(cause))})
	logger.Error(ctx, "Run failed",
		tag.RunID(req.RunID), tag.FlowID(req.FlowID),
		tag.Duration(time.Since(start)), tag.Error(cause))

	if _, err := e.runs.MarkFailed(ctx, req.RunID, cause.Error()); err != nil {
		logger.Error(ctx, "Failed to mark run failed", tag.RunID(req.RunID), tag.Error(err))
	}

	e.metrics.RunFinished(string(core.StatusFailed), time.Since(start))
	e.record(req, core.MetricFailure, start, string(core.Classify(cause)))
	return cause
}

// isCancelled reads the run row at a level boundary. Read failures are
// logged and treated as not cancelled so a flaky read cannot kill a
// healthy run.
func (e *Engine) isCancelled(ctx context.Context, runID string) bool {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		logger.Warn(ctx, "Failed to read run for cancellation check",
			tag.RunID(runID), tag.Error(err))
		return false
	}
	return run.Status == core.StatusCancelled
}

func (e *Engine) record(req ExecuteRequest, status core.MetricStatus, start time.Time, errType string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(core.Metric{
		Timestamp:  start,
		MetricType: core.MetricWorkflowExecution,
		FlowID:     req.FlowID,
		RunID:      req.RunID,
		DurationMS: time.Since(start).Milliseconds(),
		Status:     status,
		ErrorType:  errType,
	})
}

func (e *Engine) recordNode(req ExecuteRequest, node core.SpecNode, status core.MetricStatus, startedAt time.Time, duration time.Duration, errType core.ErrorType) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(core.Metric{
		Timestamp:  startedAt,
		MetricType: core.MetricNodeExecution,
		FlowID:     req.FlowID,
		RunID:      req.RunID,
		NodeID:     node.ID,
		DurationMS: duration.Milliseconds(),
		Status:     status,
		ErrorType:  string(errType),
	})
}

func (e *Engine) logRun(runID string, level core.LogLevel, message string, data any) {
	if e.runLog == nil {
		return
	}
	e.runLog.Append(runID, "", level, message, data)
}

func (e *Engine) logStep(runID, stepID string, level core.LogLevel, message string, data any) {
	if e.runLog == nil {
		return
	}
	e.runLog.Append(runID, stepID, level, message, data)
}

// snapshotNodes copies the accumulated node states so every node of a
// level sees the same context regardless of sibling completion order.
func snapshotNodes(ec *core.ExecutionContext) map[string]core.NodeState {
	out := make(map[string]core.NodeState, len(ec.Nodes))
	for id, state := range ec.Nodes {
		out[id] = state
	}
	return out
}
