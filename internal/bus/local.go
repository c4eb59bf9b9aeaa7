package bus

import (
	"context"
	"time"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
)

// Local dispatches to handlers registered in the same process. It is
// the default transport when no broker URL is configured.
type Local struct {
	registry *Registry
	timeout  time.Duration
}

var _ Bus = (*Local)(nil)

// LocalOption configures the local bus.
type LocalOption func(*Local)

// WithRequestTimeout overrides the per-dispatch timeout.
func WithRequestTimeout(d time.Duration) LocalOption {
	return func(l *Local) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLocal builds a local bus over the given registry.
func NewLocal(registry *Registry, opts ...LocalOption) *Local {
	l := &Local{registry: registry, timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type dispatchResult struct {
	output any
	err    error
}

// Dispatch resolves the handler and runs it under the request timeout.
// Handler panics are contained and surfaced as execution errors.
func (l *Local) Dispatch(ctx context.Context, name, version string, params map[string]any, meta Meta) (any, error) {
	def, err := l.registry.Resolve(name, version)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resultCh := make(chan dispatchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(ctx, "Node handler panicked",
					tag.Address(def.Address()), tag.RunID(meta.RunID), tag.Value(r))
				resultCh <- dispatchResult{err: core.Executionf("handler %s panicked: %v", def.Address(), r)}
			}
		}()
		output, err := def.Handler(ctx, params, meta)
		resultCh <- dispatchResult{output: output, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.output, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, core.Timeoutf("dispatch %s timed out after %s", def.Address(), l.timeout)
		}
		return nil, ctx.Err()
	}
}

// Addresses lists the registry contents.
func (l *Local) Addresses(_ context.Context) ([]AddressInfo, error) {
	return l.registry.Addresses(), nil
}
