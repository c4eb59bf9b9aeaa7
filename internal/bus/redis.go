package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/core"
)

const (
	queuePrefix = "reflux:bus:"
	replyPrefix = "reflux:bus:reply:"
	registryKey = "reflux:bus:registry"

	// replyTTL bounds how long an unclaimed reply lingers after the
	// client gave up waiting.
	replyTTL = time.Minute

	// popBlock is how long one BRPOP blocks before the consumer loop
	// rechecks for shutdown.
	popBlock = 2 * time.Second
)

// wireRequest is the envelope pushed onto a handler queue.
type wireRequest struct {
	ID      string         `json:"id"`
	Address string         `json:"address"`
	Params  map[string]any `json:"params,omitempty"`
	Meta    Meta           `json:"meta"`
	ReplyTo string         `json:"reply_to"`
}

// wireResponse is the envelope pushed back onto the reply queue.
type wireResponse struct {
	ID        string          `json:"id"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType core.ErrorType  `json:"error_type,omitempty"`
}

// Redis is the broker-backed bus client. Requests are LPUSHed onto the
// handler's queue; the reply comes back on a per-request list. Workers
// publish their addresses into a registry hash so clients can reject
// unknown addresses without waiting for a timeout.
type Redis struct {
	client  redis.UniversalClient
	timeout time.Duration
}

var _ Bus = (*Redis)(nil)

// RedisOption configures the redis bus client.
type RedisOption func(*Redis)

// WithRedisRequestTimeout overrides the per-dispatch timeout.
func WithRedisRequestTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRedis connects to the broker named by a redis:// or rediss:// URL.
func NewRedis(url string, opts ...RedisOption) (*Redis, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.Validationf("invalid bus transporter URL: %v", err)
	}

	b := &Redis{client: redis.NewClient(parsed), timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, core.StorageErr("connect to bus broker", err)
	}
	return b, nil
}

// Close releases the broker connection.
func (b *Redis) Close() error {
	return b.client.Close()
}

// Dispatch sends the request to the handler's queue and blocks on the
// reply list until the response arrives or the timeout elapses.
func (b *Redis) Dispatch(ctx context.Context, name, version string, params map[string]any, meta Meta) (any, error) {
	address, err := b.resolveAddress(ctx, name, version)
	if err != nil {
		return nil, err
	}

	req := wireRequest{
		ID:      uuid.New().String(),
		Address: address,
		Params:  params,
		Meta:    meta,
		ReplyTo: replyPrefix + uuid.New().String(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, core.Executionf("encode bus request: %v", err)
	}

	if err := b.client.LPush(ctx, queuePrefix+address, payload).Err(); err != nil {
		return nil, core.StorageErr("enqueue bus request", err)
	}

	res, err := b.client.BRPop(ctx, b.timeout, req.ReplyTo).Result()
	if errors.Is(err, redis.Nil) {
		return nil, core.Timeoutf("dispatch %s timed out after %s", address, b.timeout)
	}
	if err != nil {
		return nil, core.StorageErr("await bus reply", err)
	}
	if len(res) != 2 {
		return nil, core.Executionf("malformed bus reply for %s", address)
	}

	var resp wireResponse
	if err := json.Unmarshal([]byte(res[1]), &resp); err != nil {
		return nil, core.Executionf("decode bus reply: %v", err)
	}
	if resp.Error != "" {
		errType := resp.ErrorType
		if errType == "" {
			errType = core.ErrTypeExecution
		}
		return nil, &core.Error{Type: errType, Message: resp.Error}
	}

	var output any
	if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &output); err != nil {
			return nil, core.Executionf("decode bus output: %v", err)
		}
	}
	return output, nil
}

// Addresses reads the registry hash the workers maintain.
func (b *Redis) Addresses(ctx context.Context) ([]AddressInfo, error) {
	entries, err := b.client.HGetAll(ctx, registryKey).Result()
	if err != nil {
		return nil, core.StorageErr("read bus registry", err)
	}

	out := make([]AddressInfo, 0, len(entries))
	for addr, payload := range entries {
		var info AddressInfo
		if err := json.Unmarshal([]byte(payload), &info); err != nil {
			logger.Warn(ctx, "Skipping malformed bus registry entry", tag.Address(addr), tag.Error(err))
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// resolveAddress maps (name, version) to a registered address. The
// literal "latest" picks the newest registered semver of the name.
func (b *Redis) resolveAddress(ctx context.Context, name, version string) (string, error) {
	if version == "" {
		version = DefaultVersion
	}
	if version != VersionLatest {
		address := Address(name, version)
		exists, err := b.client.HExists(ctx, registryKey, address).Result()
		if err != nil {
			return "", core.StorageErr("check bus registry", err)
		}
		if !exists {
			return "", core.NotFoundf("no handler registered for %s", address)
		}
		return address, nil
	}

	infos, err := b.Addresses(ctx)
	if err != nil {
		return "", err
	}
	var newest *semver.Version
	var pick string
	for _, info := range infos {
		if info.Name != name {
			continue
		}
		parsed, err := semver.NewVersion(info.Version)
		if err != nil {
			continue
		}
		if newest == nil || parsed.GreaterThan(newest) {
			newest = parsed
			pick = info.Address
		}
	}
	if pick == "" {
		return "", core.NotFoundf("no handler registered for %s", name)
	}
	return pick, nil
}

// Worker consumes handler queues and executes registered handlers. One
// worker serves every address in its registry with a small pool of
// consumer goroutines.
type Worker struct {
	registry *Registry
	client   redis.UniversalClient
	poolSize int
	timeout  time.Duration

	byAddress map[string]*HandlerDef
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// WorkerOption configures the redis bus worker.
type WorkerOption func(*Worker)

// WithWorkerPoolSize sets the number of consumer goroutines.
func WithWorkerPoolSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.poolSize = n
		}
	}
}

// WithWorkerTimeout bounds one handler execution.
func WithWorkerTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// NewWorker connects to the broker and prepares a worker for the given
// registry.
func NewWorker(url string, registry *Registry, opts ...WorkerOption) (*Worker, error) {
	parsed, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.Validationf("invalid bus transporter URL: %v", err)
	}

	w := &Worker{
		registry: registry,
		client:   redis.NewClient(parsed),
		poolSize: 4,
		timeout:  DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.client.Ping(ctx).Err(); err != nil {
		return nil, core.StorageErr("connect to bus broker", err)
	}
	return w, nil
}

// Start publishes the worker's addresses and launches the consumer
// pool. It returns once the pool is running.
func (w *Worker) Start(ctx context.Context) error {
	infos := w.registry.Addresses()
	if len(infos) == 0 {
		return core.Validationf("worker registry is empty")
	}

	w.byAddress = make(map[string]*HandlerDef, len(infos))
	queues := make([]string, 0, len(infos))
	for _, info := range infos {
		def, err := w.registry.Resolve(info.Name, info.Version)
		if err != nil {
			return err
		}
		w.byAddress[info.Address] = def
		queues = append(queues, queuePrefix+info.Address)

		payload, err := json.Marshal(info)
		if err != nil {
			return core.Executionf("encode registry entry: %v", err)
		}
		if err := w.client.HSet(ctx, registryKey, info.Address, payload).Err(); err != nil {
			return core.StorageErr("publish bus registry", err)
		}
		logger.Info(ctx, "Registered bus handler", tag.Address(info.Address))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	for i := 0; i < w.poolSize; i++ {
		w.wg.Add(1)
		go w.consume(runCtx, queues)
	}
	logger.Info(ctx, "Bus worker started", tag.Count(len(queues)), tag.Size(w.poolSize))
	return nil
}

// Stop withdraws the worker's addresses and waits for in-flight
// handlers to finish.
func (w *Worker) Stop(ctx context.Context) {
	for addr := range w.byAddress {
		if err := w.client.HDel(ctx, registryKey, addr).Err(); err != nil {
			logger.Warn(ctx, "Failed to withdraw bus address", tag.Address(addr), tag.Error(err))
		}
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	if err := w.client.Close(); err != nil {
		logger.Warn(ctx, "Failed to close bus broker connection", tag.Error(err))
	}
	logger.Info(ctx, "Bus worker stopped")
}

func (w *Worker) consume(ctx context.Context, queues []string) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := w.client.BRPop(ctx, popBlock, queues...).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn(ctx, "Bus consumer poll failed", tag.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}
		w.handle(ctx, strings.TrimPrefix(res[0], queuePrefix), res[1])
	}
}

func (w *Worker) handle(ctx context.Context, address, payload string) {
	var req wireRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		logger.Warn(ctx, "Dropping malformed bus request", tag.Address(address), tag.Error(err))
		return
	}

	def, ok := w.byAddress[address]
	resp := wireResponse{ID: req.ID}
	if !ok {
		resp.Error = "no handler registered for " + address
		resp.ErrorType = core.ErrTypeNotFound
	} else {
		output, err := w.execute(ctx, def, req)
		if err != nil {
			resp.Error = err.Error()
			resp.ErrorType = core.Classify(err)
		} else if output != nil {
			encoded, err := json.Marshal(output)
			if err != nil {
				resp.Error = "encode handler output: " + err.Error()
				resp.ErrorType = core.ErrTypeExecution
			} else {
				resp.Output = encoded
			}
		}
	}

	if req.ReplyTo == "" {
		return
	}
	encoded, err := json.Marshal(resp)
	if err != nil {
		logger.Error(ctx, "Failed to encode bus reply", tag.Address(address), tag.Error(err))
		return
	}
	pipe := w.client.Pipeline()
	pipe.LPush(ctx, req.ReplyTo, encoded)
	pipe.Expire(ctx, req.ReplyTo, replyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn(ctx, "Failed to push bus reply", tag.Address(address), tag.Error(err))
	}
}

func (w *Worker) execute(ctx context.Context, def *HandlerDef, req wireRequest) (output any, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Node handler panicked",
				tag.Address(def.Address()), tag.RunID(req.Meta.RunID), tag.Value(r))
			err = core.Executionf("handler %s panicked: %v", def.Address(), r)
		}
	}()
	return def.Handler(ctx, req.Params, req.Meta)
}
