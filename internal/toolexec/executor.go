package toolexec

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
	"github.com/agentsmithy/agentsmithy/pkg/models"
)

// Observer receives a notification after every tool call finishes, for
// external metrics collection. Optional: a nil Observer on Executor is a
// no-op.
type Observer interface {
	ObserveToolCall(toolName string, success bool, duration time.Duration)
}

// Tracer creates a span around a single tool call. Optional: a nil Tracer on
// Executor is a no-op.
type Tracer interface {
	StartToolSpan(ctx context.Context, toolName string) (context.Context, func(error))
}

// Executor runs tool calls against a Registry with concurrency limiting,
// per-tool retry/backoff, panic recovery, and path/workdir locking.
type Executor struct {
	registry  *Registry
	locks     *Locks
	config    *Config
	overrides map[string]*ToolOverride
	mu        sync.RWMutex

	sem      chan struct{}
	metrics  *Metrics
	observer Observer
	tracer   Tracer
}

// SetObserver installs an external metrics observer, replacing any previous
// one. Called once during wiring, before concurrent tool calls begin.
func (e *Executor) SetObserver(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = o
}

// SetTracer installs a span tracer, replacing any previous one. Called once
// during wiring, before concurrent tool calls begin.
func (e *Executor) SetTracer(t Tracer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tracer = t
}

// NewExecutor builds an Executor over registry and locks. If config is nil,
// DefaultConfig is used.
func NewExecutor(registry *Registry, locks *Locks, config *Config) *Executor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Executor{
		registry:  registry,
		locks:     locks,
		config:    config,
		overrides: map[string]*ToolOverride{},
		sem:       make(chan struct{}, config.MaxConcurrency),
		metrics:   &Metrics{},
	}
}

// ConfigureTool sets a per-tool timeout/retry override.
func (e *Executor) ConfigureTool(name string, o *ToolOverride) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[name] = o
}

func (e *Executor) toolOverride(name string) *ToolOverride {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.overrides[name]
}

// Metrics returns a snapshot of executor-wide counters.
func (e *Executor) Metrics() Snapshot {
	return e.metrics.Snapshot()
}

// CallResult is the outcome of one tool call: the call's identity, its
// Result on success, its error on failure, and how long it took.
type CallResult struct {
	ToolCallID string
	ToolName   string
	Result     *Result
	Err        error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll runs every call concurrently (bounded by Config.MaxConcurrency)
// and returns results in the same order as calls.
func (e *Executor) ExecuteAll(ctx context.Context, tc *ToolContext, calls []models.ToolCall) []*CallResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*CallResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single tool call with retry logic, timeout handling, and
// lock acquisition, blocking on the concurrency semaphore first.
func (e *Executor) Execute(ctx context.Context, tc *ToolContext, call models.ToolCall) *CallResult {
	start := time.Now()
	res := &CallResult{ToolCallID: call.ID, ToolName: call.Name}

	endSpan := func(error) {}
	if tracer := e.toolTracer(); tracer != nil {
		ctx, endSpan = tracer.StartToolSpan(ctx, call.Name)
		defer func() { endSpan(res.Err) }()
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		res.Err = agentserr.New(agentserr.KindCancelled, "tool_call_cancelled", ctx.Err()).WithToolCallID(call.ID)
		res.Duration = time.Since(start)
		return res
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		res.Err = ErrUnknownTool(call.Name).WithToolCallID(call.ID)
		res.Duration = time.Since(start)
		return res
	}

	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff
	if o := e.toolOverride(call.Name); o != nil {
		if o.Timeout > 0 {
			timeout = o.Timeout
		}
		if o.Retries >= 0 {
			maxRetries = o.Retries
		}
		if o.RetryBackoff > 0 {
			backoff = o.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		res.Attempts = attempt + 1

		out, err := e.executeOnce(ctx, tool, tc, call, timeout)
		if err == nil {
			res.Result = out
			res.Duration = time.Since(start)
			e.metrics.recordSuccess(attempt)
			if o := e.toolObserver(); o != nil {
				o.ObserveToolCall(call.Name, true, res.Duration)
			}
			return res
		}
		lastErr = err

		aerr, _ := agentserr.As(err)
		retryable := aerr != nil && aerr.Retryable()
		if !retryable || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = agentserr.New(agentserr.KindCancelled, "tool_call_cancelled", ctx.Err()).WithToolCallID(call.ID)
		}
	}

	res.Err = lastErr
	res.Duration = time.Since(start)

	var timedOut, panicked bool
	if aerr, ok := agentserr.As(lastErr); ok {
		timedOut = aerr.Kind == agentserr.KindTimeout
		panicked = aerr.Code == "tool_panic"
	}
	e.metrics.recordFailure(timedOut, panicked)
	if o := e.toolObserver(); o != nil {
		o.ObserveToolCall(call.Name, false, res.Duration)
	}

	return res
}

func (e *Executor) toolObserver() Observer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.observer
}

func (e *Executor) toolTracer() Tracer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tracer
}

// executeOnce acquires the tool's required lock, runs it under a
// per-attempt timeout, and recovers any panic into a KindInternal error.
func (e *Executor) executeOnce(ctx context.Context, tool Tool, tc *ToolContext, call models.ToolCall, timeout time.Duration) (*Result, error) {
	release, err := e.acquireLock(tool, call)
	if err != nil {
		return nil, err
	}
	if release != nil {
		defer release()
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				ch <- outcome{err: agentserr.New(agentserr.KindInternal, "tool_panic",
					fmt.Errorf("panic: %v\n%s", r, stack)).WithToolCallID(call.ID)}
			}
		}()
		result, err := tool.Execute(execCtx, tc, call.Input)
		if err != nil {
			if _, ok := agentserr.As(err); !ok {
				err = agentserr.New(agentserr.KindInternal, "tool_execution_failed", err).WithToolCallID(call.ID)
			}
			ch <- outcome{err: err}
			return
		}
		ch <- outcome{result: result}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, agentserr.New(agentserr.KindCancelled, "tool_call_cancelled", ctx.Err()).WithToolCallID(call.ID)
		}
		return nil, agentserr.Newf(agentserr.KindTimeout, "tool_call_timeout",
			"execution timed out after %s", timeout).WithToolCallID(call.ID)
	}
}

func (e *Executor) acquireLock(tool Tool, call models.ToolCall) (func(), error) {
	switch tool.LockKind() {
	case LockWorkdir:
		return e.locks.LockWorkdir(), nil
	case LockPath:
		pe, ok := tool.(PathExtractor)
		if !ok {
			return nil, agentserr.Newf(agentserr.KindInternal, "tool_missing_path_extractor",
				"tool %q declares LockPath but does not implement PathExtractor", call.Name).WithToolCallID(call.ID)
		}
		path, err := pe.Path(call.Input)
		if err != nil {
			return nil, agentserr.New(agentserr.KindValidation, "invalid_tool_input", err).WithToolCallID(call.ID)
		}
		return e.locks.LockPath(path), nil
	default:
		return nil, nil
	}
}

// ResultsToToolResults converts CallResults into models.ToolResult suitable
// for appending to dialog history.
func ResultsToToolResults(results []*CallResult) []models.ToolResult {
	out := make([]models.ToolResult, len(results))
	for i, r := range results {
		if r.Err != nil {
			out[i] = models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Err.Error(), IsError: true}
			continue
		}
		if r.Result != nil {
			out[i] = models.ToolResult{ToolCallID: r.ToolCallID, Content: r.Result.Content, IsError: r.Result.IsError}
		}
	}
	return out
}

// AnyErrors reports whether any result failed.
func AnyErrors(results []*CallResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}
