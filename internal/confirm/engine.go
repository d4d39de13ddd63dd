// Package confirm serializes confirmations of external mutations per entity key.
//
// Every write against the ledger or another external system is funnelled
// through an Engine. Requests sharing a key run strictly one after another in
// FIFO order; requests for different keys run independently. The engine never
// retries. Callers own rollback of any optimistic local state in their error
// continuation.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Fantasim/payflow/internal/config"
	"github.com/Fantasim/payflow/internal/metrics"
)

// PerformFunc executes the external call for a request.
type PerformFunc func(ctx context.Context) (any, error)

// Failure is passed to the error continuation of a request.
type Failure struct {
	Key     string
	Timeout bool
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Timeout {
		return fmt.Sprintf("confirmation %s timed out: %s", f.Key, f.Message)
	}
	return fmt.Sprintf("confirmation %s failed: %s", f.Key, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Option customises a single request.
type Option func(*request)

// WithTimeout bounds the perform step of one request, overriding the engine default.
func WithTimeout(d time.Duration) Option {
	return func(r *request) {
		if d > 0 {
			r.timeout = d
		}
	}
}

type request struct {
	ctx       context.Context
	key       string
	perform   PerformFunc
	onSuccess func(any)
	onError   func(*Failure)
	timeout   time.Duration
	done      chan struct{}
	queuedAt  time.Time
}

// Engine guarantees at most one in-flight perform per key.
type Engine struct {
	timeout time.Duration

	mu     sync.Mutex
	queues map[string][]*request
	wg     sync.WaitGroup
}

// New creates an engine whose requests time out after timeout unless overridden.
func New(timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = config.DefaultConfirmationTimeout
	}
	slog.Info("confirmation engine created", "timeout", timeout.String())
	return &Engine{
		timeout: timeout,
		queues:  make(map[string][]*request),
	}
}

// RequestConfirmation enqueues perform under key. Exactly one of onSuccess or
// onError is invoked once perform finishes. A request for a key that already has
// a pending request waits until every earlier request's continuation has
// returned. The returned channel is closed after the continuation returns.
func (e *Engine) RequestConfirmation(
	ctx context.Context,
	key string,
	perform PerformFunc,
	onSuccess func(any),
	onError func(*Failure),
	opts ...Option,
) <-chan struct{} {
	req := &request{
		ctx:       ctx,
		key:       key,
		perform:   perform,
		onSuccess: onSuccess,
		onError:   onError,
		timeout:   e.timeout,
		done:      make(chan struct{}),
		queuedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(req)
	}

	e.mu.Lock()
	queue := append(e.queues[key], req)
	e.queues[key] = queue
	depth := len(queue)
	if depth == 1 {
		e.wg.Add(1)
		go e.drain(key)
	}
	e.mu.Unlock()

	metrics.ConfirmationQueueDepth.Inc()
	slog.Debug("confirmation queued", "key", key, "depth", depth)

	return req.done
}

// Pending returns the number of queued or running requests for key.
func (e *Engine) Pending(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queues[key])
}

// Wait blocks until every queue has drained.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// drain runs requests for key until its queue is empty.
func (e *Engine) drain(key string) {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		req := e.queues[key][0]
		e.mu.Unlock()

		e.run(req)
		close(req.done)
		metrics.ConfirmationQueueDepth.Dec()

		e.mu.Lock()
		rest := e.queues[key][1:]
		if len(rest) == 0 {
			delete(e.queues, key)
			e.mu.Unlock()
			return
		}
		e.queues[key] = rest
		e.mu.Unlock()
	}
}

type outcome struct {
	value any
	err   error
}

func (e *Engine) run(req *request) {
	if err := req.ctx.Err(); err != nil {
		slog.Info("confirmation abandoned before perform", "key", req.key, "error", err)
		e.fail(req, &Failure{Key: req.key, Timeout: errors.Is(err, context.DeadlineExceeded), Message: err.Error(), Err: err})
		return
	}

	runCtx, cancel := context.WithTimeout(req.ctx, req.timeout)
	defer cancel()

	start := time.Now()
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- outcome{err: fmt.Errorf("perform panicked: %v", p)}
			}
		}()
		v, err := req.perform(runCtx)
		results <- outcome{value: v, err: err}
	}()

	var res outcome
	select {
	case res = <-results:
	case <-runCtx.Done():
		// Report the deadline now. The key stays held until perform returns.
		err := runCtx.Err()
		e.fail(req, &Failure{Key: req.key, Timeout: errors.Is(err, context.DeadlineExceeded), Message: err.Error(), Err: wrapTimeout(err)})
		<-results
		metrics.ConfirmationLatency.Observe(time.Since(start).Seconds())
		return
	}
	metrics.ConfirmationLatency.Observe(time.Since(start).Seconds())

	if res.err != nil {
		timeout := isTimeout(res.err)
		e.fail(req, &Failure{Key: req.key, Timeout: timeout, Message: res.err.Error(), Err: res.err})
		return
	}

	slog.Debug("confirmation succeeded",
		"key", req.key,
		"duration", time.Since(start).String(),
		"waited", start.Sub(req.queuedAt).String(),
	)
	metrics.ConfirmationsTotal.WithLabelValues("success").Inc()
	if req.onSuccess != nil {
		req.onSuccess(res.value)
	}
}

func (e *Engine) fail(req *request, f *Failure) {
	if f.Timeout {
		slog.Warn("confirmation timed out", "key", req.key, "timeout", req.timeout.String(), "error", f.Message)
		metrics.ConfirmationsTotal.WithLabelValues("timeout").Inc()
	} else {
		slog.Info("confirmation failed", "key", req.key, "error", f.Message)
		metrics.ConfirmationsTotal.WithLabelValues("error").Inc()
	}
	if req.onError != nil {
		req.onError(f)
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, config.ErrTimeout) ||
		errors.Is(err, config.ErrConfirmationTimeout) ||
		errors.Is(err, config.ErrProviderTimeout)
}

func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", config.ErrTimeout, err)
	}
	return err
}

// Await runs perform under key and blocks until its continuation fires,
// returning the typed result or the *Failure.
func Await[T any](ctx context.Context, e *Engine, key string, perform func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var (
		result T
		failed error
	)
	done := e.RequestConfirmation(ctx, key,
		func(ctx context.Context) (any, error) { return perform(ctx) },
		func(v any) { result, _ = v.(T) },
		func(f *Failure) { failed = f },
		opts...,
	)
	<-done
	return result, failed
}
