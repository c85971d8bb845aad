package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Invoker is the boundary to the collaborators a workflow node calls out to
// (course service, notification delivery, payments).
type Invoker interface {
	Invoke(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error)
}

type InvokerFunc func(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error)

func (f InvokerFunc) Invoke(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error) {
	return f(ctx, actionKey, params)
}

type ActionInvocationError struct {
	ActionKey string
	Timeout   bool
	Err       error
}

func (e ActionInvocationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("action %s timed out: %v", e.ActionKey, e.Err)
	}
	return fmt.Sprintf("action %s failed: %v", e.ActionKey, e.Err)
}

func (e ActionInvocationError) Unwrap() error {
	return e.Err
}

var ErrNoHandler = errors.New("no handler registered")

var _ Invoker = new(Registry)

// Registry dispatches by action key to in-process handlers and hands any
// other key to the fallback invoker, if one is set.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]InvokerFunc
	fallback Invoker
}

func NewRegistry(fallback Invoker) *Registry {
	return &Registry{
		handlers: make(map[string]InvokerFunc),
		fallback: fallback,
	}
}

func (r *Registry) Register(actionKey string, fn InvokerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionKey] = fn
}

func (r *Registry) Invoke(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.handlers[actionKey]
	r.mu.RUnlock()
	if ok {
		return fn(ctx, actionKey, params)
	}
	if r.fallback != nil {
		return r.fallback.Invoke(ctx, actionKey, params)
	}
	return nil, ActionInvocationError{ActionKey: actionKey, Err: ErrNoHandler}
}

type timeoutInvoker struct {
	inner   Invoker
	timeout time.Duration
}

// WithTimeout bounds every call by timeout. The call returns once the
// deadline passes even when the inner invoker ignores its context.
func WithTimeout(inner Invoker, timeout time.Duration) Invoker {
	return &timeoutInvoker{inner: inner, timeout: timeout}
}

type invokeResult struct {
	data map[string]any
	err  error
}

func (t *timeoutInvoker) Invoke(ctx context.Context, actionKey string, params map[string]any) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	resultCh := make(chan invokeResult, 1)
	go func() {
		data, err := t.inner.Invoke(callCtx, actionKey, params)
		resultCh <- invokeResult{data: data, err: err}
	}()
	select {
	case res := <-resultCh:
		if res.err != nil {
			var invErr ActionInvocationError
			if errors.As(res.err, &invErr) {
				return nil, res.err
			}
			return nil, ActionInvocationError{ActionKey: actionKey, Timeout: expired(ctx, callCtx), Err: res.err}
		}
		return res.data, nil
	case <-callCtx.Done():
		return nil, ActionInvocationError{ActionKey: actionKey, Timeout: expired(ctx, callCtx), Err: callCtx.Err()}
	}
}

// expired is true only when the call used up its own budget. A caller that
// cancels is not a timeout.
func expired(parent context.Context, call context.Context) bool {
	return parent.Err() == nil && errors.Is(call.Err(), context.DeadlineExceeded)
}
