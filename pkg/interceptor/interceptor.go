// Package interceptor implements the Interceptor Chain (C13): ordered
// before/after/error hooks around one streaming call, adapted from the
// teacher's LanguageModelMiddleware (pkg/middleware/language_model_middleware.go)
// wrapping scheme. Before and After hooks both run in registration order;
// OnError unwinds in reverse so the interceptor closest to the failure
// sees it first.
package interceptor

import "context"

// CallOptions is the mutable request the chain can transform before the
// underlying call executes.
type CallOptions struct {
	Prompt   string
	Metadata map[string]interface{}
}

// CallResult is the mutable response the chain can transform after the
// underlying call completes.
type CallResult struct {
	Content  string
	Metadata map[string]interface{}
}

// Interceptor is one named set of hooks. Any hook may be nil.
type Interceptor struct {
	Name string

	// Before transforms CallOptions prior to the call. Returning an
	// error aborts the call before it starts.
	Before func(ctx context.Context, opts *CallOptions) (*CallOptions, error)

	// After transforms CallResult once the call has completed
	// successfully.
	After func(ctx context.Context, result *CallResult) (*CallResult, error)

	// OnError observes or replaces an error produced by the call or by
	// an earlier interceptor's Before/After hook.
	OnError func(ctx context.Context, err error) error
}

// Chain is an ordered list of Interceptors.
type Chain struct {
	interceptors []Interceptor
}

// New builds a Chain. Interceptors are applied to CallOptions and
// CallResult in the order given; only error unwinding runs in reverse.
func New(interceptors ...Interceptor) *Chain {
	return &Chain{interceptors: interceptors}
}

// RunBefore applies every interceptor's Before hook in registration
// order, each receiving the previous hook's output.
func (c *Chain) RunBefore(ctx context.Context, opts *CallOptions) (*CallOptions, error) {
	current := opts
	for _, ic := range c.interceptors {
		if ic.Before == nil {
			continue
		}
		next, err := ic.Before(ctx, current)
		if err != nil {
			return current, c.runOnError(ctx, err)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// RunAfter applies every interceptor's After hook in registration order.
func (c *Chain) RunAfter(ctx context.Context, result *CallResult) (*CallResult, error) {
	current := result
	for _, ic := range c.interceptors {
		if ic.After == nil {
			continue
		}
		next, err := ic.After(ctx, current)
		if err != nil {
			return current, c.runOnError(ctx, err)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// RunOnError runs every interceptor's OnError hook in reverse
// registration order, each receiving the previous hook's (possibly
// replaced) error.
func (c *Chain) RunOnError(ctx context.Context, err error) error {
	return c.runOnError(ctx, err)
}

func (c *Chain) runOnError(ctx context.Context, err error) error {
	current := err
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		ic := c.interceptors[i]
		if ic.OnError == nil {
			continue
		}
		current = ic.OnError(ctx, current)
	}
	return current
}
