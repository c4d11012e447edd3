package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
	"github.com/digitallysavvy/go-streamrt/pkg/guardrail"
	"github.com/digitallysavvy/go-streamrt/pkg/registry"
)

// fakeSource yields a fixed, in-order sequence of events and satisfies
// both event.Source and adapter.NativeTextStream, so the orchestrator's
// dispatch rule (c) picks it up directly without registry involvement.
type fakeSource struct {
	events []event.Event
	delays []time.Duration
	idx    int
}

func (f *fakeSource) Next() (event.Event, error) {
	if f.idx >= len(f.events) {
		return nil, errSourceExhausted
	}
	if f.idx < len(f.delays) && f.delays[f.idx] > 0 {
		time.Sleep(f.delays[f.idx])
	}
	ev := f.events[f.idx]
	f.idx++
	return ev, nil
}

func (f *fakeSource) Close() error { return nil }

var errSourceExhausted = fakeErr("fake source exhausted")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func tokens(values ...string) []event.Event {
	now := time.Now()
	var out []event.Event
	for _, v := range values {
		out = append(out, event.Token{Value: v, At: now})
	}
	out = append(out, event.Complete{At: now})
	return out
}

func TestOrchestrator_HappyPath(t *testing.T) {
	t.Parallel()

	src := &fakeSource{events: tokens("hello ", " ", "world")}
	opts := Options{
		Stream: func(ctx context.Context) (interface{}, error) { return src, nil },
		Retry:  RetryOptions{Attempts: 1},
		Timeout: TimeoutOptions{InitialToken: time.Second, InterToken: time.Second},
		DetectZeroTokens: true,
	}

	o := New("sess-1", opts, registry.NewRegistry())
	state, errs, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v (errs=%v)", err, errs)
	}
	if !state.Completed {
		t.Error("expected state.Completed = true")
	}
	if state.Content != "hello  world" {
		t.Errorf("content = %q, want %q", state.Content, "hello  world")
	}
	if state.TokenCount != 3 {
		t.Errorf("tokenCount = %d, want 3", state.TokenCount)
	}
}

func TestOrchestrator_ZeroOutputExhaustsRetries(t *testing.T) {
	t.Parallel()

	factoryCalls := 0
	opts := Options{
		Stream: func(ctx context.Context) (interface{}, error) {
			factoryCalls++
			return &fakeSource{events: tokens("   ")}, nil
		},
		Retry:            RetryOptions{Attempts: 3},
		Timeout:          TimeoutOptions{InitialToken: time.Second, InterToken: time.Second},
		DetectZeroTokens: true,
	}

	o := New("sess-2", opts, registry.NewRegistry())
	_, errs, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	// spec.md §8 scenario 2: errors length == attempts+1 (the initial try
	// plus every retry in the budget).
	wantErrs := opts.Retry.Attempts + 1
	if len(errs) != wantErrs {
		t.Errorf("errs = %d, want %d", len(errs), wantErrs)
	}
	if factoryCalls != wantErrs {
		t.Errorf("factory called %d times, want %d", factoryCalls, wantErrs)
	}
}

func TestOrchestrator_InterTokenTimeout(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		events: tokens("first", "second"),
		delays: []time.Duration{0, 150 * time.Millisecond},
	}
	opts := Options{
		Stream:  func(ctx context.Context) (interface{}, error) { return src, nil },
		Retry:   RetryOptions{Attempts: 1},
		Timeout: TimeoutOptions{InitialToken: time.Second, InterToken: 50 * time.Millisecond},
	}

	o := New("sess-3", opts, registry.NewRegistry())
	_, errs, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected inter-token timeout error")
	}
	if len(errs) == 0 {
		t.Fatal("expected a recorded error")
	}
	rtErr, ok := errs[0].(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T", errs[0])
	}
	if rtErr.Code != CodeInterTokenTimeout {
		t.Errorf("code = %s, want %s", rtErr.Code, CodeInterTokenTimeout)
	}
}

func TestOrchestrator_AdapterAmbiguousBeforeAnyTokens(t *testing.T) {
	t.Parallel()

	reg := registry.NewRegistry()
	alwaysMatch := func(stream interface{}) bool { return true }
	_ = reg.Register(&registry.Adapter{Name: "a", Detect: alwaysMatch})
	_ = reg.Register(&registry.Adapter{Name: "b", Detect: alwaysMatch})

	var delivered []event.Event
	opts := Options{
		Stream: func(ctx context.Context) (interface{}, error) { return "not-a-native-stream", nil },
		Retry:  RetryOptions{Attempts: 1},
		OnEvent: func(ev event.Event) { delivered = append(delivered, ev) },
	}

	o := New("sess-4", opts, reg)
	_, errs, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(errs) == 0 {
		t.Fatal("expected a recorded error")
	}
	rtErr, ok := errs[0].(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T", errs[0])
	}
	if rtErr.Code != CodeAdapterAmbiguous {
		t.Errorf("code = %s, want %s", rtErr.Code, CodeAdapterAmbiguous)
	}
	if len(delivered) != 0 {
		t.Errorf("expected no token events delivered, got %d", len(delivered))
	}
}

func TestOrchestrator_GuardrailDrivenRetrySucceedsOnSecondAttempt(t *testing.T) {
	t.Parallel()

	attempt := 0
	opts := Options{
		Stream: func(ctx context.Context) (interface{}, error) {
			attempt++
			if attempt == 1 {
				return &fakeSource{events: tokens("bad-word")}, nil
			}
			return &fakeSource{events: tokens("clean content")}, nil
		},
		Retry:   RetryOptions{Attempts: 2},
		Timeout: TimeoutOptions{InitialToken: time.Second, InterToken: time.Second},
		Guardrails: []guardrail.Rule{
			{
				Name: "no-bad-word",
				Check: func(c guardrail.Context) []guardrail.Violation {
					if c.Completed && contains(c.Content, "bad-word") {
						return []guardrail.Violation{{
							Rule:        "no-bad-word",
							Severity:    guardrail.SeverityError,
							Recoverable: true,
							Message:     "found bad-word",
						}}
					}
					return nil
				},
			},
		},
	}

	o := New("sess-5", opts, registry.NewRegistry())
	state, _, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Content != "clean content" {
		t.Errorf("content = %q, want %q", state.Content, "clean content")
	}
	if len(state.Violations) != 0 {
		t.Errorf("expected violations reset on final success, got %v", state.Violations)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
