package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
)

func TestDispatch_DeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	d := New("sess-1")
	var seenA, seenB event.Event

	d.Subscribe(func(ctx context.Context, env Envelope) { seenA = env.Event })
	d.Subscribe(func(ctx context.Context, env Envelope) { seenB = env.Event })

	tok := event.Token{Value: "hi", At: time.Now()}
	d.Dispatch(context.Background(), tok)

	if seenA != tok || seenB != tok {
		t.Error("expected both subscribers to observe the dispatched event")
	}
}

func TestDispatch_EnvelopeCarriesSessionAndAttempt(t *testing.T) {
	t.Parallel()

	d := New("sess-42")
	d.SetAttempt(3)

	var got Envelope
	d.Subscribe(func(ctx context.Context, env Envelope) { got = env })
	d.Dispatch(context.Background(), event.Complete{At: time.Now()})

	if got.SessionID != "sess-42" || got.Attempt != 3 {
		t.Errorf("unexpected envelope metadata: %+v", got)
	}
}

func TestDispatch_PanicInOneListenerDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	d := New("sess-1")
	called := false

	d.Subscribe(func(ctx context.Context, env Envelope) { panic("boom") })
	d.Subscribe(func(ctx context.Context, env Envelope) { called = true })

	d.Dispatch(context.Background(), event.Complete{At: time.Now()}) // must not panic

	if !called {
		t.Error("expected second listener to run despite first panicking")
	}
}

func TestDispatch_NoSubscribersIsNoOp(t *testing.T) {
	t.Parallel()

	d := New("sess-1")
	d.Dispatch(context.Background(), event.Complete{At: time.Now()}) // must not panic
}
