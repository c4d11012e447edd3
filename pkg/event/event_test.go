package event

import (
	"testing"
	"time"
)

func TestTokenKindAndTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok := Token{Value: "hi", At: now}

	var e Event = tok
	if e.Kind() != "token" {
		t.Errorf("expected kind 'token', got %s", e.Kind())
	}
	if !e.Timestamp().Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, e.Timestamp())
	}
}

func TestEventVariantsImplementEvent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	variants := []Event{
		Token{Value: "x", At: now},
		Message{Value: "{}", Role: "assistant", At: now},
		Data{Payload: DataPayload{ContentType: "image"}, At: now},
		Progress{Message: "working", At: now},
		Complete{At: now},
		Error{Err: nil, Reason: "boom", At: now},
	}

	wantKinds := []string{"token", "message", "data", "progress", "complete", "error"}
	for i, v := range variants {
		if v.Kind() != wantKinds[i] {
			t.Errorf("variant %d: expected kind %s, got %s", i, wantKinds[i], v.Kind())
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := errTestSentinel{}
	e := Error{Err: inner}
	if e.Unwrap() != inner {
		t.Error("expected Unwrap to return the wrapped error")
	}
}

type errTestSentinel struct{}

func (errTestSentinel) Error() string { return "sentinel" }
