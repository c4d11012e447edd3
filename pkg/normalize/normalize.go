// Package normalize implements the Event Normalizer (C4): a heuristic,
// total and pure conversion of an arbitrary upstream chunk value into
// exactly one event.Event. It never panics and never blocks.
package normalize

import (
	"errors"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
	"github.com/digitallysavvy/go-streamrt/pkg/providerutils"
)

// ErrNoInterpretation is wrapped into the resulting event.Error when no
// classification rule in spec.md §4.1 matches.
var ErrNoInterpretation = errors.New("normalize: no plausible interpretation for chunk")

// textFieldCandidates are common text-bearing field names probed by rule 5
// (spec.md §4.1) when nothing more specific matched.
var textFieldCandidates = []string{"text", "content", "value", "delta", "message", "output"}

// Normalizer implements adapter.Normalizer. now is overridable for tests;
// production callers use New().
type Normalizer struct {
	now func() time.Time
}

// New returns a Normalizer that stamps events with the current wall-clock
// time.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize classifies chunk into exactly one event.Event. It never returns
// a (nil, nil) pair, and the returned Go error is always nil: a nil chunk,
// or one that cannot be interpreted as any shape at all, is returned as an
// event.Error (the latter wrapping ErrNoInterpretation).
func (n *Normalizer) Normalize(chunk interface{}) (event.Event, error) {
	now := n.now()

	if chunk == nil {
		return event.Error{Reason: "chunk is nil", At: now}, nil
	}

	// Rule 1: already a well-formed Event.
	if ev, ok := chunk.(event.Event); ok {
		return ev, nil
	}

	// Raw JSON bytes / json.RawMessage: decode before further classification.
	if raw, ok := asJSONBytes(chunk); ok {
		var decoded interface{}
		if err := gojson.Unmarshal(raw, &decoded); err == nil {
			chunk = decoded
		}
	}

	// Rule 4: plain string chunk.
	if s, ok := chunk.(string); ok {
		return event.Token{Value: s, At: now}, nil
	}

	m, ok := asMap(chunk)
	if !ok {
		return event.Error{Reason: "unrecognized chunk shape", Err: ErrNoInterpretation, At: now}, nil
	}

	// Rule 2: explicit "type" discriminant.
	if t, ok := stringField(m, "type"); ok {
		if ev, matched := n.classifyByType(t, m, now); matched {
			return ev, nil
		}
	}

	// Rule 3: provider-specific shapes.
	if ev, matched := n.classifyProviderShape(m, now); matched {
		return ev, nil
	}

	// Rule 5: search common text-bearing fields.
	for _, field := range textFieldCandidates {
		if v, ok := stringField(m, field); ok && v != "" {
			return event.Token{Value: v, At: now}, nil
		}
	}

	return event.Error{Reason: "no text-bearing field found", Err: ErrNoInterpretation, At: now}, nil
}

func (n *Normalizer) classifyByType(t string, m map[string]interface{}, now time.Time) (event.Event, bool) {
	switch t {
	case "text-delta", "content-delta":
		for _, field := range []string{"textDelta", "delta", "content"} {
			if v, ok := stringField(m, field); ok && v != "" {
				return event.Token{Value: v, At: now}, true
			}
		}
		return event.Token{At: now}, true
	case "finish", "complete":
		reason, _ := stringField(m, "finishReason")
		return event.Complete{FinishReason: providerutils.MapOpenAIFinishReason(reason), At: now}, true
	case "error":
		reason, _ := stringField(m, "reason")
		return event.Error{Reason: reason, At: now}, true
	case "tool-call", "function-call":
		encoded, _ := gojson.Marshal(m)
		return event.Message{Value: string(encoded), Role: "assistant", At: now}, true
	}
	return nil, false
}

func (n *Normalizer) classifyProviderShape(m map[string]interface{}, now time.Time) (event.Event, bool) {
	// OpenAI-style: choices[0].delta.content / choices[0].finish_reason
	if choices, ok := m["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if delta, ok := choice["delta"].(map[string]interface{}); ok {
				if v, ok := stringField(delta, "content"); ok && v != "" {
					return event.Token{Value: v, At: now}, true
				}
			}
			if reason, ok := stringField(choice, "finish_reason"); ok && reason != "" {
				return event.Complete{FinishReason: providerutils.MapOpenAIFinishReason(reason), At: now}, true
			}
		}
	}

	// Anthropic-style: delta.text
	if delta, ok := m["delta"].(map[string]interface{}); ok {
		if v, ok := stringField(delta, "text"); ok && v != "" {
			return event.Token{Value: v, At: now}, true
		}
	}

	// Anthropic-style terminal markers carried as a "type" we didn't match
	// above but that appears nested (defensive: some providers wrap it).
	if t, ok := stringField(m, "type"); ok && (t == "message_stop" || t == "content_block_stop") {
		return event.Complete{At: now}, true
	}

	return nil, false
}

func stringField(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func asMap(chunk interface{}) (map[string]interface{}, bool) {
	m, ok := chunk.(map[string]interface{})
	return m, ok
}

func asJSONBytes(chunk interface{}) ([]byte, bool) {
	switch v := chunk.(type) {
	case []byte:
		return v, true
	case gojson.RawMessage:
		return []byte(v), true
	default:
		return nil, false
	}
}
