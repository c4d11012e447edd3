package runtime

import (
	"context"
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/internal/jsonutil"
)

// toolCallKind distinguishes a tool request from a tool result, recognized
// from the shapes a Message event's opaque JSON value can take: OpenAI
// tool_calls, the legacy single function_call, Anthropic tool_use, and a
// provider-agnostic nested tool_call/tool_result pair.
type toolCallKind int

const (
	toolCallNone toolCallKind = iota
	toolCallRequest
	toolCallResult
)

// toolCall is what a Message value was recognized as, extracted tolerantly
// via jsonutil so a chunk arriving mid-stream (truncated or with a trailing
// comma) is still classified instead of dropped.
type toolCall struct {
	Kind  toolCallKind
	ID    string
	Name  string
	Error bool
}

// parseToolCall attempts to recognize value as a tool call or tool result.
// It never returns an error: a value that parses to JSON but matches none
// of the known shapes, or does not parse at all, yields toolCallNone so the
// caller falls back to treating the Message as an opaque pass-through.
func parseToolCall(value string) toolCall {
	parsed, err := jsonutil.ParsePartialJSON(value)
	if err != nil || parsed == nil {
		return toolCall{}
	}
	return classifyToolCall(parsed)
}

func classifyToolCall(parsed interface{}) toolCall {
	m, ok := parsed.(map[string]interface{})
	if !ok {
		return toolCall{}
	}

	// OpenAI tool_calls: {"tool_calls":[{"id":...,"function":{"name":...}}]}
	if calls, ok := m["tool_calls"].([]interface{}); ok && len(calls) > 0 {
		if first, ok := calls[0].(map[string]interface{}); ok {
			return toolCall{Kind: toolCallRequest, ID: stringOr(first, "id"), Name: functionName(first)}
		}
	}

	// Legacy single function_call: {"function_call":{"name":...}}
	if fc, ok := m["function_call"].(map[string]interface{}); ok {
		return toolCall{Kind: toolCallRequest, ID: stringOr(m, "id"), Name: stringOr(fc, "name")}
	}

	// Anthropic tool_use: {"type":"tool_use","id":...,"name":...}
	if stringOr(m, "type") == "tool_use" {
		return toolCall{Kind: toolCallRequest, ID: stringOr(m, "id"), Name: stringOr(m, "name")}
	}

	// Nested provider-agnostic request: {"tool_call":{"id":...,"name":...}}
	if tc, ok := m["tool_call"].(map[string]interface{}); ok {
		return toolCall{Kind: toolCallRequest, ID: stringOr(tc, "id"), Name: stringOr(tc, "name")}
	}

	// Nested provider-agnostic result: {"tool_result":{"id":...,"isError":...}}
	if tr, ok := m["tool_result"].(map[string]interface{}); ok {
		isErr, _ := tr["isError"].(bool)
		return toolCall{Kind: toolCallResult, ID: stringOr(tr, "id"), Error: isErr}
	}

	// Anthropic tool_result: {"type":"tool_result","tool_use_id":...,"is_error":...}
	if stringOr(m, "type") == "tool_result" {
		isErr, _ := m["is_error"].(bool)
		return toolCall{Kind: toolCallResult, ID: stringOr(m, "tool_use_id"), Error: isErr}
	}

	return toolCall{}
}

func functionName(m map[string]interface{}) string {
	if fn, ok := m["function"].(map[string]interface{}); ok {
		return stringOr(fn, "name")
	}
	return ""
}

func stringOr(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// handleMessage recognizes a Message event's tool-call shape, emits the
// matching lifecycle events, and tracks call duration in state via
// ToolCallStartTimes, before the event is delivered to the consumer
// unchanged (spec.md §4.7 step 4: the Message is always yielded regardless
// of whether it was recognized).
//
// Some providers stream a tool call's JSON arguments across several Message
// events rather than one complete object per event. o.msgAccum accumulates
// fragments with jsonutil's StreamingParser and is reset once a shape is
// recognized, so the next tool call starts from an empty buffer instead of
// being concatenated onto the previous one's trailing bytes.
func (o *Orchestrator) handleMessage(ctx context.Context, attempt int, value string) {
	o.msgAccum.Append(value)
	parsed, ok := o.msgAccum.TryParse()
	if !ok {
		return
	}

	tc := classifyToolCall(parsed)
	if tc.Kind != toolCallNone {
		o.msgAccum.Reset()
	}

	switch tc.Kind {
	case toolCallRequest:
		if tc.ID != "" {
			o.state.ToolCallStartTimes[tc.ID] = time.Now()
		}
		o.emit(ctx, ToolRequested, attempt, map[string]interface{}{"id": tc.ID, "name": tc.Name})
		o.emit(ctx, ToolStart, attempt, map[string]interface{}{"id": tc.ID, "name": tc.Name})
	case toolCallResult:
		durationMs := int64(0)
		if start, ok := o.state.ToolCallStartTimes[tc.ID]; ok {
			durationMs = time.Since(start).Milliseconds()
			delete(o.state.ToolCallStartTimes, tc.ID)
		}
		data := map[string]interface{}{"id": tc.ID, "durationMs": durationMs}
		if tc.Error {
			o.emit(ctx, ToolError, attempt, data)
		} else {
			o.emit(ctx, ToolResult, attempt, data)
		}
		o.emit(ctx, ToolCompleted, attempt, data)
	}
}
