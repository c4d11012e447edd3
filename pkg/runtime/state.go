package runtime

import (
	"strings"
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
	"github.com/digitallysavvy/go-streamrt/pkg/guardrail"
)

// RuntimeState is the single-writer state of one call, owned exclusively
// by the Orchestrator for the call's lifetime. Callers only ever observe
// an immutable snapshot (returned by Orchestrator.Run once the session
// terminates) or the emitted event stream.
type RuntimeState struct {
	Content    string
	Checkpoint string

	TokenCount        int
	ModelRetryCount   int
	NetworkRetryCount int
	FallbackIndex     int

	Violations    []guardrail.Violation
	DriftDetected bool
	Completed     bool

	Resumed     bool
	ResumePoint string
	ResumeFrom  int

	FirstTokenAt time.Time
	LastTokenAt  time.Time
	Duration     time.Duration

	DataOutputs []event.DataPayload

	ToolCallStartTimes map[string]time.Time
}

// newState builds a zero-value RuntimeState with its maps initialized.
func newState() *RuntimeState {
	return &RuntimeState{
		ToolCallStartTimes: make(map[string]time.Time),
	}
}

// snapshot returns a value copy safe to hand to a caller after the
// session has terminated; slices/maps are copied so a caller mutating the
// snapshot cannot corrupt the orchestrator's working state (moot once the
// orchestrator is done, but cheap insurance for concurrent readers).
func (s *RuntimeState) snapshot() RuntimeState {
	out := *s
	out.Violations = append([]guardrail.Violation(nil), s.Violations...)
	out.DataOutputs = append([]event.DataPayload(nil), s.DataOutputs...)
	out.ToolCallStartTimes = make(map[string]time.Time, len(s.ToolCallStartTimes))
	for k, v := range s.ToolCallStartTimes {
		out.ToolCallStartTimes[k] = v
	}
	return out
}

// resetForRetry clears per-attempt state (token buffer, tool tracking,
// drift flag) while preserving the checkpoint, resume flags, and the
// cumulative retry counters, per spec.md §9's "reset-state-for-retry"
// guidance.
func (s *RuntimeState) resetForRetry() {
	s.Content = ""
	s.TokenCount = 0
	s.DriftDetected = false
	s.DataOutputs = nil
	s.ToolCallStartTimes = make(map[string]time.Time)
	s.FirstTokenAt = time.Time{}
	s.LastTokenAt = time.Time{}
}

// detectZeroOutput implements the Zero-Output Detector (C4.8): content is
// effectively empty if it has no characters, is whitespace-only, is
// punctuation-only, or is a single character repeated throughout.
func detectZeroOutput(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return true
	}
	if isPunctuationOnly(trimmed) {
		return true
	}
	if isSingleRepeatedRune(trimmed) {
		return true
	}
	return false
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if isAlphanumericRune(r) {
			return false
		}
	}
	return true
}

func isAlphanumericRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r > 127
}

func isSingleRepeatedRune(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 {
		return true
	}
	first := runes[0]
	for _, r := range runes[1:] {
		if r != first {
			return false
		}
	}
	return true
}

// detectEncodingFailure flags the "many tokens but almost no meaningful
// characters" heuristic from spec.md §4.8.
func detectEncodingFailure(content string, tokenCount int) bool {
	if tokenCount < 5 {
		return false
	}
	meaningful := 0
	for _, r := range content {
		if isAlphanumericRune(r) {
			meaningful++
		}
	}
	return meaningful < 5
}

// detectTransportFailure flags a suspiciously fast completion with very
// few tokens, per spec.md §4.8.
func detectTransportFailure(elapsed time.Duration, tokenCount int) bool {
	return elapsed < 100*time.Millisecond && tokenCount < 5
}
