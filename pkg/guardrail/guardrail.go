// Package guardrail implements the Guardrail Engine (C6): ordered rule
// execution over model output with severity accounting and retry/halt
// decisions. Rule execution is observed through RuleStart/RuleEnd
// callbacks that the orchestrator wires to the Event Dispatcher (C10)
// rather than a dedicated channel (SPEC_FULL.md §4.3).
package guardrail

import (
	"strconv"
	"time"
)

// Severity classifies how serious a Violation is.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Violation is one rule finding.
type Violation struct {
	Rule        string
	Severity    Severity
	Recoverable bool
	Message     string
	Timestamp   time.Time
}

// Context is what a Rule's Check function observes.
type Context struct {
	Content            string
	Checkpoint         string
	Delta              string
	TokenCount         int
	Completed          bool
	PreviousViolations []Violation
}

// Rule is one guardrail capability.
type Rule struct {
	Name      string
	Streaming bool
	Check     func(Context) []Violation
}

// RuleEventPhase names which half of a rule's execution an event
// represents.
type RuleEventPhase string

const (
	RuleStartPhase RuleEventPhase = "start"
	RuleEndPhase   RuleEventPhase = "end"
)

// RuleEvent is emitted once per rule execution (start and end).
type RuleEvent struct {
	Phase      RuleEventPhase
	Index      int
	Name       string
	CallbackID string
	Passed     bool
	DurationMs int64
	Violations []Violation
}

// Summary totals a single Run's violations by severity.
type Summary struct {
	Total   int
	Fatal   int
	Errors  int
	Warnings int
}

// Result is the outcome of one Engine.Run call.
type Result struct {
	Passed      bool
	Violations  []Violation
	Summary     Summary
	ShouldHalt  bool
	ShouldRetry bool
}

// Engine executes a fixed, ordered list of Rules.
type Engine struct {
	rules          []Rule
	stopOnFatal    bool
	streamingGlobal bool

	// violationsByRule accumulates findings across the lifetime of the
	// engine (i.e. across every Run call for one session) for
	// post-mortem attribution (spec.md §4.3).
	violationsByRule map[string][]Violation

	nextCallbackID int
	onRuleEvent    func(RuleEvent)
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithStopOnFatal makes the engine break out of rule execution as soon as
// any rule yields a fatal violation.
func WithStopOnFatal(stop bool) Option {
	return func(e *Engine) { e.stopOnFatal = stop }
}

// WithStreamingEnabled controls the "streaming disabled globally" gating
// behavior from spec.md §4.3.
func WithStreamingEnabled(enabled bool) Option {
	return func(e *Engine) { e.streamingGlobal = enabled }
}

// WithRuleEventSink registers a callback invoked once per RuleStart and
// once per RuleEnd.
func WithRuleEventSink(fn func(RuleEvent)) Option {
	return func(e *Engine) { e.onRuleEvent = fn }
}

// New builds an Engine over rules, executed in the given order.
func New(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules:            rules,
		streamingGlobal:  true,
		violationsByRule: make(map[string][]Violation),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ViolationsByRule returns the cumulative findings for name across every
// Run call made on this engine so far.
func (e *Engine) ViolationsByRule(name string) []Violation {
	return append([]Violation(nil), e.violationsByRule[name]...)
}

// Run executes every applicable rule in registration order against ctx and
// returns the aggregated Result.
func (e *Engine) Run(ctx Context) Result {
	var violations []Violation

	for i, rule := range e.rules {
		if !e.gate(rule, ctx.Completed) {
			continue
		}

		e.nextCallbackID++
		callbackID := callbackIDString(e.nextCallbackID)
		e.emit(RuleEvent{Phase: RuleStartPhase, Index: i, Name: rule.Name, CallbackID: callbackID})

		start := time.Now()
		ruleViolations, passed := e.checkRule(rule, ctx)
		duration := time.Since(start).Milliseconds()

		ctx.PreviousViolations = append(ctx.PreviousViolations, ruleViolations...)
		violations = append(violations, ruleViolations...)
		e.violationsByRule[rule.Name] = append(e.violationsByRule[rule.Name], ruleViolations...)

		e.emit(RuleEvent{
			Phase:      RuleEndPhase,
			Index:      i,
			Name:       rule.Name,
			CallbackID: callbackID,
			Passed:     passed,
			DurationMs: duration,
			Violations: ruleViolations,
		})

		if e.stopOnFatal && hasSeverity(ruleViolations, SeverityFatal) {
			break
		}
	}

	return e.summarize(violations)
}

// gate implements the streaming/non-streaming rule selection policy from
// spec.md §4.3.
func (e *Engine) gate(rule Rule, completed bool) bool {
	if rule.Streaming {
		if !completed && !e.streamingGlobal {
			return false
		}
		if completed {
			// Non-streaming completion pass still runs streaming rules
			// one final time alongside the non-streaming ones.
			return true
		}
		return true
	}
	// Non-streaming rules only run at completion.
	return completed
}

// checkRule invokes rule.Check, converting a panic into a synthetic
// recoverable warning violation (spec.md §4.3).
func (e *Engine) checkRule(rule Rule, ctx Context) (violations []Violation, passed bool) {
	defer func() {
		if r := recover(); r != nil {
			violations = []Violation{{
				Rule:        rule.Name,
				Severity:    SeverityWarning,
				Recoverable: true,
				Message:     "rule-execution-failed",
				Timestamp:   time.Now(),
			}}
			passed = false
		}
	}()

	if rule.Check == nil {
		return nil, true
	}
	found := rule.Check(ctx)
	return found, len(found) == 0
}

func (e *Engine) emit(ev RuleEvent) {
	if e.onRuleEvent == nil {
		return
	}
	safeEmit(e.onRuleEvent, ev)
}

func safeEmit(fn func(RuleEvent), ev RuleEvent) {
	defer func() {
		recover() //nolint:errcheck // a misbehaving sink must never break guardrail evaluation
	}()
	fn(ev)
}

func (e *Engine) summarize(violations []Violation) Result {
	var s Summary
	s.Total = len(violations)
	for _, v := range violations {
		switch v.Severity {
		case SeverityFatal:
			s.Fatal++
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		}
	}

	shouldHalt := hasSeverity(violations, SeverityFatal) || hasNonRecoverableError(violations)
	shouldRetry := hasRecoverableAtOrAbove(violations, SeverityError)

	return Result{
		Passed:      len(violations) == 0,
		Violations:  violations,
		Summary:     s,
		ShouldHalt:  shouldHalt,
		ShouldRetry: shouldRetry,
	}
}

func hasSeverity(violations []Violation, sev Severity) bool {
	for _, v := range violations {
		if v.Severity == sev {
			return true
		}
	}
	return false
}

func hasNonRecoverableError(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError && !v.Recoverable {
			return true
		}
	}
	return false
}

func hasRecoverableAtOrAbove(violations []Violation, floor Severity) bool {
	for _, v := range violations {
		if !v.Recoverable {
			continue
		}
		if v.Severity == SeverityFatal || v.Severity == floor {
			return true
		}
	}
	return false
}

func callbackIDString(n int) string {
	return "rule-" + strconv.Itoa(n)
}
