package guardrail

import "testing"

func alwaysClean(Context) []Violation { return nil }

func TestEngine_RunsRulesInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	rules := []Rule{
		{Name: "a", Streaming: true, Check: func(Context) []Violation {
			order = append(order, "a")
			return nil
		}},
		{Name: "b", Streaming: true, Check: func(Context) []Violation {
			order = append(order, "b")
			return nil
		}},
	}

	e := New(rules)
	res := e.Run(Context{Completed: false})

	if !res.Passed {
		t.Error("expected passed result with no violations")
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("expected rules in registration order, got %v", order)
	}
}

func TestEngine_StopOnFatalSkipsLaterRules(t *testing.T) {
	t.Parallel()

	ran := map[string]bool{}
	rules := []Rule{
		{Name: "first", Streaming: true, Check: func(Context) []Violation {
			ran["first"] = true
			return []Violation{{Rule: "first", Severity: SeverityFatal}}
		}},
		{Name: "second", Streaming: true, Check: func(Context) []Violation {
			ran["second"] = true
			return nil
		}},
	}

	e := New(rules, WithStopOnFatal(true))
	res := e.Run(Context{Completed: false})

	if !ran["first"] {
		t.Fatal("expected first rule to run")
	}
	if ran["second"] {
		t.Error("expected second rule to be skipped after a fatal violation")
	}
	if !res.ShouldHalt {
		t.Error("expected ShouldHalt to be true")
	}
}

func TestEngine_NonStreamingRulesOnlyRunOnCompletion(t *testing.T) {
	t.Parallel()

	ran := false
	rules := []Rule{
		{Name: "final-check", Streaming: false, Check: func(Context) []Violation {
			ran = true
			return nil
		}},
	}

	e := New(rules)
	e.Run(Context{Completed: false})
	if ran {
		t.Error("non-streaming rule should not run mid-stream")
	}

	e.Run(Context{Completed: true})
	if !ran {
		t.Error("non-streaming rule should run on completion")
	}
}

func TestEngine_PanicBecomesWarningViolation(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "panics", Streaming: true, Check: func(Context) []Violation {
			panic("boom")
		}},
	}

	e := New(rules)
	res := e.Run(Context{Completed: false})

	if len(res.Violations) != 1 {
		t.Fatalf("expected 1 synthetic violation, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Severity != SeverityWarning || !v.Recoverable || v.Message != "rule-execution-failed" {
		t.Errorf("unexpected synthetic violation: %+v", v)
	}
}

func TestEngine_ShouldRetryOnRecoverableError(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "recoverable", Streaming: true, Check: func(Context) []Violation {
			return []Violation{{Rule: "recoverable", Severity: SeverityError, Recoverable: true}}
		}},
	}

	e := New(rules)
	res := e.Run(Context{Completed: false})

	if !res.ShouldRetry {
		t.Error("expected ShouldRetry for recoverable error")
	}
	if res.ShouldHalt {
		t.Error("recoverable error should not halt")
	}
}

func TestEngine_RuleEventsEmittedStartAndEnd(t *testing.T) {
	t.Parallel()

	var events []RuleEvent
	rules := []Rule{{Name: "r", Streaming: true, Check: alwaysClean}}
	e := New(rules, WithRuleEventSink(func(ev RuleEvent) {
		events = append(events, ev)
	}))

	e.Run(Context{Completed: false})

	if len(events) != 2 {
		t.Fatalf("expected start+end events, got %d", len(events))
	}
	if events[0].Phase != RuleStartPhase || events[1].Phase != RuleEndPhase {
		t.Errorf("unexpected phases: %v %v", events[0].Phase, events[1].Phase)
	}
	if events[0].CallbackID != events[1].CallbackID {
		t.Error("expected start and end to share the same callback ID")
	}
}

func TestEngine_ViolationsByRuleAccumulatesAcrossRuns(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{Name: "accum", Streaming: true, Check: func(Context) []Violation {
			return []Violation{{Rule: "accum", Severity: SeverityWarning, Recoverable: true}}
		}},
	}
	e := New(rules)

	e.Run(Context{Completed: false})
	e.Run(Context{Completed: false})

	if got := len(e.ViolationsByRule("accum")); got != 2 {
		t.Errorf("expected 2 accumulated violations, got %d", got)
	}
}
