// Package runtime implements the Orchestrator (C11) and Checkpoint
// Validator (C14): the core control loop that binds every other
// component (adapter, registry, normalize, statemachine, guardrail,
// drift, retrypolicy, overlap, interceptor) into one streaming call, with
// lifecycle fan-out through notifyLifecycle, generalizing the teacher's pkg/ai/stream.go goroutine/channel
// pull model and pkg/ai/timeout.go per-phase timeout contexts.
package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/digitallysavvy/go-streamrt/pkg/adapter"
	"github.com/digitallysavvy/go-streamrt/pkg/drift"
	"github.com/digitallysavvy/go-streamrt/pkg/event"
	"github.com/digitallysavvy/go-streamrt/pkg/guardrail"
	"github.com/digitallysavvy/go-streamrt/pkg/interceptor"
	"github.com/digitallysavvy/go-streamrt/pkg/internal/jsonutil"
	"github.com/digitallysavvy/go-streamrt/pkg/normalize"
	"github.com/digitallysavvy/go-streamrt/pkg/overlap"
	"github.com/digitallysavvy/go-streamrt/pkg/provider/types"
	"github.com/digitallysavvy/go-streamrt/pkg/registry"
	"github.com/digitallysavvy/go-streamrt/pkg/retrypolicy"
	"github.com/digitallysavvy/go-streamrt/pkg/statemachine"
	"github.com/digitallysavvy/go-streamrt/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator drives one streaming call end to end. Construct with New
// and invoke Run exactly once; Orchestrator is not reusable across calls.
type Orchestrator struct {
	opts      Options
	sessionID string
	registry  *registry.Registry

	mu        sync.Mutex
	state     *RuntimeState
	aborted   bool
	listeners []Listener

	lastFinishReason types.FinishReason
	tracer           trace.Tracer
	msgAccum         *jsonutil.StreamingParser
}

// New builds an Orchestrator for one call. sessionID identifies the
// session in lifecycle events and the optional event store; reg resolves
// adapters by name or auto-detection (pass nil to use the global
// registry).
func New(sessionID string, opts Options, reg *registry.Registry) *Orchestrator {
	if reg == nil {
		reg = registry.GetGlobalRegistry()
	}
	o := &Orchestrator{
		opts:      opts,
		sessionID: sessionID,
		registry:  reg,
		state:     newState(),
		tracer:    telemetry.GetTracer(&telemetry.Settings{IsEnabled: opts.Monitoring.Enabled}),
		msgAccum:  jsonutil.NewStreamingParser(),
	}
	if opts.OnLifecycle != nil {
		o.listeners = append(o.listeners, opts.OnLifecycle)
	}
	return o
}

// Abort flips the orchestrator's cancellation flag. Observed at the top
// of each chunk iteration and before any retry sleep (spec.md §5).
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	o.aborted = true
	o.mu.Unlock()
}

func (o *Orchestrator) isAborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborted
}

// Run executes the full attempt/fallback/retry loop and returns the
// final snapshot, the ordered sequence of errors encountered (one per
// failed attempt, per spec.md §8 scenario 2), and a terminal error if
// every stream was exhausted without success.
func (o *Orchestrator) Run(ctx context.Context) (RuntimeState, []error, error) {
	chain := interceptor.New(o.opts.Interceptors...)
	callOpts, err := chain.RunBefore(ctx, &interceptor.CallOptions{})
	if err != nil {
		return o.state.snapshot(), nil, err
	}
	_ = callOpts

	machine := statemachine.New()
	guardEngine := guardrail.New(o.opts.Guardrails,
		guardrail.WithStopOnFatal(true),
		guardrail.WithRuleEventSink(o.onGuardrailEvent),
	)
	driftDetector := drift.New(drift.DefaultOptions())
	retryMgr := retrypolicy.New()

	streams := append([]StreamFactory{o.opts.Stream}, o.opts.FallbackStreams...)

	o.emit(ctx, SessionStart, 1, map[string]interface{}{"isRetry": false, "isFallback": false})

	var allErrors []error
	retries := o.opts.Retry.Attempts
	if retries < 0 {
		retries = 0
	}
	// retries is the retry budget beyond the initial try, so the loop
	// below runs at most retries+1 total attempts (spec.md §8 scenario 2:
	// errors length == attempts+1 once the budget is exhausted).
	maxAttempts := retries + 1

	for fallbackIdx, factory := range streams {
		o.state.FallbackIndex = fallbackIdx
		if fallbackIdx > 0 {
			o.emit(ctx, FallbackStart, fallbackIdx, map[string]interface{}{"index": fallbackIdx})
		}

		for attempt := 1; attempt <= maxAttempts; attempt++ {
			o.emit(ctx, AttemptStart, attempt, nil)

			content, retryErr := telemetry.RecordSpan(ctx, o.tracer, telemetry.SpanOptions{
				Name:       "streamrt.attempt",
				Attributes: []attribute.KeyValue{attribute.Int("streamrt.attempt", attempt), attribute.Int("streamrt.fallback_index", fallbackIdx)},
				EndWhenDone: true,
			}, func(spanCtx context.Context, _ trace.Span) (string, error) {
				return o.runAttempt(spanCtx, attempt, factory, machine, guardEngine, driftDetector)
			})
			if retryErr == nil {
				o.state.Content = content
				o.state.Completed = true
				machine.Transition(statemachine.Finalizing)
				machine.Transition(statemachine.Done)
				o.emit(ctx, CompleteEvent, attempt, map[string]interface{}{"finishReason": string(o.lastFinishReason)})
				if fallbackIdx > 0 {
					o.emit(ctx, FallbackEnd, fallbackIdx, nil)
				}

				result := &interceptor.CallResult{Content: content}
				if _, err := chain.RunAfter(ctx, result); err != nil {
					return o.state.snapshot(), allErrors, err
				}
				return o.state.snapshot(), allErrors, nil
			}

			allErrors = append(allErrors, retryErr)

			if errors.Is(retryErr, errAborted) {
				machine.Transition(statemachine.Error)
				o.emit(ctx, AbortCompleted, attempt, nil)
				final := chain.RunOnError(ctx, retryErr)
				return o.state.snapshot(), allErrors, final
			}

			decision := retryMgr.Decide(ctx, retryErr)
			if decision.Category == retrypolicy.CategoryNetwork {
				o.state.NetworkRetryCount++
			} else if decision.CountsTowardLimit {
				o.state.ModelRetryCount++
			}

			if decision.ShouldRetry && attempt < maxAttempts {
				o.emit(ctx, RetryStart, attempt, map[string]interface{}{"category": string(decision.Category)})
				o.emit(ctx, RetryAttempt, attempt+1, nil)
				o.sleep(ctx, decision.Delay)
				o.state.resetForRetry()
				continue
			}

			o.emit(ctx, RetryGiveUp, attempt, map[string]interface{}{"category": string(decision.Category)})
			break
		}

		if fallbackIdx < len(streams)-1 {
			o.emit(ctx, FallbackEnd, fallbackIdx, map[string]interface{}{"exhausted": true})
			o.state.resetForRetry()
			continue
		}
	}

	machine.Transition(statemachine.Error)
	var terminal error
	if len(allErrors) > 0 {
		terminal = allErrors[len(allErrors)-1]
	} else {
		terminal = NewRuntimeError(CodeInvalidStream, "no stream produced output", nil)
	}
	o.emit(ctx, ErrorEvent, maxAttempts, nil)
	final := chain.RunOnError(ctx, terminal)
	return o.state.snapshot(), allErrors, final
}

var errAborted = errors.New("runtime: stream aborted")

// runAttempt executes steps 1-9 of spec.md §4.7 for one (fallback,
// retry) pair and returns the finalized content on success.
func (o *Orchestrator) runAttempt(
	ctx context.Context,
	attempt int,
	factory StreamFactory,
	machine *statemachine.Machine,
	guardEngine *guardrail.Engine,
	driftDetector *drift.Detector,
) (string, error) {
	machine.Transition(statemachine.Init)

	var overlapState overlapTracker
	if o.state.Resumed || (o.opts.ContinueFromLastKnownGoodToken && o.state.Checkpoint != "" && attempt > 1) {
		decision := validateCheckpoint(guardEngine, driftDetector, o.state.Checkpoint)
		if !decision.Accepted {
			o.state.Checkpoint = ""
			o.state.Resumed = false
		} else if o.state.Checkpoint != "" {
			o.state.Resumed = true
			o.state.ResumePoint = o.state.Checkpoint
			o.state.TokenCount = 1
			o.emit(ctx, ContinuationStart, attempt, nil)
			o.emit(ctx, ResumeStart, attempt, nil)
			o.deliverEvent(event.Token{Value: o.state.Checkpoint, At: time.Now()})
			overlapState.active = o.opts.deduplicate()
			overlapState.prior = o.state.Checkpoint
		}
	}

	o.emit(ctx, StreamInit, attempt, nil)
	rawStream, err := factory(ctx)
	if err != nil {
		return "", NewRuntimeError(CodeNetworkError, "stream factory failed", err)
	}

	source, err := o.resolveSource(ctx, rawStream)
	if err != nil {
		return "", err
	}
	defer source.Close()

	o.emit(ctx, AdapterWrapEnd, attempt, nil)
	o.emit(ctx, StreamReady, attempt, nil)

	builder := strings.Builder{}
	if overlapState.active {
		builder.WriteString(o.state.Checkpoint)
	}

	machine.Transition(statemachine.WaitingForToken)

	firstTokenSeen := false
	lastTokenEmissionTime := time.Now()
	initialTimeout := o.opts.Timeout.InitialToken
	interTimeout := o.opts.Timeout.InterToken
	if initialTimeout <= 0 {
		initialTimeout = DefaultTimeoutOptions().InitialToken
	}
	if interTimeout <= 0 {
		interTimeout = DefaultTimeoutOptions().InterToken
	}

	intervals := o.opts.CheckIntervals
	if intervals.Guardrails <= 0 {
		intervals = DefaultCheckIntervals()
	}

	dedupOpts := o.opts.DeduplicationOptions
	if dedupOpts.MinOverlap <= 0 {
		dedupOpts = DefaultDeduplicationOptions()
	}

	start := time.Now()

	for {
		if o.isAborted() {
			return "", errAborted
		}

		if firstTokenSeen {
			if time.Since(lastTokenEmissionTime) > interTimeout {
				return builder.String(), NewRuntimeError(CodeInterTokenTimeout, "inter-token timeout exceeded", nil)
			}
		}

		ev, nextErr := o.nextChunk(source, firstTokenSeen, initialTimeout)
		if nextErr != nil {
			if errors.Is(nextErr, errChunkTimeout) {
				code := CodeInterTokenTimeout
				if !firstTokenSeen {
					code = CodeInitialTokenTimeout
				}
				return builder.String(), NewRuntimeError(code, "timed out waiting for a chunk", nil)
			}
			if errors.Is(nextErr, errStreamDone) {
				break
			}
			return builder.String(), NewRuntimeError(CodeNetworkError, "upstream stream error", nextErr)
		}

		if firstTokenSeen && time.Since(lastTokenEmissionTime) > interTimeout {
			return builder.String(), NewRuntimeError(CodeInterTokenTimeout, "inter-token timeout exceeded", nil)
		}

		if !firstTokenSeen {
			firstTokenSeen = true
			machine.Transition(statemachine.Streaming)
		}

		switch e := ev.(type) {
		case event.Token:
			value := e.Value
			if overlapState.active && !overlapState.resolved {
				value = overlapState.feed(value, dedupOpts.toOverlapOptions())
			}
			if value != "" {
				builder.WriteString(value)
				o.state.TokenCount++
				o.state.LastTokenAt = time.Now()
				if o.state.FirstTokenAt.IsZero() {
					o.state.FirstTokenAt = o.state.LastTokenAt
				}
			}

			if o.state.TokenCount > 0 {
				if o.state.TokenCount%intervals.Guardrails == 0 {
					result := o.runGuardrail(ctx, guardEngine, guardrail.Context{
						Content:    builder.String(),
						Delta:      value,
						TokenCount: o.state.TokenCount,
					})
					o.state.Violations = append(o.state.Violations, result.Violations...)
					if result.ShouldHalt {
						return builder.String(), NewRuntimeError(CodeFatalGuardrailViolation, "fatal guardrail violation", nil)
					}
				}
				if o.opts.DetectDrift && o.state.TokenCount%intervals.Drift == 0 {
					driftDetector.ObserveToken(value)
					dr := driftDetector.Check(builder.String())
					o.emit(ctx, DriftCheckResult, attempt, map[string]interface{}{"detected": dr.Detected, "confidence": dr.Confidence})
					if dr.Detected {
						o.state.DriftDetected = true
					}
				}
				if o.opts.ContinueFromLastKnownGoodToken && o.state.TokenCount%intervals.Checkpoint == 0 {
					o.state.Checkpoint = builder.String()
					o.emit(ctx, CheckpointSaved, attempt, nil)
				}
			}

			o.deliverEvent(event.Token{Value: value, At: time.Now()})
			lastTokenEmissionTime = time.Now()

		case event.Message:
			o.handleMessage(ctx, attempt, e.Value)
			o.deliverEvent(e)

		case event.Data:
			o.state.DataOutputs = append(o.state.DataOutputs, e.Payload)
			o.deliverEvent(e)

		case event.Progress:
			o.deliverEvent(e)

		case event.Error:
			return builder.String(), NewRuntimeError(CodeNetworkError, "stream yielded an error event", e.Err)

		case event.Complete:
			o.lastFinishReason = e.FinishReason
			goto streamDone
		}
	}

streamDone:
	if overlapState.active && !overlapState.resolved {
		builder.WriteString(overlapState.flush(dedupOpts.toOverlapOptions()))
	}

	finalContent := builder.String()

	if o.opts.DetectZeroTokens && detectZeroOutput(finalContent) {
		return finalContent, NewRuntimeError(CodeZeroOutput, "stream produced effectively empty output", retrypolicy.ErrZeroOutput)
	}
	if detectEncodingFailure(finalContent, o.state.TokenCount) {
		return finalContent, NewRuntimeError(CodeZeroOutput, "stream produced noise output", retrypolicy.ErrZeroOutput)
	}
	if detectTransportFailure(time.Since(start), o.state.TokenCount) {
		return finalContent, NewRuntimeError(CodeZeroOutput, "stream completed implausibly fast", retrypolicy.ErrZeroOutput)
	}

	finalResult := o.runGuardrail(ctx, guardEngine, guardrail.Context{
		Content:            finalContent,
		Completed:          true,
		TokenCount:         o.state.TokenCount,
		PreviousViolations: o.state.Violations,
	})
	o.state.Violations = append(o.state.Violations, finalResult.Violations...)
	if finalResult.ShouldHalt {
		return finalContent, NewRuntimeError(CodeFatalGuardrailViolation, "fatal guardrail violation at completion", nil)
	}
	if finalResult.ShouldRetry {
		return finalContent, NewRuntimeError(CodeGuardrailViolation, "recoverable guardrail violation at completion", retrypolicy.ErrGuardrailViolation)
	}

	if o.opts.DetectDrift {
		dr := driftDetector.Check(finalContent)
		if dr.Detected && dr.Confidence >= 0.75 {
			return finalContent, NewRuntimeError(CodeDriftDetected, "drift detected at completion", retrypolicy.ErrDriftDetected)
		}
	}

	o.state.Violations = nil
	o.state.Duration = time.Since(start)
	return finalContent, nil
}

// runGuardrail wraps one guardrail engine pass in a span so rule execution
// shows up in a trace alongside the attempt and adapter-detection spans.
// Engine.Run never errors, so the span is closed directly rather than
// through RecordSpan's error-path.
func (o *Orchestrator) runGuardrail(ctx context.Context, engine *guardrail.Engine, gctx guardrail.Context) guardrail.Result {
	_, span := o.tracer.Start(ctx, "streamrt.guardrail.run",
		trace.WithAttributes(attribute.Int("streamrt.guardrail.token_count", gctx.TokenCount), attribute.Bool("streamrt.guardrail.completed", gctx.Completed)),
	)
	defer span.End()
	return engine.Run(gctx)
}

func (o *Orchestrator) onGuardrailEvent(ev guardrail.RuleEvent) {
	name := GuardrailRuleStart
	if ev.Phase == guardrail.RuleEndPhase {
		name = GuardrailRuleEnd
	}
	o.emit(context.Background(), name, 0, map[string]interface{}{"rule": ev.Name, "passed": ev.Passed})
	for range ev.Violations {
		o.emit(context.Background(), GuardrailRuleResult, 0, map[string]interface{}{"rule": ev.Name})
	}
}

// resolveSource implements spec.md §4.7 step 2's adapter dispatch order:
// explicit adapter name, auto-detection, native event.Source, generic
// iterable, else INVALID_STREAM.
func (o *Orchestrator) resolveSource(ctx context.Context, raw interface{}) (event.Source, error) {
	o.emit(ctx, AdapterWrapStart, 0, nil)

	if o.opts.AdapterName != "" {
		src, err := o.registry.WrapStream(o.opts.AdapterName, raw, o.opts.AdapterOptions)
		if err != nil {
			return nil, NewRuntimeError(CodeAdapterNotFound, "named adapter not found or failed to wrap", err)
		}
		return src, nil
	}

	detected, detectErr := telemetry.RecordSpan(ctx, o.tracer, telemetry.SpanOptions{
		Name:        "streamrt.adapter.detect",
		EndWhenDone: true,
	}, func(_ context.Context, _ trace.Span) (*registry.Adapter, error) {
		return o.registry.Detect(raw)
	})

	if detectErr == nil {
		o.emit(ctx, AdapterDetected, 0, map[string]interface{}{"adapter": detected.Name})
		if detected.Wrap != nil {
			return detected.Wrap(raw, o.opts.AdapterOptions)
		}
	} else if isAmbiguous(detectErr) {
		return nil, NewRuntimeError(CodeAdapterAmbiguous, "multiple adapters matched the stream", detectErr)
	}

	if native, ok := raw.(adapter.NativeTextStream); ok {
		return adapter.WrapNative(native), nil
	}

	if it, ok := raw.(adapter.Iterable); ok {
		return adapter.WrapGeneric(it, normalize.New()), nil
	}

	return nil, NewRuntimeError(CodeInvalidStream, "stream value matched no adapter dispatch rule", adapter.ErrNotStream)
}

func isAmbiguous(err error) bool {
	return err != nil && strings.Contains(err.Error(), "ambiguous")
}

var (
	errChunkTimeout = errors.New("runtime: chunk timeout")
	errStreamDone   = errors.New("runtime: stream exhausted")
)

// nextChunk races the next upstream event against the appropriate
// timeout, mirroring the teacher's pkg/ai/stream.go nextChunk /
// pkg/ai/timeout.go CreateTimeoutContext pattern.
func (o *Orchestrator) nextChunk(source event.Source, firstTokenSeen bool, initialTimeout time.Duration) (event.Event, error) {
	if firstTokenSeen {
		// Inter-token timeout is measured by the caller from
		// lastTokenEmissionTime, not raced here, so a slow consumer
		// callback never trips it (spec.md §5).
		ev, err := source.Next()
		if err != nil {
			return nil, streamEndOrError(err)
		}
		return ev, nil
	}

	type chunkResult struct {
		ev  event.Event
		err error
	}
	ch := make(chan chunkResult, 1)
	go func() {
		ev, err := source.Next()
		ch <- chunkResult{ev, err}
	}()

	timer := time.NewTimer(initialTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, streamEndOrError(r.err)
		}
		return r.ev, nil
	case <-timer.C:
		return nil, errChunkTimeout
	}
}

func streamEndOrError(err error) error {
	if err == nil {
		return nil
	}
	return errStreamDone
}

func (o *Orchestrator) deliverEvent(ev event.Event) {
	if o.opts.OnEvent == nil {
		return
	}
	o.safeOnEvent(ev)
}

func (o *Orchestrator) safeOnEvent(ev event.Event) {
	defer func() {
		recover() //nolint:errcheck // user onEvent callbacks must never crash the orchestrator
	}()
	o.opts.OnEvent(ev)
}

func (o *Orchestrator) emit(ctx context.Context, name LifecycleName, attempt int, data map[string]interface{}) {
	notifyLifecycle(ctx, o.listeners, Lifecycle{
		Name:      name,
		SessionID: o.sessionID,
		Attempt:   attempt,
		At:        time.Now(),
		Data:      data,
	})
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// overlapTracker holds the per-attempt dedup state from spec.md §9: reset
// on every retry/fallback, feeding tokens to the Overlap Matcher until
// the checkpoint/continuation boundary is resolved.
type overlapTracker struct {
	active   bool
	resolved bool
	prior    string
	pending  strings.Builder
}

// feed accumulates continuation tokens and keeps probing for a suffix/
// prefix overlap against prior. It only resolves (and stops buffering)
// once Match reports a real overlap that leaves a non-empty tail beyond
// it, or once the buffer has grown past MaxOverlap without ever finding
// one — at which point the whole buffer is flushed as new, undeduplicated
// content rather than stalling forever. Until resolved it returns "" so
// the caller does not emit partial, possibly-overlapping content.
func (t *overlapTracker) feed(token string, opts overlap.Options) string {
	t.pending.WriteString(token)
	pending := t.pending.String()

	result := overlap.Match(t.prior, pending, opts)
	if result.Matched {
		if tail := result.Merged[len(t.prior):]; tail != "" {
			t.resolved = true
			return tail
		}
	}

	if utf8.RuneCountInString(pending) > opts.MaxOverlap {
		t.resolved = true
		return pending
	}

	return ""
}

// flush resolves whatever is left in the pending buffer at end of stream,
// making one final attempt to find an overlap now that no more
// continuation tokens are coming.
func (t *overlapTracker) flush(opts overlap.Options) string {
	if t.pending.Len() == 0 {
		return ""
	}
	pending := t.pending.String()
	if result := overlap.Match(t.prior, pending, opts); result.Matched {
		return result.Merged[len(t.prior):]
	}
	return pending
}
