package runtime

import (
	"context"
	"time"

	"github.com/digitallysavvy/go-streamrt/pkg/event"
	"github.com/digitallysavvy/go-streamrt/pkg/guardrail"
	"github.com/digitallysavvy/go-streamrt/pkg/interceptor"
	"github.com/digitallysavvy/go-streamrt/pkg/overlap"
)

// StreamFactory produces a fresh upstream stream value each time it is
// invoked (once per attempt). The returned value is handed to the adapter
// resolution step exactly as the caller's native SDK would hand it back
// from a streaming call.
type StreamFactory func(ctx context.Context) (interface{}, error)

// TimeoutOptions configures the two timeout regimes from spec.md §5.
type TimeoutOptions struct {
	InitialToken time.Duration
	InterToken   time.Duration
}

// DefaultTimeoutOptions matches spec.md §6's defaults.
func DefaultTimeoutOptions() TimeoutOptions {
	return TimeoutOptions{InitialToken: 5000 * time.Millisecond, InterToken: 10000 * time.Millisecond}
}

// CheckIntervals controls how often the orchestrator rebuilds content and
// runs the guardrail/drift/checkpoint passes, measured in tokens.
type CheckIntervals struct {
	Guardrails int
	Drift      int
	Checkpoint int
}

// DefaultCheckIntervals matches spec.md §6's defaults.
func DefaultCheckIntervals() CheckIntervals {
	return CheckIntervals{Guardrails: 5, Drift: 10, Checkpoint: 10}
}

// DeduplicationOptions controls the overlap matcher's behavior across a
// continuation boundary.
type DeduplicationOptions struct {
	MinOverlap          int
	MaxOverlap          int
	CaseSensitive       bool
	NormalizeWhitespace bool
}

// DefaultDeduplicationOptions matches spec.md §6's defaults.
func DefaultDeduplicationOptions() DeduplicationOptions {
	return DeduplicationOptions{MinOverlap: 2, MaxOverlap: 500, CaseSensitive: true, NormalizeWhitespace: false}
}

func (d DeduplicationOptions) toOverlapOptions() overlap.Options {
	return overlap.Options{
		MinOverlap:          d.MinOverlap,
		MaxOverlap:          d.MaxOverlap,
		CaseFold:            !d.CaseSensitive,
		NormalizeWhitespace: d.NormalizeWhitespace,
	}
}

// RetryOptions configures the model-level retry budget; network retries
// are tracked independently via RuntimeState.NetworkRetryCount.
type RetryOptions struct {
	Attempts       int
	MaxRetries     int
	ShouldRetry    func(err error) bool
	CalculateDelay func(attempt int, err error) time.Duration
}

// MonitoringOptions configures telemetry sampling; the orchestrator only
// consults Enabled, the rest is carried for adapters that wire a real
// telemetry backend.
type MonitoringOptions struct {
	Enabled               bool
	SampleRate            float64
	IncludeNetworkDetails bool
	IncludeTimings        bool
	Metadata              map[string]interface{}
}

// Options is the full call shape from spec.md §6.
type Options struct {
	Stream          StreamFactory
	FallbackStreams []StreamFactory

	Guardrails []guardrail.Rule

	Retry   RetryOptions
	Timeout TimeoutOptions

	CheckIntervals CheckIntervals

	ContinueFromLastKnownGoodToken bool
	DeduplicateContinuation        *bool
	DeduplicationOptions           DeduplicationOptions

	DetectDrift      bool
	DetectZeroTokens bool

	Monitoring MonitoringOptions

	AdapterName    string
	AdapterOptions interface{}

	OnEvent      func(envelopeEvent event.Event)
	OnLifecycle  Listener
	Interceptors []interceptor.Interceptor

	BuildContinuationPrompt func(checkpoint string) (string, error)
}

// deduplicate reports whether dedup is active for this call: explicit
// override wins, else it defaults to the continuation flag.
func (o Options) deduplicate() bool {
	if o.DeduplicateContinuation != nil {
		return *o.DeduplicateContinuation
	}
	return o.ContinueFromLastKnownGoodToken
}

// Result is the return shape from spec.md §6: Events carries the emitted
// events, State and Errors report the final snapshot and the per-attempt
// errors, and Abort cancels the call. Orchestrator.Run does not build a
// Result; it returns the snapshot and errors directly and delivers events
// through Options.OnEvent.
type Result struct {
	Events chan event.Event
	State  func() RuntimeState
	Errors func() []error
	Abort  func()
}
