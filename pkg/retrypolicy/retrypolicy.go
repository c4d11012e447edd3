// Package retrypolicy implements the Retry Manager (C8): error
// categorization, halt/retry decisions, and the six backoff strategies
// used to space out retry attempts. It generalizes the teacher's
// pkg/internal/retry exponential-only helper into the full taxonomy
// spec.md §4.5 requires, and wires github.com/cenkalti/backoff/v5 for
// exponential delay computation and golang.org/x/time/rate for the
// RATE_LIMIT strategy's token-bucket pacing.
package retrypolicy

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	providererrors "github.com/digitallysavvy/go-streamrt/pkg/provider/errors"
)

// Category classifies the cause of a failed attempt.
type Category string

const (
	CategoryFatal       Category = "FATAL"
	CategoryZeroOutput  Category = "ZERO_OUTPUT"
	CategoryGuardrail   Category = "GUARDRAIL"
	CategoryDrift       Category = "DRIFT"
	CategoryIncomplete  Category = "INCOMPLETE"
	CategoryNetwork     Category = "NETWORK"
	CategoryTimeout     Category = "TIMEOUT"
	CategoryRateLimit   Category = "RATE_LIMIT"
	CategoryServerError Category = "SERVER_ERROR"
	CategoryAbort       Category = "ABORT"
	CategoryInternal    Category = "INTERNAL"
)

// Strategy names a backoff delay curve.
type Strategy string

const (
	StrategyExponential       Strategy = "exponential"
	StrategyLinear            Strategy = "linear"
	StrategyFixed             Strategy = "fixed"
	StrategyFixedJitter       Strategy = "fixed_jitter"
	StrategyFullJitter        Strategy = "full_jitter"
	StrategyDecorrelatedJitter Strategy = "decorrelated_jitter"
)

// CategoryPolicy configures retry behavior for one error Category.
type CategoryPolicy struct {
	MaxAttempts       int
	Strategy          Strategy
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	CountsTowardLimit bool
}

// Decision is the outcome of Manager.Decide for one failed attempt.
type Decision struct {
	ShouldRetry       bool
	Delay             time.Duration
	Reason            string
	Category          Category
	CountsTowardLimit bool
}

// defaultPolicies mirrors spec.md §4.5's taxonomy table: fatal categories
// never retry, zero-output/incomplete retry a bounded number of times, and
// transient network/server conditions get the most generous budget.
func defaultPolicies() map[Category]CategoryPolicy {
	return map[Category]CategoryPolicy{
		CategoryFatal:       {MaxAttempts: 0, Strategy: StrategyFixed, CountsTowardLimit: true},
		CategoryAbort:       {MaxAttempts: 0, Strategy: StrategyFixed, CountsTowardLimit: true},
		CategoryInternal:    {MaxAttempts: 1, Strategy: StrategyFixed, BaseDelay: 0, CountsTowardLimit: true},
		CategoryZeroOutput:  {MaxAttempts: 2, Strategy: StrategyLinear, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second, CountsTowardLimit: true},
		CategoryGuardrail:   {MaxAttempts: 2, Strategy: StrategyFixedJitter, BaseDelay: 200 * time.Millisecond, MaxDelay: 1 * time.Second, CountsTowardLimit: true},
		CategoryDrift:       {MaxAttempts: 1, Strategy: StrategyFixedJitter, BaseDelay: 200 * time.Millisecond, MaxDelay: 1 * time.Second, CountsTowardLimit: true},
		CategoryIncomplete:  {MaxAttempts: 3, Strategy: StrategyExponential, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, CountsTowardLimit: true},
		CategoryNetwork:     {MaxAttempts: 4, Strategy: StrategyExponential, BaseDelay: 500 * time.Millisecond, MaxDelay: 20 * time.Second, CountsTowardLimit: true},
		CategoryTimeout:     {MaxAttempts: 3, Strategy: StrategyExponential, BaseDelay: 1 * time.Second, MaxDelay: 15 * time.Second, CountsTowardLimit: true},
		CategoryRateLimit:   {MaxAttempts: 5, Strategy: StrategyDecorrelatedJitter, BaseDelay: 1 * time.Second, MaxDelay: 30 * time.Second, CountsTowardLimit: false},
		CategoryServerError: {MaxAttempts: 4, Strategy: StrategyFullJitter, BaseDelay: 1 * time.Second, MaxDelay: 20 * time.Second, CountsTowardLimit: true},
	}
}

// Manager makes retry decisions across the lifetime of one call, tracking
// per-category attempt counts so CategoryPolicy.MaxAttempts is enforced
// cumulatively rather than per-invocation.
type Manager struct {
	policies map[Category]CategoryPolicy
	attempts map[Category]int

	// rateLimiter paces RATE_LIMIT retries independently of the
	// category's own backoff curve, so a burst of rate-limited calls
	// across goroutines shares one token bucket.
	rateLimiter *rate.Limiter

	prevDelay time.Duration // decorrelated jitter state
	rng       *rand.Rand
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithCategoryPolicy overrides the default policy for category.
func WithCategoryPolicy(category Category, policy CategoryPolicy) Option {
	return func(m *Manager) { m.policies[category] = policy }
}

// WithRateLimiter installs a custom token-bucket limiter for RATE_LIMIT
// category pacing. The default allows one retry per second, burst 3.
func WithRateLimiter(limiter *rate.Limiter) Option {
	return func(m *Manager) { m.rateLimiter = limiter }
}

// New builds a Manager with spec.md's default per-category policies,
// overridable via Option.
func New(opts ...Option) *Manager {
	m := &Manager{
		policies:    defaultPolicies(),
		attempts:    make(map[Category]int),
		rateLimiter: rate.NewLimiter(rate.Limit(1), 3),
		rng:         rand.New(rand.NewSource(1)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Classify maps an error to its retry Category, grounded in the teacher's
// provider/errors taxonomy plus context and spec-level sentinel errors.
func Classify(err error) Category {
	if err == nil {
		return CategoryInternal
	}

	if errors.Is(err, context.Canceled) {
		return CategoryAbort
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	if errors.Is(err, ErrZeroOutput) {
		return CategoryZeroOutput
	}
	if errors.Is(err, ErrIncompleteStream) {
		return CategoryIncomplete
	}
	if errors.Is(err, ErrGuardrailViolation) {
		return CategoryGuardrail
	}
	if errors.Is(err, ErrDriftDetected) {
		return CategoryDrift
	}

	var rateLimitErr *providererrors.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return CategoryRateLimit
	}

	var streamErr *providererrors.StreamError
	if errors.As(err, &streamErr) {
		return CategoryNetwork
	}

	var providerErr *providererrors.ProviderError
	if errors.As(err, &providerErr) {
		if providerErr.StatusCode == 429 {
			return CategoryRateLimit
		}
		if providerErr.StatusCode >= 500 {
			return CategoryServerError
		}
		return CategoryFatal
	}

	var validationErr *providererrors.ValidationError
	if errors.As(err, &validationErr) {
		return CategoryFatal
	}

	return CategoryInternal
}

// Decide classifies err and returns whether the caller should retry, and
// after how long. The Manager's own attempt counter for the resolved
// category is incremented as a side effect.
func (m *Manager) Decide(ctx context.Context, err error) Decision {
	category := Classify(err)
	policy, ok := m.policies[category]
	if !ok {
		policy = CategoryPolicy{MaxAttempts: 0, Strategy: StrategyFixed}
	}

	m.attempts[category]++
	attempt := m.attempts[category]

	if attempt > policy.MaxAttempts {
		return Decision{
			ShouldRetry:       false,
			Reason:            "max-attempts-exceeded",
			Category:          category,
			CountsTowardLimit: policy.CountsTowardLimit,
		}
	}

	if category == CategoryFatal || category == CategoryAbort {
		return Decision{
			ShouldRetry:       false,
			Reason:            "non-retryable-category",
			Category:          category,
			CountsTowardLimit: policy.CountsTowardLimit,
		}
	}

	delay := m.computeDelay(ctx, category, policy, attempt)

	return Decision{
		ShouldRetry:       true,
		Delay:             delay,
		Reason:            "retryable",
		Category:          category,
		CountsTowardLimit: policy.CountsTowardLimit,
	}
}

// AttemptsFor reports how many attempts have been charged to category so
// far in this Manager's lifetime.
func (m *Manager) AttemptsFor(category Category) int {
	return m.attempts[category]
}

func (m *Manager) computeDelay(ctx context.Context, category Category, policy CategoryPolicy, attempt int) time.Duration {
	if category == CategoryRateLimit && m.rateLimiter != nil {
		reservation := m.rateLimiter.Reserve()
		if !reservation.OK() {
			return policy.MaxDelay
		}
		rateDelay := reservation.Delay()
		if rateDelay > 0 {
			return rateDelay
		}
	}

	switch policy.Strategy {
	case StrategyExponential:
		return m.exponentialDelay(policy, attempt)
	case StrategyLinear:
		return capDelay(policy.BaseDelay*time.Duration(attempt), policy.MaxDelay)
	case StrategyFixed:
		return policy.BaseDelay
	case StrategyFixedJitter:
		return capDelay(policy.BaseDelay+jitterFraction(m.rng, policy.BaseDelay, 0.25), policy.MaxDelay)
	case StrategyFullJitter:
		base := capDelay(exponentialBase(policy.BaseDelay, attempt), policy.MaxDelay)
		return time.Duration(m.rng.Int63n(int64(base) + 1))
	case StrategyDecorrelatedJitter:
		return m.decorrelatedJitterDelay(policy)
	default:
		return policy.BaseDelay
	}
}

// exponentialDelay uses cenkalti/backoff/v5's ExponentialBackOff to
// compute the curve rather than hand-rolling math.Pow, matching the
// library the pack carries for this concern.
func (m *Manager) exponentialDelay(policy CategoryPolicy, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.MaxInterval = policy.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		next, err := b.NextBackOff()
		if err != nil {
			return policy.MaxDelay
		}
		delay = next
	}
	return capDelay(delay, policy.MaxDelay)
}

func (m *Manager) decorrelatedJitterDelay(policy CategoryPolicy) time.Duration {
	base := m.prevDelay
	if base <= 0 {
		base = policy.BaseDelay
	}
	upper := base * 3
	if upper <= 0 {
		upper = policy.BaseDelay
	}
	delay := capDelay(time.Duration(m.rng.Int63n(int64(upper)-int64(policy.BaseDelay)+1))+policy.BaseDelay, policy.MaxDelay)
	m.prevDelay = delay
	return delay
}

func exponentialBase(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func jitterFraction(rng *rand.Rand, base time.Duration, frac float64) time.Duration {
	if base <= 0 {
		return 0
	}
	span := int64(float64(base) * frac)
	if span <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(span))
}

func capDelay(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}

// Sentinel errors other components wrap to signal a retry category that
// has no natural home in provider/errors (zero-output, incomplete stream,
// guardrail/drift findings originate in this runtime, not a provider).
var (
	ErrZeroOutput         = errors.New("retrypolicy: zero output produced")
	ErrIncompleteStream   = errors.New("retrypolicy: stream ended before a terminal event")
	ErrGuardrailViolation = errors.New("retrypolicy: guardrail violation")
	ErrDriftDetected      = errors.New("retrypolicy: drift detected")
)
