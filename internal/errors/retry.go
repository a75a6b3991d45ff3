package errors

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-derivs-collector/internal/config"
)

// Backoff strategy names accepted in configuration.
const (
	StrategyFixed       = "fixed"
	StrategyLinear      = "linear"
	StrategyExponential = "exponential"
)

// RetryPolicy decides whether and how long to hold before re-issuing a
// failed request.
type RetryPolicy struct {
	Strategy     string
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxAttempts bounds the number of calls including the first. Zero
	// retries until success, a non-retryable error or cancellation.
	MaxAttempts int
	// MaxElapsed bounds the total time spent retrying. Zero means no bound.
	MaxElapsed time.Duration
	Jitter     bool
	Retryable  map[ErrorType]bool
}

// DefaultRetryPolicy holds for a fixed five seconds and retries forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Strategy:     StrategyFixed,
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Second,
		Retryable:    typeSet(DefaultRetryableTypes),
	}
}

// NoRetryPolicy fails on the first error.
func NoRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 1
	return p
}

// PolicyFromConfig converts a configuration block into a RetryPolicy.
func PolicyFromConfig(cfg config.RetryPolicyConfig) (RetryPolicy, error) {
	p := DefaultRetryPolicy()

	if cfg.BackoffStrategy != "" {
		switch s := strings.ToLower(cfg.BackoffStrategy); s {
		case StrategyFixed, StrategyLinear, StrategyExponential:
			p.Strategy = s
		default:
			return RetryPolicy{}, fmt.Errorf("unknown backoff strategy %q", cfg.BackoffStrategy)
		}
	}

	var err error
	if cfg.InitialDelay != "" {
		if p.InitialDelay, err = time.ParseDuration(cfg.InitialDelay); err != nil {
			return RetryPolicy{}, fmt.Errorf("invalid initial_delay: %w", err)
		}
	}
	p.MaxDelay = p.InitialDelay
	if cfg.MaxDelay != "" {
		if p.MaxDelay, err = time.ParseDuration(cfg.MaxDelay); err != nil {
			return RetryPolicy{}, fmt.Errorf("invalid max_delay: %w", err)
		}
	}
	if cfg.MaxElapsed != "" {
		if p.MaxElapsed, err = time.ParseDuration(cfg.MaxElapsed); err != nil {
			return RetryPolicy{}, fmt.Errorf("invalid max_elapsed: %w", err)
		}
	}
	if cfg.MaxAttempts < 0 {
		return RetryPolicy{}, fmt.Errorf("max_attempts must be >= 0, got %d", cfg.MaxAttempts)
	}
	p.MaxAttempts = cfg.MaxAttempts
	p.Jitter = cfg.Jitter

	if len(cfg.RetryableErrors) > 0 {
		types := make([]ErrorType, 0, len(cfg.RetryableErrors))
		for _, t := range cfg.RetryableErrors {
			types = append(types, ErrorType(strings.ToLower(strings.TrimSpace(t))))
		}
		p.Retryable = typeSet(types)
	}

	return p, nil
}

func typeSet(types []ErrorType) map[ErrorType]bool {
	set := make(map[ErrorType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

// ShouldRetry reports whether the policy retries errors of ce's type.
func (p RetryPolicy) ShouldRetry(ce *ClassifiedError) bool {
	if ce == nil || ce.Type == ErrorTypeCanceled {
		return false
	}
	if p.Retryable == nil {
		return ce.Retryable
	}
	return p.Retryable[ce.Type]
}

// NewBackOff creates the delay sequence for one retried call.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	var strategy backoff.BackOff

	switch p.Strategy {
	case StrategyLinear:
		strategy = &LinearBackoff{interval: p.InitialDelay, max: p.MaxDelay}
	case StrategyExponential:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = p.InitialDelay
		exponential.MaxInterval = p.MaxDelay
		exponential.MaxElapsedTime = 0
		if !p.Jitter {
			exponential.RandomizationFactor = 0
		}
		exponential.Reset()
		return exponential
	default:
		strategy = backoff.NewConstantBackOff(p.InitialDelay)
	}

	if p.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}
	return strategy
}

// SleepFunc holds for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the production SleepFunc.
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RetryEvent describes one failed attempt that will be retried.
type RetryEvent struct {
	Attempt int
	Delay   time.Duration
	Err     *ClassifiedError
}

// Retrier runs an operation under a RetryPolicy.
type Retrier struct {
	Policy     RetryPolicy
	Classifier *ErrorClassifier
	Sleep      SleepFunc
	Logger     *slog.Logger
	// OnRetry, when set, observes every retried failure.
	OnRetry func(RetryEvent)

	now func() time.Time
}

// NewRetrier builds a Retrier with a real sleeper.
func NewRetrier(policy RetryPolicy, logger *slog.Logger) *Retrier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrier{
		Policy:     policy,
		Classifier: NewErrorClassifier(logger),
		Sleep:      ContextSleep,
		Logger:     logger,
		now:        time.Now,
	}
}

// Do calls fn until it succeeds, fails with an error the policy does not
// retry, exhausts the policy or ctx is done. Retried failures are logged at
// WARN and never returned.
func (r *Retrier) Do(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	now := r.now
	if now == nil {
		now = time.Now
	}
	classifier := r.Classifier
	if classifier == nil {
		classifier = NewErrorClassifier(r.Logger)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	strategy := r.Policy.NewBackOff()
	started := now()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return New(ErrorTypeCanceled, component, operation, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry",
					"component", component,
					"operation", operation,
					"attempts", attempt)
			}
			return nil
		}

		classified := classifier.Classify(err, component, operation)
		classified.Attempts = attempt

		if ctx.Err() != nil {
			return New(ErrorTypeCanceled, component, operation, ctx.Err())
		}
		if !r.Policy.ShouldRetry(classified) {
			return classified
		}
		if r.Policy.MaxAttempts > 0 && attempt >= r.Policy.MaxAttempts {
			logger.Error("operation failed after all retries",
				"component", component,
				"operation", operation,
				"attempts", attempt,
				"error_type", classified.Type)
			return fmt.Errorf("giving up after %d attempts: %w", attempt, classified)
		}

		delay := strategy.NextBackOff()
		if delay == backoff.Stop ||
			(r.Policy.MaxElapsed > 0 && now().Sub(started)+delay > r.Policy.MaxElapsed) {
			logger.Error("retry budget exhausted",
				"component", component,
				"operation", operation,
				"attempts", attempt,
				"elapsed", now().Sub(started))
			return fmt.Errorf("giving up after %d attempts: %w", attempt, classified)
		}

		logger.Warn("operation failed, holding before retry",
			"component", component,
			"operation", operation,
			"attempt", attempt,
			"max_attempts", r.Policy.MaxAttempts,
			"error_type", classified.Type,
			"hold", delay,
			"error", err.Error())

		if r.OnRetry != nil {
			r.OnRetry(RetryEvent{Attempt: attempt, Delay: delay, Err: classified})
		}

		if err := sleep(ctx, delay); err != nil {
			return New(ErrorTypeCanceled, component, operation, err)
		}
	}
}

// LinearBackoff grows the delay by a fixed step up to max.
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.max > 0 && lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds +/-10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	jitter := float64(next) * 0.1
	return next + time.Duration((2*rand.Float64()-1)*jitter)
}
