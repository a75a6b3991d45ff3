package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-derivs-collector/internal/config"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestRetrier(policy RetryPolicy) (*Retrier, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	r := NewRetrier(policy, createTestLogger())
	r.Sleep = sleeper.sleep
	return r, sleeper
}

func TestRetrier_RetriesUntilSuccess(t *testing.T) {
	r, sleeper := newTestRetrier(DefaultRetryPolicy())

	var events []RetryEvent
	r.OnRetry = func(e RetryEvent) { events = append(events, e) }

	calls := 0
	err := r.Do(context.Background(), "collector", "fetch_candles", func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return New(ErrorTypeExchangeUnavailable, "binance", "klines", errors.New("503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, sleeper.delays)
	require.Len(t, events, 3)
	assert.Equal(t, 3, events[2].Attempt)
}

func TestRetrier_NonRetryableAborts(t *testing.T) {
	r, sleeper := newTestRetrier(DefaultRetryPolicy())

	calls := 0
	err := r.Do(context.Background(), "collector", "fetch_candles", func(ctx context.Context) error {
		calls++
		return New(ErrorTypeBadRequest, "okx", "candles", errors.New("bad symbol"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, ErrorTypeBadRequest, GetErrorType(err))
}

func TestRetrier_GivesUpAfterMaxAttempts(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 3
	r, sleeper := newTestRetrier(policy)

	calls := 0
	err := r.Do(context.Background(), "collector", "fetch_levels", func(ctx context.Context) error {
		calls++
		return New(ErrorTypeTimeout, "coinglass", "history", context.DeadlineExceeded)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.delays, 2)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))
}

func TestRetrier_NoRetryPolicy(t *testing.T) {
	r, sleeper := newTestRetrier(NoRetryPolicy())

	calls := 0
	err := r.Do(context.Background(), "collector", "fetch_levels", func(ctx context.Context) error {
		calls++
		return New(ErrorTypeExchange, "coinglass", "history", errors.New("code 50001"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestRetrier_RespectsRetryableSet(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.Retryable = map[ErrorType]bool{ErrorTypeTimeout: true}
	r, _ := newTestRetrier(policy)

	calls := 0
	err := r.Do(context.Background(), "collector", "fetch_candles", func(ctx context.Context) error {
		calls++
		return New(ErrorTypeRateLimit, "bybit", "kline", errors.New("10006"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_CancelDuringHold(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRetrier(DefaultRetryPolicy(), createTestLogger())
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ContextSleep(ctx, d)
	}

	calls := 0
	err := r.Do(ctx, "collector", "fetch_candles", func(ctx context.Context) error {
		calls++
		return New(ErrorTypeExchange, "binance", "klines", errors.New("-1000"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ErrorTypeCanceled, GetErrorType(err))
}

func TestRetrier_MaxElapsed(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxElapsed = 12 * time.Second
	r, sleeper := newTestRetrier(policy)

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return sleeper.sleep(ctx, d)
	}

	err := r.Do(context.Background(), "collector", "fetch_candles", func(ctx context.Context) error {
		return New(ErrorTypeExchange, "binance", "klines", errors.New("-1000"))
	})

	require.Error(t, err)
	assert.Len(t, sleeper.delays, 2)
}

func TestPolicyFromConfig(t *testing.T) {
	p, err := PolicyFromConfig(config.RetryPolicyConfig{
		MaxAttempts:     4,
		InitialDelay:    "1s",
		MaxDelay:        "3s",
		MaxElapsed:      "1m",
		BackoffStrategy: "linear",
		RetryableErrors: []string{"timeout", "rate_limit"},
	})
	require.NoError(t, err)

	assert.Equal(t, StrategyLinear, p.Strategy)
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, time.Minute, p.MaxElapsed)
	assert.True(t, p.ShouldRetry(New(ErrorTypeRateLimit, "", "", errors.New("x"))))
	assert.False(t, p.ShouldRetry(New(ErrorTypeExchange, "", "", errors.New("x"))))

	b := p.NewBackOff()
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())

	_, err = PolicyFromConfig(config.RetryPolicyConfig{BackoffStrategy: "quadratic"})
	assert.Error(t, err)

	_, err = PolicyFromConfig(config.RetryPolicyConfig{InitialDelay: "soon"})
	assert.Error(t, err)

	_, err = PolicyFromConfig(config.RetryPolicyConfig{MaxAttempts: -1})
	assert.Error(t, err)
}

func TestPolicy_ExponentialBackOff(t *testing.T) {
	p, err := PolicyFromConfig(config.RetryPolicyConfig{
		InitialDelay:    "1s",
		MaxDelay:        "4s",
		BackoffStrategy: "exponential",
	})
	require.NoError(t, err)

	b := p.NewBackOff()
	first := b.NextBackOff()
	second := b.NextBackOff()
	assert.Equal(t, time.Second, first)
	assert.Greater(t, second, first)
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, b.NextBackOff(), 4*time.Second)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, StrategyFixed, p.Strategy)
	assert.Equal(t, 5*time.Second, p.InitialDelay)
	assert.Zero(t, p.MaxAttempts)
	for _, typ := range DefaultRetryableTypes {
		assert.True(t, p.ShouldRetry(New(typ, "", "", errors.New("x"))), typ)
	}
	assert.False(t, p.ShouldRetry(New(ErrorTypeNetwork, "", "", errors.New("x"))))
	assert.False(t, p.ShouldRetry(New(ErrorTypeCanceled, "", "", errors.New("x"))))
}
