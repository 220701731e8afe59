package fetcher

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/simplesurance/nextmerge/internal/nexterr"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func TestBackoffDelaysDouble(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var rec sleepRecorder
	r := NewRetryer(WithInitialInterval(time.Second), WithSleepFunc(rec.sleep))

	var calls int
	result, err := Retry(context.Background(), r, "test", func(context.Context) (int, error) {
		calls++
		if calls <= 4 {
			return 0, nexterr.NewRetryableAnytimeError(errors.New("unavailable"))
		}

		return 42, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 5, calls)
	assert.Equal(t,
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second},
		rec.delays,
	)
}

func TestNonRetryableErrorIsReturnedImmediately(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var rec sleepRecorder
	r := NewRetryer(WithSleepFunc(rec.sleep))

	wantErr := errors.New("bad request")
	var calls int
	err := r.Run(context.Background(), "test", func(context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestAuthenticationErrorIsNotRetried(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var rec sleepRecorder
	r := NewRetryer(
		WithSleepFunc(rec.sleep),
		WithRetryableFunc(func(error) bool { return true }),
	)

	var calls int
	err := r.Run(context.Background(), "test", func(context.Context) error {
		calls++
		return nexterr.NewAuthenticationError("https://api.github.com/user", http.StatusUnauthorized, nil)
	})

	assert.ErrorIs(t, err, nexterr.ErrAuthenticationFailed)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestOnErrorSubstituteStopsRetrying(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var rec sleepRecorder
	r := NewRetryer(WithSleepFunc(rec.sleep))

	var calls, onErrorCalls int
	result, err := Retry(context.Background(), r, "test",
		func(context.Context) (string, error) {
			calls++
			return "", nexterr.NewRetryableAnytimeError(errors.New("over quota"))
		},
		func(error) (string, bool) {
			onErrorCalls++
			return "skipped", onErrorCalls == 2
		},
	)

	require.NoError(t, err)
	assert.Equal(t, "skipped", result)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestRetryAfterLaterThanBackoffIsHonored(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	var rec sleepRecorder
	r := NewRetryer(WithInitialInterval(time.Millisecond), WithSleepFunc(rec.sleep))

	var calls int
	err := r.Run(context.Background(), "test", func(context.Context) error {
		calls++
		if calls == 1 {
			return nexterr.NewRetryableError(errors.New("rate limited"), time.Now().Add(time.Hour))
		}
		return nil
	})

	require.NoError(t, err)
	require.Len(t, rec.delays, 1)
	assert.Greater(t, rec.delays[0], 59*time.Minute)
}

func TestCancelledContextAbortsSleep(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	r := NewRetryer(WithInitialInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, "test", func(context.Context) error {
		return nexterr.NewRetryableAnytimeError(errors.New("unavailable"))
	})

	assert.ErrorIs(t, err, context.Canceled)
}
