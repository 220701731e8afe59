package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/simplesurance/nextmerge/internal/logfields"
	"github.com/simplesurance/nextmerge/internal/nexterr"
)

const loggerName = "fetcher"

// DefInitialInterval is the delay before the first retry.
const DefInitialInterval = time.Second

// SleepFunc blocks for d or until ctx is cancelled.
type SleepFunc func(ctx context.Context, d time.Duration) error

// OnErrorFunc is called for every retryable error before the retry is
// scheduled. If it returns ok == true, retrying stops and result is returned
// without an error.
type OnErrorFunc[T any] func(err error) (result T, ok bool)

// Retryer executes a function repeatedly until it was successful or it
// returned an error that is not retryable.
// The delay between tries starts with the initial interval and is doubled
// after every try. The number of tries and the delay are not limited.
type Retryer struct {
	logger          *zap.Logger
	initialInterval time.Duration
	isRetryable     func(error) bool
	sleep           SleepFunc
}

type Option func(*Retryer)

// WithInitialInterval sets the delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retryer) {
		r.initialInterval = d
	}
}

// WithRetryableFunc sets the function that decides which errors are retried.
// Errors wrapping nexterr.ErrAuthenticationFailed are never retried,
// independent of the result of fn.
func WithRetryableFunc(fn func(error) bool) Option {
	return func(r *Retryer) {
		r.isRetryable = fn
	}
}

// WithSleepFunc replaces the function that is used to wait between retries.
func WithSleepFunc(fn SleepFunc) Option {
	return func(r *Retryer) {
		r.sleep = fn
	}
}

func NewRetryer(opts ...Option) *Retryer {
	r := Retryer{
		logger:          zap.L().Named(loggerName),
		initialInterval: DefInitialInterval,
		isRetryable:     nexterr.IsRetryable,
		sleep:           sleepCtx,
	}

	for _, o := range opts {
		o(&r)
	}

	return &r
}

func (r *Retryer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = time.Duration(math.MaxInt64)
	bo.MaxElapsedTime = 0
	bo.Reset()

	return bo
}

func (r *Retryer) retryable(err error) bool {
	if errors.Is(err, nexterr.ErrAuthenticationFailed) {
		return false
	}

	return r.isRetryable(err)
}

// Retry runs fn until it succeeded, returned a non-retryable error or
// onError returned a substitute result.
// onError can be nil.
// The context is only used to abort waiting between retries and is passed
// to fn.
func Retry[T any](ctx context.Context, r *Retryer, action string, fn func(context.Context) (T, error), onError OnErrorFunc[T]) (T, error) {
	var zero T
	var tryCnt uint

	bo := r.newBackOff()

	for {
		tryCnt++
		logger := r.logger.With(logfields.Action(action), zap.Uint("try_count", tryCnt))

		result, err := fn(ctx)
		if err == nil {
			if tryCnt > 1 {
				logger.Info(
					"operation succeeded after retrying",
					logfields.Event("retry_succeeded"),
				)
			}

			return result, nil
		}

		logger = logger.With(zap.Error(err))

		if !r.retryable(err) {
			logger.Debug(
				"operation failed, not retryable",
				logfields.Event("retry_not_retryable"),
			)

			return zero, err
		}

		if onError != nil {
			if substitute, ok := onError(err); ok {
				logger.Info(
					"operation failed, error handler returned a substitute result",
					logfields.Event("retry_substituted"),
				)

				return substitute, nil
			}
		}

		retryIn := bo.NextBackOff()

		var retryErr *nexterr.RetryableError
		if errors.As(err, &retryErr) && !retryErr.After.IsZero() {
			if d := time.Until(retryErr.After); d > retryIn {
				retryIn = d
			}
		}

		logger.Warn(
			fmt.Sprintf("%s failed, retrying in %s", action, retryIn),
			logfields.Event("retry_scheduled"),
			zap.Duration("retry_in", retryIn),
		)

		if err := r.sleep(ctx, retryIn); err != nil {
			return zero, err
		}
	}
}

// Run is Retry for functions that only return an error.
func (r *Retryer) Run(ctx context.Context, action string, fn func(context.Context) error) error {
	_, err := Retry(ctx, r, action, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)

	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
