package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rallyops/rallypoint/internal/retry"
)

func TestDo_FirstSuccess(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), 5, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, calls)
}

func TestDo_EventualSuccess(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), 5, time.Millisecond, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 3, calls)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	sentinel := errors.New("still broken")
	calls := 0
	_, err := retry.Do(context.Background(), 4, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	require.Equal(t, 4, calls)

	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, exhausted.Attempts)
	require.ErrorIs(t, err, sentinel, "the last cause must stay reachable")
}

func TestDo_ContextCancelBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := time.Now()
	_, err := retry.Do(ctx, 100, time.Hour, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.Less(t, time.Since(start), time.Second, "must not sit out the delay")
}

func TestDo_AttemptsFloorIsOne(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), 0, time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
