package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newRunner(s *recordingSleeper) Runner {
	return Runner{
		MaxAttempts: 3,
		Policies: map[Class]Policy{
			ClassTransport: DefaultBackoff(),
			ClassContent:   ImmediatePolicy{},
		},
		Sleep: s.Sleep,
	}
}

func TestBackoffPolicyDoubles(t *testing.T) {
	p := DefaultBackoff()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))

	capped := BackoffPolicy{Initial: time.Second, Multiplier: 2, Max: 3 * time.Second}
	assert.Equal(t, 3*time.Second, capped.Delay(5))
}

func TestRunnerTransportFaultsBackOff(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newRunner(s).Run(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return Transport(errors.New("upstream 503"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
}

func TestRunnerContentFaultsRetryImmediately(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newRunner(s).Run(context.Background(), func(context.Context, int) error {
		calls++
		return Content(errors.New("banned word"))
	})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 3, calls)
	assert.Empty(t, s.waits)
	assert.Equal(t, ClassContent, ClassOf(err))
}

func TestRunnerNeverWaitsAfterLastAttempt(t *testing.T) {
	s := &recordingSleeper{}
	err := newRunner(s).Run(context.Background(), func(context.Context, int) error {
		return errors.New("down")
	})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
}

func TestRunnerPermanentStops(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	err := newRunner(s).Run(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(errors.New("unauthorized"))
	})
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
}

func TestRunnerMixedFaultsUseAttemptIndex(t *testing.T) {
	s := &recordingSleeper{}
	var events []RetryEvent
	r := newRunner(s)
	r.OnRetry = func(ev RetryEvent) { events = append(events, ev) }

	err := r.Run(context.Background(), func(_ context.Context, attempt int) error {
		switch attempt {
		case 0:
			return Content(errors.New("negative"))
		case 1:
			return Transport(errors.New("timeout"))
		default:
			return nil
		}
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, s.waits)
	require.Len(t, events, 2)
	assert.Equal(t, ClassContent, events[0].Class)
	assert.Equal(t, time.Duration(0), events[0].Delay)
	assert.Equal(t, ClassTransport, events[1].Class)
}

func TestRunnerStopsWhenContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Runner{MaxAttempts: 3, Policies: map[Class]Policy{ClassTransport: DefaultBackoff()}}.
		Run(ctx, func(context.Context, int) error {
			calls++
			return errors.New("down")
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}
