package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream failed")

func fail(b *Breaker) { _, _ = Do(b, func() (string, error) { return "", errUpstream }) }

func succeed(t *testing.T, b *Breaker) {
	t.Helper()
	v, err := Do(b, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := New("resolver", Settings{Threshold: 3})
	for i := 0; i < 10; i++ {
		succeed(t, b)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	b := New("resolver", Settings{Threshold: 3, Cooldown: time.Minute})

	fail(b)
	fail(b)
	assert.Equal(t, StateClosed, b.State())
	fail(b)
	assert.Equal(t, StateOpen, b.State())

	_, err := Do(b, func() (string, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	b := New("resolver", Settings{Threshold: 3, Cooldown: time.Minute})

	fail(b)
	fail(b)
	succeed(t, b)
	fail(b)
	fail(b)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New("resolver", Settings{Threshold: 2, Cooldown: time.Minute, Probes: 2})
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }

	fail(b)
	fail(b)
	require.Equal(t, StateOpen, b.State())

	clock = clock.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	succeed(t, b)
	assert.Equal(t, StateHalfOpen, b.State())
	succeed(t, b)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("resolver", Settings{Threshold: 1, Cooldown: time.Minute})
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }

	fail(b)
	clock = clock.Add(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	fail(b)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	b := New("resolver", Settings{Threshold: 1, Cooldown: time.Minute, Probes: 1})
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }

	fail(b)
	clock = clock.Add(time.Minute)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Allow()) // first probe admitted
	assert.ErrorIs(t, b.Allow(), ErrProbeLimit)
	b.Record(true)
}

func TestBreakerReportsTransitions(t *testing.T) {
	var transitions []string
	b := New("resolver", Settings{
		Threshold: 1,
		Cooldown:  time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }

	fail(b)
	clock = clock.Add(time.Minute)
	_ = b.State()
	succeed(t, b)

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}
