package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDial = errors.New("dial failed")

func call(b *Breaker, success bool) error {
	_, err := Do(b, func() (string, error) {
		if success {
			return "ok", nil
		}
		return "", errDial
	})
	return err
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		settings      Settings
		calls         []bool // true = success, false = failure
		expectedState State
	}{
		{
			name:          "stays closed on successes",
			settings:      Settings{Cooldown: time.Minute},
			calls:         []bool{true, true, true},
			expectedState: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Cooldown:    time.Minute,
				ReadyToTrip: ConsecutiveFailures(3),
			},
			calls:         []bool{false, false, false},
			expectedState: StateOpen,
		},
		{
			name: "success resets the failure streak",
			settings: Settings{
				Cooldown:    time.Minute,
				ReadyToTrip: ConsecutiveFailures(2),
			},
			calls:         []bool{false, true, false},
			expectedState: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("api.example.com", tt.settings)
			for _, success := range tt.calls {
				_ = call(breaker, success)
			}
			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	breaker := New("api.example.com", Settings{
		Cooldown:    time.Minute,
		ReadyToTrip: ConsecutiveFailures(1),
	})

	require.ErrorIs(t, call(breaker, false), errDial)
	assert.ErrorIs(t, call(breaker, true), ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	breaker := New("api.example.com", Settings{
		Cooldown:    time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
	})
	breaker.now = func() time.Time { return now }

	_ = call(breaker, false)
	require.Equal(t, StateOpen, breaker.State())

	now = now.Add(2 * time.Second)
	assert.Equal(t, StateHalfOpen, breaker.State())

	require.NoError(t, call(breaker, true))
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	breaker := New("api.example.com", Settings{
		Cooldown:    time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
	})
	breaker.now = func() time.Time { return now }

	_ = call(breaker, false)
	now = now.Add(2 * time.Second)
	require.Equal(t, StateHalfOpen, breaker.State())

	_ = call(breaker, false)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	breaker := New("api.example.com", Settings{
		MaxProbes:   1,
		Cooldown:    time.Second,
		ReadyToTrip: ConsecutiveFailures(1),
	})
	breaker.now = func() time.Time { return now }

	_ = call(breaker, false)
	now = now.Add(2 * time.Second)

	require.NoError(t, breaker.Allow())
	assert.ErrorIs(t, breaker.Allow(), ErrTooManyRequests)
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	breaker := New("api.example.com", Settings{
		Cooldown:    time.Minute,
		ReadyToTrip: ConsecutiveFailures(2),
		OnStateChange: func(key string, from, to State) {
			transitions = append(transitions, key+":"+from.String()+"->"+to.String())
		},
	})

	_ = call(breaker, false)
	_ = call(breaker, false)

	assert.Equal(t, []string{"api.example.com:closed->open"}, transitions)
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("api.example.com", Settings{
		Cooldown:    time.Minute,
		ReadyToTrip: ConsecutiveFailures(10),
	})

	_ = call(breaker, true)
	_ = call(breaker, false)
	_ = call(breaker, false)

	counts := breaker.Counts()
	assert.Equal(t, uint32(3), counts.Calls)
	assert.Equal(t, uint32(1), counts.Successes)
	assert.Equal(t, uint32(2), counts.Failures)
	assert.Equal(t, uint32(2), counts.ConsecutiveFailures)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	breaker := New("api.example.com", Settings{
		Cooldown:    time.Minute,
		ReadyToTrip: ConsecutiveFailures(1),
	})

	assert.Panics(t, func() {
		_, _ = Do(breaker, func() (int, error) { panic("boom") })
	})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestGroupIsolatesKeys(t *testing.T) {
	group := NewGroup(Settings{
		Cooldown:    time.Minute,
		ReadyToTrip: ConsecutiveFailures(1),
	})

	_ = call(group.Get("a.example.com"), false)

	assert.Same(t, group.Get("a.example.com"), group.Get("a.example.com"))
	assert.Equal(t, StateOpen, group.Get("a.example.com").State())
	assert.Equal(t, StateClosed, group.Get("b.example.com").State())
	assert.Equal(t, []string{"a.example.com"}, group.Open())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
