package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond float64
		burst     int
		wantNil   bool
		wantBurst int
	}{
		{name: "standard rate", perSecond: 100, burst: 200, wantBurst: 200},
		{name: "default burst", perSecond: 50, burst: 0, wantBurst: 50},
		{name: "fractional rate", perSecond: 0.5, burst: 0, wantBurst: 1},
		{name: "disabled", perSecond: 0, wantNil: true},
		{name: "negative", perSecond: -1, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := New(tt.perSecond, tt.burst)
			if tt.wantNil {
				assert.Nil(t, th)
				return
			}
			require.NotNil(t, th)
			assert.Equal(t, tt.wantBurst, th.limiter.Burst())
		})
	}
}

func TestAllow_Burst(t *testing.T) {
	th := New(10, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, th.Allow(), "accept %d should be within burst", i)
	}
	assert.False(t, th.Allow(), "accept beyond burst should be throttled")
}

func TestWait_Paces(t *testing.T) {
	th := New(20, 1)
	ctx := context.Background()

	require.NoError(t, th.Wait(ctx))

	start := time.Now()
	require.NoError(t, th.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWait_Cancelled(t *testing.T) {
	th := New(1, 1)
	require.True(t, th.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, th.Wait(ctx))
}

func TestNilThrottle(t *testing.T) {
	var th *AcceptThrottle

	assert.True(t, th.Allow())
	assert.NoError(t, th.Wait(context.Background()))
	assert.Zero(t, th.Delay())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, th.Wait(ctx), context.Canceled)
}

func TestDelay_DoesNotConsume(t *testing.T) {
	th := New(10, 1)

	assert.Zero(t, th.Delay())
	assert.True(t, th.Allow())
	assert.Greater(t, th.Delay(), time.Duration(0))
}
