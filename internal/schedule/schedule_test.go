package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr     string
		interval time.Duration
		wantErr  bool
	}{
		{expr: "*/5 * * * *", interval: 5 * time.Minute},
		{expr: "0 * * * *", interval: time.Hour},
		{expr: "@hourly", interval: time.Hour},
		{expr: "@every 90s", interval: 90 * time.Second},
		{expr: "", wantErr: true},
		{expr: "* * * * * *", wantErr: true},
		{expr: "61 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseCron(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.interval, got)
		})
	}
}

func TestSpec_Validate(t *testing.T) {
	assert.NoError(t, Spec{Cron: "*/5 * * * *"}.Validate())
	assert.NoError(t, Spec{Every: time.Minute}.Validate())
	assert.Error(t, Spec{}.Validate())
	assert.Error(t, Spec{Cron: "@hourly", Every: time.Minute}.Validate())
	assert.Error(t, Spec{Every: -time.Second}.Validate())
	assert.Error(t, Spec{Cron: "bogus"}.Validate())
}

// TestScheduler_RunsAndStops verifies ticks fire, never overlap and Run
// returns after cancellation.
func TestScheduler_RunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks, running, overlaps atomic.Int32
	tick := func(context.Context) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		ticks.Add(1)
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
	}

	s, err := New(ctx, Spec{Every: 10 * time.Millisecond, Immediately: true}, tick, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Zero(t, overlaps.Load())
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(context.Background(), Spec{Cron: "nope"}, func(context.Context) {}, nil)
	assert.Error(t, err)
}
