package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus/smartacus/internal/pipeline"
)

type fakeTrigger struct {
	starts []pipeline.Options
	busy   bool
}

func (f *fakeTrigger) StartRun(opts pipeline.Options) (string, bool) {
	if f.busy {
		return "", false
	}
	f.starts = append(f.starts, opts)
	return "run-sched", true
}

func TestNewRejectsBadExpression(t *testing.T) {
	_, err := New("not a cron line", &fakeTrigger{}, pipeline.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")
}

func TestTickStartsRun(t *testing.T) {
	trig := &fakeTrigger{}
	s, err := New("0 6 * * *", trig, pipeline.Options{SkipDiscovery: true})
	require.NoError(t, err)

	s.tick()

	require.Len(t, trig.starts, 1)
	assert.True(t, trig.starts[0].SkipDiscovery)

	ticks, skipped, last := s.Stats()
	assert.Equal(t, 1, ticks)
	assert.Equal(t, 0, skipped)
	assert.False(t, last.IsZero())
}

func TestTickSkipsWhileRunInFlight(t *testing.T) {
	trig := &fakeTrigger{busy: true}
	s, err := New("0 6 * * *", trig, pipeline.Options{})
	require.NoError(t, err)

	s.tick()
	s.tick()

	assert.Empty(t, trig.starts)
	ticks, skipped, _ := s.Stats()
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 2, skipped)
}

func TestStartReturnsOnCancel(t *testing.T) {
	s, err := New("0 6 * * *", &fakeTrigger{}, pipeline.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
