package cron

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunner_AddJobRejectsBadSpec(t *testing.T) {
	r := NewRunner(Config{Location: time.UTC}, zap.NewNop())
	err := r.AddJob("broken", "every now and then", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Empty(t, r.ListJobs())
}

func TestRunner_RunOnStart(t *testing.T) {
	r := NewRunner(Config{Location: time.UTC, RunOnStart: true}, zap.NewNop())
	var runs atomic.Int32
	require.NoError(t, r.AddJob("day-check", "@every 1h", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Equal(t, int32(1), runs.Load())
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start(), "second start is refused")

	jobs := r.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "day-check", jobs[0].Name)
	assert.Equal(t, "@every 1h", jobs[0].Spec)
	assert.False(t, jobs[0].NextRun.IsZero())
}

func TestRunner_RunNow(t *testing.T) {
	r := NewRunner(Config{}, zap.NewNop())
	require.NoError(t, r.AddJob("fails", "@daily", func(context.Context) error {
		return fmt.Errorf("boom")
	}))
	require.NoError(t, r.AddJob("panics", "@daily", func(context.Context) error {
		panic("bad job")
	}))

	assert.EqualError(t, r.RunNow("fails"), "boom")
	assert.ErrorContains(t, r.RunNow("panics"), "panicked")
	assert.ErrorContains(t, r.RunNow("missing"), "unknown job")
}

func TestRunner_StopCancelsJobContext(t *testing.T) {
	r := NewRunner(Config{Location: time.UTC}, zap.NewNop())
	var ctxSeen context.Context
	require.NoError(t, r.AddJob("ctx", "@daily", func(ctx context.Context) error {
		ctxSeen = ctx
		return nil
	}))
	require.NoError(t, r.Start())
	require.NoError(t, r.RunNow("ctx"))

	r.Stop()
	r.Stop()
	assert.False(t, r.IsRunning())
	require.NotNil(t, ctxSeen)
	assert.ErrorIs(t, ctxSeen.Err(), context.Canceled)
}

func TestRunner_FiresOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the scheduler")
	}
	r := NewRunner(Config{Location: time.UTC}, zap.NewNop())
	fired := make(chan struct{}, 4)
	require.NoError(t, r.AddJob("tick", "@every 1s", func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	require.NoError(t, r.Start())
	defer r.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}
