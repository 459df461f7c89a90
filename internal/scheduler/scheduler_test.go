package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New(context.Background(), "not a cron spec", func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid refresh schedule")

	_, err = New(context.Background(), "61 * * * *", func(context.Context) {})
	assert.Error(t, err)
}

func TestSchedulerDoesNotFireAtStartup(t *testing.T) {
	var fired atomic.Int32
	s, err := New(context.Background(), "* * * * *", func(context.Context) {
		fired.Add(1)
	})
	require.NoError(t, err)

	s.Start()
	s.Stop()
	assert.Equal(t, int32(0), fired.Load(), "first activation waits for the schedule")
}

func TestStopWaitsForRunningJob(t *testing.T) {
	done := make(chan struct{})
	s, err := New(context.Background(), "58 * * * *", func(context.Context) {
		close(done)
	})
	require.NoError(t, err)

	s.Start()
	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), time.Second, "stop with no running job returns promptly")

	select {
	case <-done:
		t.Fatal("job must not have fired")
	default:
	}
}
