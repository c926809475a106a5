package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNop() *zap.Logger { return zap.NewNop() }

func counter(n *int32) Task {
	return func(context.Context) error {
		atomic.AddInt32(n, 1)
		return nil
	}
}

func TestEvery_Fires(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.Every("tick", 20*time.Millisecond, counter(&count))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestEvery_Replaces(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count1, count2 int32
	s.Every("task", 20*time.Millisecond, counter(&count1))
	time.Sleep(30 * time.Millisecond)
	s.Every("task", 20*time.Millisecond, counter(&count2))
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old task must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
	assert.Len(t, s.Tasks(), 1)
}

func TestTrigger_RunsManualTask(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.Every("manual", 0, counter(&count))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&count), "interval 0 never fires on its own")

	require.NoError(t, s.Trigger("manual"))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Trigger("nope"), ErrUnknownTask)
}

func TestRemove(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.Every("task", 20*time.Millisecond, counter(&count))
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	s.Remove("task")
	snap := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&count))
	assert.Empty(t, s.Tasks())
}

func TestTasks_RecordsFailuresAndPanics(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.Every("fails", 0, func(context.Context) error { return errors.New("disk full") })
	s.Every("panics", 0, func(context.Context) error { panic("boom") })
	require.NoError(t, s.Trigger("fails"))
	require.NoError(t, s.Trigger("panics"))

	assert.Eventually(t, func() bool {
		for _, ti := range s.Tasks() {
			if ti.Runs == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "fails", tasks[0].Name)
	assert.Equal(t, 1, tasks[0].Failures)
	assert.Equal(t, "disk full", tasks[0].LastErr)
	assert.Equal(t, "panics", tasks[1].Name)
	assert.Equal(t, 1, tasks[1].Failures)
}

func TestStop_WaitsAndCancels(t *testing.T) {
	s := New(newNop())

	started := make(chan struct{})
	var sawCancel atomic.Bool
	s.Every("slow", 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	})
	require.NoError(t, s.Trigger("slow"))
	<-started

	s.Stop()
	assert.True(t, sawCancel.Load())

	var count int32
	s.Every("late", 10*time.Millisecond, counter(&count))
	assert.Empty(t, s.Tasks(), "no tasks are accepted after Stop")
	s.Stop()
}
