package discovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsAfterDelay(t *testing.T) {
	s, err := NewScheduler(2, 20*time.Millisecond, time.Minute)
	require.NoError(t, err)
	defer s.Close(time.Second)

	done := make(chan time.Time, 1)
	scheduled := time.Now()
	ok, err := s.Schedule("k", func(context.Context) error {
		done <- time.Now()
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case ran := <-done:
		assert.GreaterOrEqual(t, ran.Sub(scheduled), 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func TestSchedulerDedupWithinTTL(t *testing.T) {
	s, err := NewScheduler(1, 0, time.Hour)
	require.NoError(t, err)
	defer s.Close(time.Second)

	clock := time.Now()
	s.now = func() time.Time { return clock }

	var runs atomic.Int32
	task := func(context.Context) error { runs.Add(1); return nil }

	ok, _ := s.Schedule("chat|UC1", task)
	assert.True(t, ok)
	ok, _ = s.Schedule("chat|UC1", task)
	assert.False(t, ok, "same key within ttl is dropped")
	ok, _ = s.Schedule("chat|UC2", task)
	assert.True(t, ok, "other keys unaffected")

	clock = clock.Add(time.Hour)
	ok, _ = s.Schedule("chat|UC1", task)
	assert.True(t, ok, "key accepted again after ttl")

	assert.Eventually(t, func() bool { return runs.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerCloseCancelsWaiting(t *testing.T) {
	s, err := NewScheduler(1, time.Hour, time.Minute)
	require.NoError(t, err)

	var ran atomic.Bool
	ok, err := s.Schedule("k", func(context.Context) error { ran.Store(true); return nil })
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.Close(time.Second))
	assert.False(t, ran.Load())
	assert.Zero(t, s.Pending())

	_, err = s.Schedule("k2", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	s, err := NewScheduler(1, 0, 0)
	require.NoError(t, err)
	defer s.Close(time.Second)

	_, _ = s.Schedule("a", func(context.Context) error { panic("bad task") })
	done := make(chan struct{})
	_, _ = s.Schedule("b", func(context.Context) error { close(done); return nil })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped after panic")
	}
}
