package loop

import (
	"context"
	"testing"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startLoop(t *testing.T, c clock.Clock) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(c, zap.NewNop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	return l, cancel
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l, cancel := startLoop(t, clock.NewRealClock())
	defer cancel()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}

	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_RecoversFromPanics(t *testing.T) {
	l, cancel := startLoop(t, clock.NewRealClock())
	defer cancel()

	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_CallLater(t *testing.T) {
	mock := clock.NewMockClock(time.Now())
	l, cancel := startLoop(t, mock)
	defer cancel()

	fired := make(chan struct{}, 1)
	require.NoError(t, l.Call(context.Background(), func() {
		l.CallLater(5*time.Second, func() { fired <- struct{}{} })
	}))

	mock.Advance(5 * time.Second)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("delayed call did not run")
	}
}

func TestLoop_CancelledCallNeverRuns(t *testing.T) {
	mock := clock.NewMockClock(time.Now())
	l, cancel := startLoop(t, mock)
	defer cancel()

	fired := false
	var h clock.Handle
	require.NoError(t, l.Call(context.Background(), func() {
		h = l.CallLater(time.Second, func() { fired = true })
	}))

	// The timer fires and posts the callback, but the cancel lands first.
	require.NoError(t, l.Call(context.Background(), func() {
		mock.Advance(time.Second)
		h.Cancel()
		h.Cancel()
	}))
	require.NoError(t, l.Call(context.Background(), func() {}))

	assert.False(t, fired)
}

func TestInline_RunsImmediately(t *testing.T) {
	ran := false
	Inline{}.Post(func() { ran = true })
	assert.True(t, ran)
}

func TestGo_RunsOnAnotherGoroutine(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	Go{}.Post(func() {
		<-release
		close(done)
	})

	// Post returned while the task is still blocked.
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestLoop_CallAfterStop(t *testing.T) {
	l := New(clock.NewRealClock(), zap.NewNop(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	err := l.Call(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrStopped)
}
