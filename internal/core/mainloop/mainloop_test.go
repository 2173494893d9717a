package mainloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTimersFireInRegistrationOrder(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())

	var order []string
	l.SetTimer(func() bool { order = append(order, "a"); return false }, 0, 0, nil)
	l.SetTimer(func() bool { order = append(order, "b"); return false }, 0, 0, nil)
	l.SetTimer(func() bool { order = append(order, "c"); return false }, 0, 0, nil)

	l.Tick(time.Now().Add(time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestPeriodicTimerSelfCancel(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())

	count := 0
	l.SetTimer(func() bool {
		count++
		return count < 3
	}, 0, time.Millisecond, nil)

	now := time.Now()
	for i := 0; i < 6; i++ {
		now = now.Add(time.Second)
		l.Tick(now)
	}
	assert.Equal(t, 3, count)
}

func TestClearTimersByKey(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())

	count := 0
	key := "arena:main"
	l.SetTimer(func() bool { count++; return true }, 0, time.Millisecond, key)
	l.SetTimer(func() bool { count++; return true }, 0, time.Millisecond, key)
	l.SetTimer(func() bool { count += 100; return false }, 0, 0, "other")

	l.ClearTimers(nil, key)
	l.ClearTimers(nil, key) // idempotent
	l.Tick(time.Now().Add(time.Second))
	assert.Equal(t, 100, count)
}

func TestClearTimersMatchesCallback(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())

	var aFired, bFired int
	key := "arena:main"
	tickA := func() bool { aFired++; return false }
	tickB := func() bool { bFired++; return false }
	l.SetTimer(tickA, 0, 0, key)
	l.SetTimer(tickB, 0, 0, key)

	l.ClearTimers(tickA, key)
	l.Tick(time.Now().Add(time.Second))
	assert.Zero(t, aFired)
	assert.Equal(t, 1, bFired, "same key, different callback survives")
}

func TestStopTimer(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())

	fired := false
	tm := l.SetTimer(func() bool { fired = true; return false }, 0, 0, nil)
	l.StopTimer(tm)
	l.StopTimer(tm)
	l.Tick(time.Now().Add(time.Second))
	assert.False(t, fired)
}

func TestPostedTasksRunBeforeTimers(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())

	var order []string
	l.SetTimer(func() bool { order = append(order, "timer"); return false }, 0, 0, nil)
	l.Post(func() { order = append(order, "posted") })

	l.Tick(time.Now().Add(time.Second))
	assert.Equal(t, []string{"posted", "timer"}, order)
}

func TestRunBlockingPostsContinuation(t *testing.T) {
	l := New(10*time.Millisecond, 2, zap.NewNop())

	workDone := make(chan struct{})
	var continued bool
	l.RunBlocking(
		func() { close(workDone) },
		func() { continued = true },
	)

	<-workDone
	// The continuation runs as a fresh mainloop task, never inline.
	assert.False(t, continued)
	deadline := time.Now().Add(time.Second)
	for !continued && time.Now().Before(deadline) {
		l.Tick(time.Now())
		time.Sleep(time.Millisecond)
	}
	assert.True(t, continued)
}

func TestOnTickFiresEachTick(t *testing.T) {
	l := New(10*time.Millisecond, 1, zap.NewNop())
	ticks := 0
	l.OnTick = func() { ticks++ }
	l.Tick(time.Now())
	l.Tick(time.Now())
	assert.Equal(t, 2, ticks)
}
