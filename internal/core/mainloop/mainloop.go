// Package mainloop runs the cooperative game loop: a single goroutine that
// drains posted tasks, fires due timers, and advances one tick at a fixed
// rate. All game-state mutation happens on this goroutine. Blocking work is
// offloaded to a small worker pool and its continuation re-enters as a fresh
// posted task on a later tick.
package mainloop

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimerFunc runs on the mainloop goroutine. Returning false removes the
// timer; true keeps a periodic timer armed.
type TimerFunc func() bool

// Timer is a handle for external cancellation. Cancellation takes effect by
// the next tick.
type Timer struct {
	seq       uint64
	fn        TimerFunc
	key       any
	next      time.Time
	period    time.Duration
	cancelled bool
}

type blockingJob struct {
	work func()
	done func()
}

type Loop struct {
	log      *zap.Logger
	tickRate time.Duration

	mu     sync.Mutex
	posted []func()
	timers []*Timer
	seq    uint64

	jobs chan blockingJob
	wg   sync.WaitGroup

	// OnTick fires once per tick after timers. Set once before Run.
	OnTick func()
}

func New(tickRate time.Duration, workers int, log *zap.Logger) *Loop {
	if workers < 1 {
		workers = 1
	}
	l := &Loop{
		log:      log,
		tickRate: tickRate,
		jobs:     make(chan blockingJob, 256),
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

func (l *Loop) worker() {
	defer l.wg.Done()
	for job := range l.jobs {
		job.work()
		if job.done != nil {
			l.Post(job.done)
		}
	}
}

// Run drives ticks until ctx is cancelled, then drains the worker pool.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(l.jobs)
			l.wg.Wait()
			return
		case now := <-ticker.C:
			l.Tick(now)
		}
	}
}

// Tick runs one mainloop iteration: posted tasks first, then due timers,
// then the per-tick callback. Exposed so tests can step the loop without
// wall-clock waits; Run is the only production caller.
func (l *Loop) Tick(now time.Time) {
	for _, fn := range l.takePosted() {
		fn()
	}

	for _, t := range l.takeDue(now) {
		keep := t.fn()
		if keep && t.period > 0 {
			l.mu.Lock()
			if !t.cancelled {
				t.next = now.Add(t.period)
				l.timers = append(l.timers, t)
			}
			l.mu.Unlock()
		}
	}

	if l.OnTick != nil {
		l.OnTick()
	}
}

func (l *Loop) takePosted() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.posted
	l.posted = nil
	return out
}

// takeDue removes and returns timers ready at now, in registration order,
// ties broken by smallest remaining delay.
func (l *Loop) takeDue(now time.Time) []*Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var due []*Timer
	rest := l.timers[:0]
	for _, t := range l.timers {
		switch {
		case t.cancelled:
		case !t.next.After(now):
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	l.timers = rest
	sort.Slice(due, func(i, j int) bool {
		if due[i].seq != due[j].seq {
			return due[i].seq < due[j].seq
		}
		return due[i].next.Before(due[j].next)
	})
	return due
}

// SetTimer registers a periodic timer (one-shot when period is zero).
// Multiple timers may share a key; ClearTimers removes all matches.
func (l *Loop) SetTimer(fn TimerFunc, initial, period time.Duration, key any) *Timer {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	t := &Timer{
		seq:    l.seq,
		fn:     fn,
		key:    key,
		next:   time.Now().Add(initial),
		period: period,
	}
	l.timers = append(l.timers, t)
	return t
}

// StopTimer cancels a single timer. Idempotent.
func (l *Loop) StopTimer(t *Timer) {
	if t == nil {
		return
	}
	l.mu.Lock()
	t.cancelled = true
	l.mu.Unlock()
}

// ClearTimers cancels every timer registered under key with the given
// callback. A nil fn matches any callback. Idempotent.
func (l *Loop) ClearTimers(fn TimerFunc, key any) {
	var want uintptr
	if fn != nil {
		want = reflect.ValueOf(fn).Pointer()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.timers {
		if t.key != key {
			continue
		}
		if fn == nil || reflect.ValueOf(t.fn).Pointer() == want {
			t.cancelled = true
		}
	}
}

// Post enqueues fn to run at the start of the next tick. Safe from any
// goroutine; this is the MPSC bridge into the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
}

// RunBlocking executes work on the worker pool and, when it returns, posts
// done back onto the mainloop. Handlers use this for persistence and other
// I/O they must not block the loop on.
func (l *Loop) RunBlocking(work func(), done func()) {
	l.jobs <- blockingJob{work: work, done: done}
}
