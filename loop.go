package willowmap

import (
	"context"
	"sync"
	"time"
)

// Loop is the single logical thread the pipeline runs on. Work reaches the
// loop through Post (safe from any goroutine) and through timers; both run
// only while Advance or Drain is executing, one function at a time.
//
// Loop time is virtual: it moves forward only by Advance, so timers and
// animations are driven by the frame clock of the host (ebiten's Update, a
// test, or a ticker).
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}

	now    time.Duration
	timers []*Timer
	seq    uint64
}

// NewLoop creates an idle loop at time zero.
func NewLoop() *Loop {
	return &Loop{notify: make(chan struct{}, 1)}
}

// Post queues fn to run on the loop. It may be called from any goroutine.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Now returns the loop's virtual time.
func (l *Loop) Now() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Pending returns the number of queued functions plus armed timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + len(l.timers)
}

// Drain runs queued functions, including ones posted while draining, until
// the queue is empty. It returns how many ran.
func (l *Loop) Drain() int {
	ran := 0
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return ran
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
		ran++
	}
}

// Advance drains the queue, then moves loop time forward by dt, firing due
// timers in deadline order and draining after each one.
func (l *Loop) Advance(dt time.Duration) int {
	ran := l.Drain()

	l.mu.Lock()
	target := l.now
	if dt > 0 {
		target += dt
	}
	l.mu.Unlock()

	for {
		l.mu.Lock()
		t := l.nextDue(target)
		if t == nil {
			l.now = target
			l.mu.Unlock()
			break
		}
		l.now = t.deadline
		l.disarm(t)
		fn := t.fn
		l.mu.Unlock()

		fn()
		ran++
		ran += l.Drain()
	}
	return ran + l.Drain()
}

// Wait blocks until something is posted or ctx is done.
func (l *Loop) Wait(ctx context.Context) error {
	l.mu.Lock()
	queued := len(l.queue) > 0
	l.mu.Unlock()
	if queued {
		return nil
	}
	select {
	case <-l.notify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextDue returns the armed timer with the earliest deadline not after
// limit. Ties fire in arming order. Caller holds l.mu.
func (l *Loop) nextDue(limit time.Duration) *Timer {
	var best *Timer
	for _, t := range l.timers {
		if t.deadline > limit {
			continue
		}
		if best == nil || t.deadline < best.deadline || (t.deadline == best.deadline && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

// disarm removes t from the armed set. Caller holds l.mu.
func (l *Loop) disarm(t *Timer) {
	for i, o := range l.timers {
		if o == t {
			copy(l.timers[i:], l.timers[i+1:])
			l.timers[len(l.timers)-1] = nil
			l.timers = l.timers[:len(l.timers)-1]
			break
		}
	}
	t.armed = false
}

// Timer is a one-shot callback on loop time.
type Timer struct {
	loop     *Loop
	fn       func()
	deadline time.Duration
	seq      uint64
	armed    bool
}

// AfterFunc arms a timer that runs fn on the loop once d of loop time has
// passed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, fn: fn}
	t.Reset(d)
	return t
}

// Stop disarms the timer. It reports whether the timer was armed.
func (t *Timer) Stop() bool {
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	was := t.armed
	if was {
		l.disarm(t)
	}
	return was
}

// Reset re-arms the timer to fire d after the current loop time, replacing
// any earlier deadline.
func (t *Timer) Reset(d time.Duration) {
	if d < 0 {
		d = 0
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	t.seq = l.seq
	t.deadline = l.now + d
	if !t.armed {
		t.armed = true
		l.timers = append(l.timers, t)
	}
}

// Armed reports whether the timer is waiting to fire.
func (t *Timer) Armed() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	return t.armed
}
