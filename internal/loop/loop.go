// Package loop runs all state mutation on a single goroutine.
//
// Work is handed to the loop with Dispatch (fire and forget) or Call (wait for the
// result). Idle events run once the dispatch queue is drained, which lets start-up work
// queued in a burst complete before anything reacts to it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// slowDispatch is the run time above which a dispatched function is reported.
const slowDispatch = 50 * time.Millisecond

// ErrStopped is returned by Call once the loop has terminated.
var ErrStopped = errors.New("loop stopped")

type idleTask struct {
	name string
	fn   func() error
}

// Loop is a single-goroutine dispatcher.
type Loop struct {
	queue  chan func() error
	ctx    context.Context
	cancel context.CancelCauseFunc

	// idle is only touched from the loop goroutine.
	idle []idleTask
}

// New creates a loop whose lifetime is bound to ctx. queueSize bounds the number of
// pending dispatches before Dispatch blocks.
func New(ctx context.Context, queueSize int) *Loop {
	ctx, cancel := context.WithCancelCause(ctx)
	return &Loop{
		queue:  make(chan func() error, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context is cancelled when the loop terminates.
func (l *Loop) Context() context.Context { return l.ctx }

// Cancel terminates the loop with err as cause.
func (l *Loop) Cancel(err error) { l.cancel(err) }

// Dispatch queues fn to run on the loop goroutine without waiting for it.
// An error returned by fn terminates the loop.
func (l *Loop) Dispatch(fn func() error) {
	select {
	case l.queue <- fn:
	case <-l.ctx.Done():
	}
}

type result[T any] struct {
	v   T
	err error
}

// Call runs fn on the loop goroutine and waits for its result. Errors returned by fn are
// handed back to the caller and do not terminate the loop. Calling it from the loop
// goroutine deadlocks.
func Call[T any](l *Loop, fn func() (T, error)) (T, error) {
	ret := make(chan result[T], 1)
	l.Dispatch(func() error {
		v, err := fn()
		ret <- result[T]{v, err}
		return nil
	})
	select {
	case res := <-ret:
		return res.v, res.err
	case <-l.ctx.Done():
		// fn may have run and cancelled the loop itself.
		select {
		case res := <-ret:
			return res.v, res.err
		default:
		}
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrStopped, context.Cause(l.ctx))
	}
}

// ScheduleTask dispatches fn after delay. The returned timer may be stopped to cancel it.
func (l *Loop) ScheduleTask(fn func() error, delay time.Duration) *time.Timer {
	return time.AfterFunc(delay, func() { l.Dispatch(fn) })
}

// OnIdle runs fn once, the next time the dispatch queue is empty. Registering a name that
// is already pending is a no-op. Must be called from the loop goroutine.
func (l *Loop) OnIdle(name string, fn func() error) {
	for _, t := range l.idle {
		if t.name == name {
			return
		}
	}
	l.idle = append(l.idle, idleTask{name: name, fn: fn})
}

func (l *Loop) run(fn func() error) error {
	start := time.Now()
	err := fn()
	if elapsed := time.Since(start); elapsed > slowDispatch {
		log.WithField("caller", "loop").WithField("elapsed", elapsed).Warn("dispatch took a long time!")
	}
	return err
}

func (l *Loop) runIdle() error {
	for len(l.idle) > 0 && len(l.queue) == 0 {
		t := l.idle[0]
		l.idle = l.idle[1:]
		if err := l.run(t.fn); err != nil {
			return fmt.Errorf("idle event %s: %w", t.name, err)
		}
	}
	return nil
}

// Run processes dispatched functions until the context ends or a function fails. It
// returns nil on plain cancellation and the failure otherwise.
func (l *Loop) Run() error {
	log.WithField("caller", "loop").Debug("started main loop")
	for {
		if err := l.runIdle(); err != nil {
			l.cancel(err)
			break
		}
		select {
		case fn := <-l.queue:
			if err := l.run(fn); err != nil {
				log.WithField("caller", "loop").WithError(err).Error("error occurred during dispatch")
				l.cancel(err)
			}
		case <-l.ctx.Done():
		}
		if l.ctx.Err() != nil {
			break
		}
	}
	cause := context.Cause(l.ctx)
	log.WithField("caller", "loop").WithField("reason", cause).Info("stopped main loop")
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}
