package main

import (
	"context"
	"errors"
	"time"
)

var errLoopStopped = errors.New("event loop stopped")

// Loop runs closures one at a time on a single goroutine. Everything that
// touches the controller goes through it: HTTP commands, playback ticks,
// geocode completions and manifest reloads.
type Loop struct {
	work chan func()
	done chan struct{}
}

// NewLoop creates a loop; call Run to start draining it
func NewLoop() *Loop {
	return &Loop{
		work: make(chan func(), 64),
		done: make(chan struct{}),
	}
}

// Run executes posted closures until ctx is cancelled
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.work:
			fn()
		}
	}
}

// Post queues fn. It returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.work <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return errLoopStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return errLoopStopped
	}
}

// Scheduler runs fn repeatedly every d until the returned stop func is called
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// loopScheduler delivers ticks onto a Loop
type loopScheduler struct {
	loop *Loop
}

// NewLoopScheduler returns a Scheduler whose callbacks run on loop. Stop must
// be called from the loop as well; ticks queued before stop are dropped.
func NewLoopScheduler(loop *Loop) Scheduler {
	return loopScheduler{loop: loop}
}

func (s loopScheduler) Every(d time.Duration, fn func()) func() {
	ticker := time.NewTicker(d)
	quit := make(chan struct{})
	stopped := false

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				if !s.loop.Post(func() {
					if !stopped {
						fn()
					}
				}) {
					return
				}
			}
		}
	}()

	return func() {
		if stopped {
			return
		}
		stopped = true
		close(quit)
	}
}
