// Package looprt implements the Loop Binder: a per-connection, single
// goroutine loop that lets any other goroutine schedule a callback to run on
// it safely.
//
// It is a deliberately small cousin of github.com/joeycumines/go-eventloop's
// Loop: instead of multiplexing file descriptors and microtasks for a JS
// runtime, a looprt.Loop only ever has to run two kinds of work for the
// dispatcher: postponed callbacks (Submit/SubmitForRequest) and request
// deadline timers (ScheduleTimer). The queueing, wakeup and shutdown
// discipline below follows the same shape as the event loop's Submit/Close,
// trimmed of the I/O poller and fast-path machinery that package needs and
// this one does not.
package looprt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a callback postponed onto a Loop.
type Task = func()

// LivenessChecker answers whether a request's processor group is still
// alive. SubmitForRequest consults it immediately before running a task, so
// a task for an already-retired group is dropped instead of firing.
type LivenessChecker interface {
	IsGroupAlive(requestID uint64) bool
}

type loopState int32

const (
	stateRunning loopState = iota
	stateTerminating
	stateTerminated
)

var (
	// ErrLoopTerminated is returned by Submit/SubmitForRequest/ScheduleTimer
	// once the loop has fully stopped.
	ErrLoopTerminated = errors.New("looprt: loop has been terminated")
)

type queuedTask struct {
	fn        Task
	forReq    bool
	requestID uint64
}

// Loop is a single-goroutine event loop bound to one connection/worker. Its
// Run method must be driven by exactly one goroutine; Submit/SubmitForRequest
// /ScheduleTimer/Close may be called from any goroutine.
type Loop struct {
	state atomic.Int32

	mu    sync.Mutex
	queue []queuedTask

	wake chan struct{}
	done chan struct{}

	closeOnce sync.Once

	liveness LivenessChecker

	droppedCallbacks atomic.Uint64
}

// New creates a Loop. liveness may be nil if SubmitForRequest is never used
// on this loop (e.g. a loop not bound to the dispatcher).
func New(liveness LivenessChecker) *Loop {
	return &Loop{
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		liveness: liveness,
	}
}

func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues fn to run exactly once on the loop goroutine, before the
// loop next blocks. No ordering is guaranteed across different callers; FIFO
// within one caller.
func (l *Loop) Submit(fn Task) error {
	if loopState(l.state.Load()) == stateTerminated {
		return ErrLoopTerminated
	}
	l.mu.Lock()
	l.queue = append(l.queue, queuedTask{fn: fn})
	l.mu.Unlock()
	l.wakeup()
	return nil
}

// SubmitForRequest enqueues fn to run on the loop goroutine, but only if
// requestID's processor group is still alive at the moment the loop gets
// around to it. This is postpone_invoke_for_request from spec.md §4.1: it
// replaces what would otherwise need to be a shared-ownership graph between
// processors, loops and processor groups.
func (l *Loop) SubmitForRequest(requestID uint64, fn Task) error {
	if loopState(l.state.Load()) == stateTerminated {
		return ErrLoopTerminated
	}
	l.mu.Lock()
	l.queue = append(l.queue, queuedTask{fn: fn, forReq: true, requestID: requestID})
	l.mu.Unlock()
	l.wakeup()
	return nil
}

// DroppedCallbacks returns how many SubmitForRequest callbacks were dropped
// because their group was already gone by the time the loop observed them.
func (l *Loop) DroppedCallbacks() uint64 {
	return l.droppedCallbacks.Load()
}

// TimerHandle controls a single timer scheduled via ScheduleTimer. It
// mirrors SProcessorGroup's StartRequestTimer/RestartTimer/StopRequestTimer:
// a timer may be reset any number of times (the rolling deadline) and is
// stopped exactly once.
type TimerHandle struct {
	loop    *Loop
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fn      func()
}

// ScheduleTimer arms a one-shot timer that, on firing, postpones fn onto the
// loop (never calls fn directly from the timer's own goroutine).
func (l *Loop) ScheduleTimer(d time.Duration, fn func()) (*TimerHandle, error) {
	if loopState(l.state.Load()) == stateTerminated {
		return nil, ErrLoopTerminated
	}
	h := &TimerHandle{loop: l, fn: fn}
	h.timer = time.AfterFunc(d, h.fire)
	return h, nil
}

func (h *TimerHandle) fire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	_ = h.loop.Submit(h.fn)
}

// Reset restarts the timer for the remainder of the rolling deadline.
func (h *TimerHandle) Reset(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.timer.Reset(d)
}

// Stop halts the timer. Idempotent. Matches StopRequestTimer: the close is
// synchronous from the caller's point of view (no further fire is possible
// after Stop returns), unlike libuv's deferred uv_close callback — Go's
// time.Timer has no equivalent handle-closing step.
func (h *TimerHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.timer.Stop()
}

// Run drains postponed callbacks until the context is canceled or Close is
// called. It must be invoked by exactly one goroutine per Loop — the
// "worker thread" in spec.md's terms.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.drain()

		select {
		case <-ctx.Done():
			_ = l.Close()
			return ctx.Err()
		case <-l.done:
			return nil
		case <-l.wake:
		}
	}
}

func (l *Loop) drain() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, t := range batch {
		if t.forReq && l.liveness != nil && !l.liveness.IsGroupAlive(t.requestID) {
			l.droppedCallbacks.Add(1)
			continue
		}
		t.fn()
	}
}

// Close stops accepting new meaningful work and unblocks Run. Safe to call
// more than once; only the first call has effect. Matches unregister():
// callable exactly once per binder before loop teardown, from spec.md §4.1.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.state.Store(int32(stateTerminating))
		// One more drain so callbacks queued just before Close still run.
		l.drain()
		l.state.Store(int32(stateTerminated))
		close(l.done)
	})
	return nil
}
