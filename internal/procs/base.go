package procs

import (
	"sync"
	"sync/atomic"
)

// Base is the common bookkeeping every concrete processor embeds, grounded
// on original_source's CPSGS_CassProcessorBase: a processor's name, its
// group name (reported by GroupName()), its priority, its Callbacks handle,
// and the atomic terminal-status slot every processor must expose via
// Status(). Concrete processors embed Base and only implement Process,
// Cancel and ProcessEvent.
type Base struct {
	name      string
	groupName string
	priority  int
	callbacks Callbacks

	status   atomic.Int32
	cancelMu sync.Mutex
	canceled bool
}

// NewBase builds a Base. name identifies the processor instance in logs and
// trace output; groupName is the processor class name returned by
// GroupName(). The dispatcher's concurrency registry and priority formula do
// not read it: they use the Registration name and registration order.
func NewBase(name, groupName string, priority int, callbacks Callbacks) Base {
	b := Base{name: name, groupName: groupName, priority: priority, callbacks: callbacks}
	b.status.Store(int32(StatusInProgress))
	return b
}

func (b *Base) Name() string      { return b.name }
func (b *Base) GroupName() string { return b.groupName }
func (b *Base) Priority() int     { return b.priority }

func (b *Base) Status() Status { return Status(b.status.Load()) }

// setStatus transitions the processor to a terminal status exactly once; a
// second attempt (e.g. Cancel racing with a natural completion) is a no-op,
// matching spec.md's "finish signal is idempotent from the dispatcher's
// point of view" invariant applied at the source.
func (b *Base) setStatus(s Status) bool {
	return b.status.CompareAndSwap(int32(StatusInProgress), int32(s))
}

// SignalStart asks the dispatcher whether self may proceed to answer the
// request, per spec.md §4.4.2. The first processor in a group to call this
// wins Proceed; every later caller gets CancelStart.
func (b *Base) SignalStart(self Processor) StartDecision {
	return b.callbacks.SignalStartProcessing(self)
}

// Finish transitions to terminal status s (if not already terminal) and
// reports it through Callbacks exactly once. self must be the concrete
// processor embedding this Base, since Base itself doesn't implement
// Processor (it has no Process/Cancel/ProcessEvent) — the dispatcher
// identifies slots by comparing Processor values, so passing anything else
// would orphan the finish signal.
func (b *Base) Finish(self Processor, s Status) {
	if b.setStatus(s) {
		b.callbacks.SignalFinishProcessing(self)
	}
}

// RequestCancel records that Cancel() was called, so implementations can
// check CancelRequested() from their own polling/goroutine code without
// needing their own flag.
func (b *Base) RequestCancel() {
	b.cancelMu.Lock()
	b.canceled = true
	b.cancelMu.Unlock()
}

func (b *Base) CancelRequested() bool {
	b.cancelMu.Lock()
	defer b.cancelMu.Unlock()
	return b.canceled
}
