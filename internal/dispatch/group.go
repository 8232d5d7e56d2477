package dispatch

import (
	"time"

	"github.com/ncbi/pseqgw-dispatch/internal/looprt"
	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

// DispatchStatus is the dispatcher's own view of a processor slot. It is
// monotonic: Up -> Canceled -> Finished, or Up -> Finished directly; never
// backwards.
type DispatchStatus int

const (
	StatusUp DispatchStatus = iota
	StatusCanceled
	StatusFinished
)

func (s DispatchStatus) String() string {
	switch s {
	case StatusUp:
		return "Up"
	case StatusCanceled:
		return "Canceled"
	case StatusFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// slot is one processor instance within a group, plus the dispatcher's
// bookkeeping about it.
type slot struct {
	proc           procs.Processor
	classIndex     int
	dispatchStatus DispatchStatus
	finishStatus   procs.Status

	doneStatusRegistered    bool
	performanceRegistered   bool
	lastReportedTraceStatus procs.Status
}

// group is a live request's processor group: every slot racing to answer
// it, plus the request's deadline timer and the flags that together decide
// when it is safe to delete.
type group struct {
	requestID      uint64
	reply          *reply.Reply
	startTimestamp time.Time

	// Everything below is guarded by the owning bucket's mutex, not a lock of
	// its own: a request's group never moves bucket, so one mutex per bucket
	// is sufficient and avoids a lock-ordering hazard between the two.
	slots []*slot
	timer *looprt.TimerHandle

	timerActive bool
	timerClosed bool

	flushedAndFinished    bool
	allProcessorsFinished bool
	httpFinished          bool
	lowLevelClose         bool
	stopPrinted           bool

	startedProcessor procs.Processor
}

// isSafeToDeleteLocked implements spec.md §3's predicate exactly:
//
//	timer_closed && ((flushed_and_finished && all_processors_finished && http_finished)
//	                 || (low_level_close && all_processors_finished))
//
// Caller must hold the owning bucket's mutex.
func (g *group) isSafeToDeleteLocked() bool {
	if !g.timerClosed {
		return false
	}
	normal := g.flushedAndFinished && g.allProcessorsFinished && g.httpFinished
	abrupt := g.lowLevelClose && g.allProcessorsFinished
	return normal || abrupt
}

// recomputeAllFinishedLocked refreshes allProcessorsFinished from the slots.
// Caller must hold the owning bucket's mutex.
func (g *group) recomputeAllFinishedLocked() {
	for _, s := range g.slots {
		if s.dispatchStatus != StatusFinished {
			g.allProcessorsFinished = false
			return
		}
	}
	g.allProcessorsFinished = true
}

func (g *group) findSlotLocked(p procs.Processor) *slot {
	for _, s := range g.slots {
		if s.proc == p {
			return s
		}
	}
	return nil
}
