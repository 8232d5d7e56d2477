// Package dispatch is the core of the gateway: it races competing processors
// for a single request, enforces per-class concurrency, drives the rolling
// deadline, and guarantees exactly-once completion accounting even under
// racing finishes and dropped connections. See SPEC_FULL.md §3-§4 for the
// full data model and operation list; this file implements them in the same
// shape as original_source's psgs_dispatcher.cpp, adapted to Go's
// goroutine/channel idiom instead of libuv callbacks.
package dispatch

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ncbi/pseqgw-dispatch/internal/gwlog"
	"github.com/ncbi/pseqgw-dispatch/internal/gwstat"
	"github.com/ncbi/pseqgw-dispatch/internal/looprt"
	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
	"github.com/ncbi/pseqgw-dispatch/internal/throttle"
)

// ProcBuckets partitions the live-group map to reduce lock contention, per
// spec.md §4.4.1 "Bucketing".
const ProcBuckets = 100

// Source distinguishes a processor's authoritative self-report from the
// framework merely having observed a non-InProgress status.
type Source int

const (
	SourceProcessor Source = iota
	SourceFramework
)

func (s Source) String() string {
	if s == SourceProcessor {
		return "processor"
	}
	return "framework"
}

type bucket struct {
	mu     sync.Mutex
	groups map[uint64]*group
}

// Dispatcher is the process-wide (or test-wide) singleton named in spec.md
// §9's design notes — but threaded explicitly through the caller rather than
// held as a package-level global.
type Dispatcher struct {
	reg      registry
	buckets  [ProcBuckets]bucket
	throttle []*throttle.Limiter // parallel to reg.classes

	requestTimeout time.Duration
	stats          *gwstat.Counters
	log            *gwlog.Logger
}

// New constructs a Dispatcher. requestTimeout is the one configuration value
// the core itself reads (spec.md §6).
func New(requestTimeout time.Duration, stats *gwstat.Counters, log *gwlog.Logger) *Dispatcher {
	d := &Dispatcher{
		reg:            registry{byName: make(map[string]int)},
		requestTimeout: requestTimeout,
		stats:          stats,
		log:            log,
	}
	for i := range d.buckets {
		d.buckets[i].groups = make(map[uint64]*group)
	}
	return d
}

func (d *Dispatcher) bucketFor(requestID uint64) *bucket {
	return &d.buckets[requestID%ProcBuckets]
}

// AddProcessor registers a processor class. Append-only: it must be called
// before any DispatchRequest. Fatal configuration errors (duplicate name,
// registry exhausted) are returned rather than exiting the process, so the
// caller (cmd/pseqgw) decides how to fail startup.
func (d *Dispatcher) AddProcessor(reg Registration) error {
	idx, err := d.reg.add(reg)
	if err != nil {
		return err
	}
	var lim *throttle.Limiter
	if reg.ThrottleByIP {
		rates := make(map[time.Duration]int, len(reg.IPRates))
		for ns, n := range reg.IPRates {
			rates[time.Duration(ns)] = n
		}
		lim = throttle.New(rates)
	}
	for len(d.throttle) <= idx {
		d.throttle = append(d.throttle, nil)
	}
	d.throttle[idx] = lim
	return nil
}

// ConcurrentCounters exposes per-class current in-flight counts (spec.md §6
// observable counters).
func (d *Dispatcher) ConcurrentCounters() map[string]uint32 {
	return d.reg.concurrentCounters()
}

// IsGroupAlive answers the Loop Binder's liveness question for
// postpone_invoke_for_request (spec.md §4.1).
func (d *Dispatcher) IsGroupAlive(requestID uint64) bool {
	b := d.bucketFor(requestID)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.groups[requestID]
	return ok
}

// callbackBinder is the narrow handle given to each processor, implementing
// procs.Callbacks. It closes over only the request id and the owning loop,
// never the group itself — see SPEC_FULL.md's design notes on acyclic
// ownership.
type callbackBinder struct {
	d         *Dispatcher
	requestID uint64
	loop      *looprt.Loop
}

func (c *callbackBinder) SignalStartProcessing(p procs.Processor) procs.StartDecision {
	return c.d.signalStartProcessing(c.requestID, p)
}

func (c *callbackBinder) SignalFinishProcessing(p procs.Processor) {
	c.d.signalFinishProcessing(c.requestID, p, SourceProcessor, c.loop)
}

// Callbacks returns the procs.Callbacks handle a Factory should hand to the
// processor it constructs for ctx.
func (d *Dispatcher) Callbacks(ctx *ProcessingContext) procs.Callbacks {
	return &callbackBinder{d: d, requestID: ctx.RequestID, loop: ctx.Loop}
}

// DispatchRequest is §4.4.1: build a processor group for ctx, trying every
// registered class in descending priority order, and arm the deadline timer.
func (d *Dispatcher) DispatchRequest(ctx *ProcessingContext) ([]procs.Processor, error) {
	n := d.reg.count()
	var produced []procs.Processor
	g := &group{
		requestID:      ctx.RequestID,
		reply:          ctx.Reply,
		startTimestamp: ctx.StartTimestamp,
		timerClosed:    true,
	}

	for i, rc := range d.reg.classes {
		priority := Priority(n - i)

		if !rc.counter.tryAcquire() {
			rc.rejected.Add(1)
			d.trace(ctx, fmt.Sprintf("Processor class %q skipped: concurrency limit %d reached", rc.reg.Name, rc.reg.Limit))
			continue
		}
		if i < len(d.throttle) && d.throttle[i] != nil && !d.throttle[i].Allow(ctx.ClientIP) {
			rc.counter.release()
			rc.rejected.Add(1)
			d.trace(ctx, fmt.Sprintf("Processor class %q skipped: IP throttle exceeded for %s", rc.reg.Name, ctx.ClientIP))
			continue
		}

		d.trace(ctx, fmt.Sprintf("Try to create processor: %s", rc.reg.Name))
		p, ok := rc.reg.Factory(ctx)
		if !ok || p == nil {
			rc.counter.release()
			d.trace(ctx, fmt.Sprintf("Processor %q declined the request", rc.reg.Name))
			continue
		}

		rc.acquired.Add(1)
		produced = append(produced, p)
		g.slots = append(g.slots, &slot{
			proc:           p,
			classIndex:     i,
			dispatchStatus: StatusUp,
			finishStatus:   procs.StatusInProgress,
		})
		d.trace(ctx, fmt.Sprintf("Processor %s created (priority %d)", p.Name(), priority))
	}

	if len(produced) == 0 {
		msg := "No matching processors found or processor limits exceeded to serve the request"
		ctx.Reply.PrepareReplyMessage(msg, http.StatusNotFound, 0, reply.SeverityError)
		ctx.Reply.PrepareReplyCompletion(http.StatusNotFound, ctx.StartTimestamp)
		ctx.Reply.Flush(reply.SendAndFinish)
		ctx.Reply.SetCompleted()
		d.printRequestStop(http.StatusNotFound)
		if d.stats != nil {
			d.stats.RequestsRejectedNoProcessor.Add(1)
		}
		return nil, nil
	}

	timer, err := ctx.Loop.ScheduleTimer(d.requestTimeout, func() { d.OnRequestTimer(ctx.RequestID) })
	if err != nil {
		// Loop already gone: undo the acquisitions we just made and return
		// the error, rather than leaking a group nobody will ever retire.
		for _, s := range g.slots {
			d.reg.classes[s.classIndex].counter.release()
		}
		return nil, err
	}
	g.timer = timer
	g.timerActive = true
	g.timerClosed = false

	b := d.bucketFor(ctx.RequestID)
	b.mu.Lock()
	b.groups[ctx.RequestID] = g
	b.mu.Unlock()

	if d.stats != nil {
		d.stats.GroupCreated()
	}

	return produced, nil
}

// signalStartProcessing is §4.4.2.
func (d *Dispatcher) signalStartProcessing(requestID uint64, processor procs.Processor) procs.StartDecision {
	b := d.bucketFor(requestID)

	var toCancel []procs.Processor

	b.mu.Lock()
	g, ok := b.groups[requestID]
	if !ok {
		b.mu.Unlock()
		return procs.CancelStart
	}

	self := g.findSlotLocked(processor)
	if self != nil && self.dispatchStatus == StatusCanceled {
		b.mu.Unlock()
		return procs.CancelStart
	}

	for _, s := range g.slots {
		if s.proc == processor {
			continue
		}
		if s.dispatchStatus == StatusUp {
			s.dispatchStatus = StatusCanceled
			toCancel = append(toCancel, s.proc)
		}
	}
	if g.startedProcessor == nil {
		g.startedProcessor = processor
	}
	b.mu.Unlock()

	// Cancel losers outside the lock: spec.md §5's locking discipline.
	for _, p := range toCancel {
		safeCancel(p, d.log)
	}

	return procs.Proceed
}

// signalFinishProcessing is §4.4.3, the heart of the three-way finish
// protocol. loop is the binder to post erase_group onto once the group is
// fully finished; it may be nil for a Framework-sourced observation, which
// never triggers deletion on its own.
func (d *Dispatcher) signalFinishProcessing(requestID uint64, processor procs.Processor, source Source, loop *looprt.Loop) {
	b := d.bucketFor(requestID)

	b.mu.Lock()
	g, ok := b.groups[requestID]
	if !ok {
		b.mu.Unlock()
		return
	}

	status := processor.Status()
	if status == procs.StatusInProgress {
		// A bug upstream: reporting "finished" while still in progress.
		d.traceGroup(g, fmt.Sprintf("Ignoring finish signal (source=%s) from %s: status is still InProgress", source, processor.Name()))
		b.mu.Unlock()
		return
	}

	best := status
	finishedCount := 0
	finishingCount := 0

	for _, s := range g.slots {
		if s.proc == processor {
			if source == SourceFramework {
				switch s.dispatchStatus {
				case StatusFinished:
					finishedCount++
				case StatusUp:
					finishingCount++
				case StatusCanceled:
					finishingCount++
				}
			} else {
				finishedCount++
				switch s.dispatchStatus {
				case StatusFinished:
					// Second self-report: benign, trace only.
					d.traceGroup(g, fmt.Sprintf("Ignoring second finish report from %s", processor.Name()))
				case StatusUp, StatusCanceled:
					s.finishStatus = status
					s.dispatchStatus = StatusFinished
					d.sendProgressMessage(g, s, processor)
				}
				best = procs.Best(best, s.finishStatus)
			}
			continue
		}

		switch s.dispatchStatus {
		case StatusFinished:
			best = procs.Best(best, s.finishStatus)
			finishedCount++
		case StatusUp:
			if s.proc.Status() != procs.StatusInProgress {
				finishingCount++
			}
		case StatusCanceled:
			finishingCount++
		}
	}

	total := len(g.slots)
	preFinished := finishedCount+finishingCount == total
	fullyFinished := finishedCount == total

	// A connection that died before finish must never flush, per spec.md
	// §4.4.5/§8 scenario 5: there is nobody left to write to, and the
	// request-stop accounting below belongs to the flush path only.
	if preFinished && !g.lowLevelClose {
		if !g.reply.IsFinished() && g.reply.IsOutputReady() {
			httpStatus := mapFinishToHTTPStatus(best)
			g.reply.PrepareReplyCompletion(httpStatus, g.startTimestamp)
			g.flushedAndFinished = true
			g.reply.Flush(reply.SendAndFinish)
			d.printRequestStop(httpStatus)
		} else if !g.reply.IsOutputReady() {
			// No processor ever produced output: write the mapped status as
			// the whole response, exactly like the "no matching processor"
			// path.
			httpStatus := mapFinishToHTTPStatus(best)
			g.reply.PrepareReplyMessage("No data produced by any processor", httpStatus, 0, reply.SeverityWarning)
			g.reply.PrepareReplyCompletion(httpStatus, g.startTimestamp)
			g.flushedAndFinished = true
			g.reply.Flush(reply.SendAndFinish)
			d.printRequestStop(httpStatus)
		}
	}

	g.recomputeAllFinishedLocked()

	// A lowLevelClose group will never see reply.IsFinished() (there is no
	// flush to produce it), but it is still done: every processor has
	// self-reported and there is nobody left to answer.
	if fullyFinished && !g.reply.IsCompleted() && (g.reply.IsFinished() || g.lowLevelClose) {
		g.reply.SetCompleted()
		rid := requestID
		l := loop
		if l != nil {
			_ = l.Submit(func() { d.EraseProcessorGroup(rid) })
		}
	}

	b.mu.Unlock()
}

// sendProgressMessage mirrors x_SendProgressMessage: only surface a
// per-processor progress line for errors/timeouts, or when the request
// opted in to processor events. Caller must hold the bucket lock.
func (d *Dispatcher) sendProgressMessage(g *group, s *slot, processor procs.Processor) {
	if s.finishStatus == procs.StatusTimeout || s.finishStatus == procs.StatusError || g.reply.NeedProcessorEvents() {
		g.reply.PrepareProcessorProgressMessage(processor.Name(), s.finishStatus.String())
	}
}

// SignalConnectionCanceled is §4.4.5's first half: the transport observed
// the client connection drop mid-flight. Processors are canceled, but the
// group is not flushed or retired here — they must still self-report.
func (d *Dispatcher) SignalConnectionCanceled(requestID uint64) {
	b := d.bucketFor(requestID)
	var toCancel []procs.Processor

	b.mu.Lock()
	g, ok := b.groups[requestID]
	if ok {
		for _, s := range g.slots {
			if s.dispatchStatus == StatusUp {
				s.dispatchStatus = StatusCanceled
				toCancel = append(toCancel, s.proc)
			}
		}
	}
	b.mu.Unlock()

	for _, p := range toCancel {
		safeCancel(p, d.log)
	}
}

// NotifyRequestFinished is §4.4.5's second half: the low-level connection
// structures were torn down before a normal finish. The group is marked for
// abrupt deletion and every still-in-progress processor is canceled; actual
// retirement still waits for every processor's self-report.
func (d *Dispatcher) NotifyRequestFinished(requestID uint64) {
	b := d.bucketFor(requestID)
	var toCancel []procs.Processor

	b.mu.Lock()
	g, ok := b.groups[requestID]
	if ok && !g.flushedAndFinished {
		g.lowLevelClose = true
		for _, s := range g.slots {
			if s.dispatchStatus == StatusUp && s.proc.Status() == procs.StatusInProgress {
				toCancel = append(toCancel, s.proc)
			}
		}
	}
	b.mu.Unlock()

	for _, p := range toCancel {
		safeCancel(p, d.log)
	}
}

// CancelAll cancels every live, Up processor across every group: used for
// administrative shutdown.
func (d *Dispatcher) CancelAll() {
	var toCancel []procs.Processor
	for i := range d.buckets {
		b := &d.buckets[i]
		b.mu.Lock()
		for _, g := range b.groups {
			for _, s := range g.slots {
				if s.dispatchStatus == StatusUp {
					toCancel = append(toCancel, s.proc)
				}
			}
		}
		b.mu.Unlock()
	}
	for _, p := range toCancel {
		safeCancel(p, d.log)
	}
}

// OnRequestTimer is §4.4.4: the rolling deadline. It runs on the request's
// own loop goroutine (ScheduleTimer always posts through Submit), so no
// extra synchronization with the loop itself is needed — only the bucket
// lock, as usual.
func (d *Dispatcher) OnRequestTimer(requestID uint64) {
	b := d.bucketFor(requestID)

	b.mu.Lock()
	g, ok := b.groups[requestID]
	if !ok {
		b.mu.Unlock()
		return
	}

	sinceActivity := g.reply.TimeSinceLastActivity()
	if sinceActivity < d.requestTimeout {
		remaining := d.requestTimeout - sinceActivity
		g.timer.Reset(remaining)
		b.mu.Unlock()
		return
	}

	if d.stats != nil {
		d.stats.DeadlineFirings.Add(1)
	}

	g.reply.PrepareRequestTimeoutMessage(fmt.Sprintf(
		"Timed out due to prolonged backend(s) inactivity. No response for %.3f seconds.",
		d.requestTimeout.Seconds()))

	var toCancel []procs.Processor
	for _, s := range g.slots {
		if s.dispatchStatus == StatusUp {
			toCancel = append(toCancel, s.proc)
		}
	}
	b.mu.Unlock()

	for _, p := range toCancel {
		safeCancel(p, d.log)
	}
}

// OnTransportFinished marks the "http finished" milestone (the Go analogue
// of libh2o_finished), called by transport/httpgw once it has observed the
// ResponseWriter side of the request complete.
func (d *Dispatcher) OnTransportFinished(requestID uint64) {
	b := d.bucketFor(requestID)
	b.mu.Lock()
	if g, ok := b.groups[requestID]; ok {
		g.httpFinished = true
		if g.isSafeToDeleteLocked() {
			b.mu.Unlock()
			d.EraseProcessorGroup(requestID)
			return
		}
	}
	b.mu.Unlock()
}

// EraseProcessorGroup stops the group's timer and, once the safe-to-delete
// predicate holds, retires it: releases every class's concurrency slot
// exactly once and removes the group from its bucket. While the predicate
// does not hold yet the group stays in place, so a later call can retire it;
// once the group is gone further calls are no-ops.
func (d *Dispatcher) EraseProcessorGroup(requestID uint64) {
	b := d.bucketFor(requestID)

	b.mu.Lock()
	g, ok := b.groups[requestID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if g.timerActive {
		g.timer.Stop()
		g.timerActive = false
	}
	g.timerClosed = true
	if !g.isSafeToDeleteLocked() {
		b.mu.Unlock()
		return
	}
	for _, s := range g.slots {
		d.reg.classes[s.classIndex].counter.release()
	}
	delete(b.groups, requestID)
	b.mu.Unlock()

	if d.stats != nil {
		d.stats.GroupRetired()
	}
}

func mapFinishToHTTPStatus(status procs.Status) int {
	switch status {
	case procs.StatusDone:
		return http.StatusOK
	case procs.StatusNotFound, procs.StatusCanceled:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// safeCancel invokes Cancel() and recovers a panic as a logged bug, matching
// spec.md §7's "dispatcher treats a thrown exception from cancel() as a bug
// and logs it but continues".
func safeCancel(p procs.Processor, log *gwlog.Logger) {
	defer func() {
		if r := recover(); r != nil && log != nil {
			log.Err().Str("processor", p.Name()).Any("panic", r).Log("processor Cancel() panicked; continuing")
		}
	}()
	p.Cancel()
}

func (d *Dispatcher) trace(ctx *ProcessingContext, msg string) {
	if !ctx.NeedTrace {
		return
	}
	ctx.Reply.SendTrace(msg, ctx.StartTimestamp, false)
}

func (d *Dispatcher) traceGroup(g *group, msg string) {
	if g.reply == nil {
		return
	}
	g.reply.SendTrace(msg, time.Time{}, false)
}

func (d *Dispatcher) printRequestStop(httpStatus int) {
	if d.log != nil {
		d.log.Info().Int("status", httpStatus).Log("request stop")
	}
}
