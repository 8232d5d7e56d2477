package dispatch

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ncbi/pseqgw-dispatch/internal/procs"
)

// Processor is an import-free alias so the rest of this package can write
// Processor instead of procs.Processor.
type Processor = procs.Processor

// MaxProcessorClasses bounds the process-wide registry, matching spec.md's
// §3 compile-time maximum (and the open question in §9: kept as a static
// constant rather than a dynamically-resizable registry, so the per-class
// counter array stays index-stable for the process lifetime).
const MaxProcessorClasses = 64

// Factory attempts to construct a Processor for a request. It returns
// (nil, false) to decline, e.g. because it cannot serve this kind of
// request at all (not because of the concurrency cap — that is checked by
// the dispatcher before Factory is ever called).
type Factory func(ctx *ProcessingContext) (Processor, bool)

// Registration describes one processor class.
type Registration struct {
	// Name is compared case-insensitively; duplicates are a fatal
	// configuration error at AddProcessor time.
	Name string
	// Factory builds a processor instance for a request, or declines.
	Factory Factory
	// Limit is the concurrency cap for this class. Zero disables the class
	// entirely (it always declines).
	Limit uint32

	// ThrottleByIP and IPRates opt this class into the supplemental per-IP
	// throttle (see internal/throttle), in addition to Limit.
	ThrottleByIP bool
	IPRates      map[int64]int // nanosecond-duration-key -> event count, see throttle.Limiter
}

type concurrencyCounter struct {
	limit   uint32
	current atomic.Uint32
}

func (c *concurrencyCounter) tryAcquire() bool {
	for {
		cur := c.current.Load()
		if cur >= c.limit {
			return false
		}
		if c.current.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (c *concurrencyCounter) release() {
	for {
		cur := c.current.Load()
		if cur == 0 {
			// Would underflow: a programming bug upstream (more releases
			// than acquisitions). Never happens if every acquire is paired
			// with exactly one release, per spec.md's invariant.
			return
		}
		if c.current.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (c *concurrencyCounter) currentCount() uint32 { return c.current.Load() }

// registry is the process-wide, append-only table of registered processor
// classes.
type registry struct {
	classes []*registeredClass
	byName  map[string]int
}

type registeredClass struct {
	reg      Registration
	counter  concurrencyCounter
	acquired atomic.Uint64
	rejected atomic.Uint64
}

func newRegistry() *registry {
	return &registry{byName: make(map[string]int)}
}

// add appends a new class. Returns an error (never panics/exits — see
// SPEC_FULL §7 for why this differs from the original's exit(0)) on a
// duplicate name or once MaxProcessorClasses is exceeded.
func (r *registry) add(reg Registration) (int, error) {
	if len(r.classes) >= MaxProcessorClasses {
		return 0, fmt.Errorf("dispatch: cannot register %q: max of %d processor classes already reached", reg.Name, MaxProcessorClasses)
	}
	key := strings.ToLower(reg.Name)
	if _, ok := r.byName[key]; ok {
		return 0, fmt.Errorf("dispatch: processor class %q registered more than once", reg.Name)
	}
	idx := len(r.classes)
	r.classes = append(r.classes, &registeredClass{reg: reg})
	r.classes[idx].counter.limit = reg.Limit
	r.byName[key] = idx
	return idx, nil
}

func (r *registry) count() int { return len(r.classes) }

// concurrentCounters snapshots each class's current in-flight count, for observability
// (spec.md §6 "Observable counters").
func (r *registry) concurrentCounters() map[string]uint32 {
	out := make(map[string]uint32, len(r.classes))
	for _, c := range r.classes {
		out[c.reg.Name] = c.counter.currentCount()
	}
	return out
}
