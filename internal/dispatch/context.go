package dispatch

import (
	"time"

	"github.com/ncbi/pseqgw-dispatch/internal/looprt"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

// Priority is a processor's place in the race: higher runs "first" in the
// sense of spec.md's priority = N - index formula (registration order,
// descending).
type Priority int

// ProcessingContext is everything DispatchRequest needs about one inbound
// request: its id, its Reply handle, the loop its timer/callbacks must be
// bound to, and the tracing/client-IP opt-ins that affect dispatcher
// behavior.
type ProcessingContext struct {
	RequestID uint64
	Reply     *reply.Reply
	Loop      *looprt.Loop

	ClientIP       string
	StartTimestamp time.Time

	NeedTrace           bool
	NeedProcessorEvents bool

	// SeqID is the request's seq-id query parameter. It is the only piece
	// of request-specific data the example processor factories in
	// cmd/pseqgw need; a richer gateway would carry a full parsed request
	// struct here instead (spec.md's Non-goals keep request parsing out of
	// the core dispatcher itself).
	SeqID string
}
