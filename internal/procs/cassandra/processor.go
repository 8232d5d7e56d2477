// Package cassandra is a concrete processor class grounded on
// original_source's CPSGS_GetProcessor ("Cassandra-get"): it answers
// blob-by-seq-id requests from a backing store. A real driver (e.g. gocql)
// is absent from the whole example corpus this repo was grounded on, so
// Store is a small injected interface instead of a concrete client — see
// DESIGN.md for why no storage driver dependency was wired here.
package cassandra

import (
	"context"

	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

// ClassName is the registered processor class name, matching
// original_source's kGetProcessorName constant.
const ClassName = "Cassandra-get"

// Store is the backend a Processor queries. A real deployment would back
// this with a Cassandra client; tests and the reference cmd/pseqgw wiring
// use an in-memory implementation.
type Store interface {
	// GetBlob looks up id, blocking until the answer or ctx's cancellation.
	// found=false means "no such blob", distinct from an error.
	GetBlob(ctx context.Context, id string) (data []byte, found bool, err error)
}

// Processor answers one blob request against Store.
type Processor struct {
	procs.Base

	store Store
	id    string
	reply *reply.Reply

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Cassandra-get processor for blob id, at the given priority,
// writing its answer to rep and reporting back through callbacks.
func New(store Store, id string, priority int, callbacks procs.Callbacks, rep *reply.Reply) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		Base:   procs.NewBase(ClassName, ClassName, priority, callbacks),
		store:  store,
		id:     id,
		reply:  rep,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Process launches the lookup on its own goroutine and returns immediately,
// per the Processor contract.
func (p *Processor) Process(ctx context.Context) {
	go p.run(ctx)
}

func (p *Processor) run(ctx context.Context) {
	data, found, err := p.store.GetBlob(p.ctx, p.id)
	switch {
	case ctx.Err() != nil || p.ctx.Err() != nil:
		p.Finish(p, procs.StatusCanceled)
	case err != nil:
		p.Finish(p, procs.StatusError)
	case !found:
		p.Finish(p, procs.StatusNotFound)
	default:
		if p.SignalStart(p) == procs.CancelStart {
			p.Finish(p, procs.StatusCanceled)
			return
		}
		if _, err := p.reply.WriteChunk(data); err != nil {
			p.Finish(p, procs.StatusError)
			return
		}
		p.Finish(p, procs.StatusDone)
	}
}

func (p *Processor) Cancel() {
	p.cancel()
}

// ProcessEvent is a no-op here: this processor finishes entirely within its
// own goroutine rather than waiting for loop-delivered wakeups.
func (p *Processor) ProcessEvent() {}

var _ procs.Processor = (*Processor)(nil)
