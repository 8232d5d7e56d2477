// Package resolve is a concrete processor class grounded on
// original_source's CPSGS_ResolveProcessor ("Cassandra-resolve"): it turns a
// loosely-specified seq-id into a canonical accession by calling out to
// another service, distinct from the cassandra and lmdb classes' direct
// storage reads.
package resolve

import (
	"context"

	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

// ClassName is the registered processor class name.
const ClassName = "Cassandra-resolve"

// Resolver is the external collaborator a Processor calls out to. A real
// deployment would back this with an RPC client; none of this repo's
// grounding corpus carries a ready-made RPC stack for this specific call
// shape (see DESIGN.md), so it stays an injected interface.
type Resolver interface {
	Resolve(ctx context.Context, seqID string) (canonical string, found bool, err error)
}

// Processor resolves one seq-id against Resolver.
type Processor struct {
	procs.Base

	resolver Resolver
	seqID    string
	reply    *reply.Reply

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a resolve processor for seqID, at the given priority, writing
// its answer to rep.
func New(resolver Resolver, seqID string, priority int, callbacks procs.Callbacks, rep *reply.Reply) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		Base:     procs.NewBase(ClassName, ClassName, priority, callbacks),
		resolver: resolver,
		seqID:    seqID,
		reply:    rep,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *Processor) Process(ctx context.Context) {
	go p.run(ctx)
}

func (p *Processor) run(ctx context.Context) {
	canonical, found, err := p.resolver.Resolve(p.ctx, p.seqID)
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
		if _, err := p.reply.WriteChunk([]byte(canonical)); err != nil {
			p.Finish(p, procs.StatusError)
			return
		}
		p.Finish(p, procs.StatusDone)
	}
}

func (p *Processor) Cancel() {
	p.cancel()
	p.RequestCancel()
}

func (p *Processor) ProcessEvent() {}

var _ procs.Processor = (*Processor)(nil)
