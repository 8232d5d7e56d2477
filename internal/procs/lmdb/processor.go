// Package lmdb is a concrete processor class for the gateway's local
// memory-mapped cache path (original_source keeps a local LMDB cache in
// front of Cassandra for hot seq-id lookups). No LMDB Go binding appears
// anywhere in the example corpus this repo was grounded on, so Cache is a
// small injected interface rather than a real mdb binding — see DESIGN.md.
package lmdb

import (
	"context"

	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

// ClassName is the registered processor class name.
const ClassName = "LMDB-cache"

// Cache is a synchronous local lookup — LMDB reads never block on network
// I/O, so unlike cassandra.Store this has no context argument; Process still
// runs it off the calling goroutine to honour the Processor contract's
// "return promptly" rule regardless of how fast Cache happens to be.
type Cache interface {
	Lookup(key string) (data []byte, found bool)
}

// Processor answers one request from the local cache, declining (via its
// factory, not here) whenever the key isn't the kind of thing LMDB serves.
type Processor struct {
	procs.Base

	cache Cache
	key   string
	reply *reply.Reply
	done  chan struct{}
}

// New builds an LMDB-cache processor for key, at the given priority, writing
// its answer to rep.
func New(cache Cache, key string, priority int, callbacks procs.Callbacks, rep *reply.Reply) *Processor {
	return &Processor{
		Base:  procs.NewBase(ClassName, ClassName, priority, callbacks),
		cache: cache,
		key:   key,
		reply: rep,
		done:  make(chan struct{}),
	}
}

func (p *Processor) Process(ctx context.Context) {
	go p.run(ctx)
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	data, found := p.cache.Lookup(p.key)
	if p.CancelRequested() || ctx.Err() != nil {
		p.Finish(p, procs.StatusCanceled)
		return
	}
	if !found {
		p.Finish(p, procs.StatusNotFound)
		return
	}
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

// Cancel is best-effort: a local lookup is typically already done by the
// time Cancel arrives, so this only suppresses the result if run() hasn't
// reached its decision point yet.
func (p *Processor) Cancel() {
	p.RequestCancel()
}

func (p *Processor) ProcessEvent() {}

var _ procs.Processor = (*Processor)(nil)
