package lmdb

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

func newTestReply() (*reply.Reply, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	return reply.New(w, 1, false, false), w
}

type fakeCallbacks struct {
	decision    procs.StartDecision
	finishCalls chan procs.Processor
}

func newFakeCallbacks(decision procs.StartDecision) *fakeCallbacks {
	return &fakeCallbacks{decision: decision, finishCalls: make(chan procs.Processor, 1)}
}

func (f *fakeCallbacks) SignalStartProcessing(p procs.Processor) procs.StartDecision {
	return f.decision
}

func (f *fakeCallbacks) SignalFinishProcessing(p procs.Processor) {
	f.finishCalls <- p
}

type fakeCache struct {
	data  []byte
	found bool
}

func (c *fakeCache) Lookup(key string) ([]byte, bool) { return c.data, c.found }

func awaitFinish(t *testing.T, ch chan procs.Processor) procs.Processor {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("processor never reported finish")
		return nil
	}
}

func TestProcessor_Hit(t *testing.T) {
	cb := newFakeCallbacks(procs.Proceed)
	rep, w := newTestReply()
	p := New(&fakeCache{data: []byte("v"), found: true}, "key1", 2, cb, rep)

	p.Process(context.Background())
	awaitFinish(t, cb.finishCalls)

	assert.Equal(t, procs.StatusDone, p.Status())
	assert.Equal(t, "v", w.Body.String(), "the cached value must actually reach the client")
}

func TestProcessor_Miss(t *testing.T) {
	cb := newFakeCallbacks(procs.Proceed)
	rep, w := newTestReply()
	p := New(&fakeCache{found: false}, "key1", 2, cb, rep)

	p.Process(context.Background())
	awaitFinish(t, cb.finishCalls)

	assert.Equal(t, procs.StatusNotFound, p.Status())
	assert.Equal(t, 0, w.Body.Len())
}

func TestProcessor_LosesRace(t *testing.T) {
	cb := newFakeCallbacks(procs.CancelStart)
	rep, w := newTestReply()
	p := New(&fakeCache{data: []byte("v"), found: true}, "key1", 2, cb, rep)

	p.Process(context.Background())
	awaitFinish(t, cb.finishCalls)

	assert.Equal(t, procs.StatusCanceled, p.Status())
	assert.Equal(t, 0, w.Body.Len())
}

func TestProcessor_CancelBeforeRun(t *testing.T) {
	cb := newFakeCallbacks(procs.Proceed)
	rep, _ := newTestReply()
	p := New(&fakeCache{data: []byte("v"), found: true}, "key1", 2, cb, rep)

	p.Cancel()
	p.Process(context.Background())
	awaitFinish(t, cb.finishCalls)

	assert.Equal(t, procs.StatusCanceled, p.Status())
}

func TestProcessor_ContextCanceled(t *testing.T) {
	cb := newFakeCallbacks(procs.Proceed)
	rep, _ := newTestReply()
	p := New(&fakeCache{data: []byte("v"), found: true}, "key1", 2, cb, rep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Process(ctx)
	awaitFinish(t, cb.finishCalls)

	assert.Equal(t, procs.StatusCanceled, p.Status())
}

func TestProcessor_Name(t *testing.T) {
	cb := newFakeCallbacks(procs.Proceed)
	rep, _ := newTestReply()
	p := New(&fakeCache{}, "key1", 1, cb, rep)
	require.Equal(t, ClassName, p.Name())
}
