// Package httpgw is the gateway's HTTP front door: it accepts requests,
// gives each one its own looprt.Loop (original_source bound one
// libuv loop per worker thread; here it's one goroutine-backed Loop per
// in-flight request, simpler and sufficient for net/http's one-goroutine-
// per-request model), builds a reply.Reply, and hands both to
// dispatch.Dispatcher. Routing uses chi (named in SPEC_FULL.md's domain
// stack; its actual code is not present anywhere in the grounding corpus,
// only in dependency manifests — see DESIGN.md).
package httpgw

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/ncbi/pseqgw-dispatch/internal/dispatch"
	"github.com/ncbi/pseqgw-dispatch/internal/gwlog"
	"github.com/ncbi/pseqgw-dispatch/internal/gwstat"
	"github.com/ncbi/pseqgw-dispatch/internal/looprt"
	"github.com/ncbi/pseqgw-dispatch/internal/reply"
)

// Server is the HTTP front door over a dispatch.Dispatcher.
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Stats      *gwstat.Counters
	Log        *gwlog.Logger

	nextRequestID atomic.Uint64

	httpServer *http.Server
}

// NewServer builds the chi-routed HTTP server for addr.
func NewServer(addr string, d *dispatch.Dispatcher, stats *gwstat.Counters, log *gwlog.Logger) *Server {
	s := &Server{Dispatcher: d, Stats: stats, Log: log}

	r := chi.NewRouter()
	r.Get("/ID/getblob", s.handleGet)
	r.Get("/ID/resolve", s.handleResolve)
	r.Get("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

// Run starts the listener and blocks until ctx is canceled, then drains
// in-flight connections and returns. Grounded on the errgroup
// listen-then-shutdown idiom used across the example corpus's server
// entry points.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.Dispatcher.CancelAll()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleGet and handleResolve both funnel into serve: what differs between
// processor classes is handled by the factories registered with the
// dispatcher (spec.md §4.4.1), not by the transport layer.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	requestID := s.nextRequestID.Add(1)
	startTimestamp := time.Now()

	needTrace := r.URL.Query().Get("trace") == "yes"
	needProcEvt := r.URL.Query().Get("processor_events") == "yes"

	rep := reply.New(w, requestID, needTrace, needProcEvt)
	loop := looprt.New(s.Dispatcher)
	defer func() { _ = loop.Close() }()

	loopCtx, cancelLoop := context.WithCancel(r.Context())
	defer cancelLoop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(loopCtx) }()

	pctx := &dispatch.ProcessingContext{
		RequestID:           requestID,
		Reply:               rep,
		Loop:                loop,
		ClientIP:            clientIP(r),
		StartTimestamp:      startTimestamp,
		NeedTrace:           needTrace,
		NeedProcessorEvents: needProcEvt,
		SeqID:               r.URL.Query().Get("seq_id"),
	}

	processors, err := s.Dispatcher.DispatchRequest(pctx)
	if err != nil {
		s.Log.Err().Err(err).Log("failed to arm request timer")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(processors) == 0 {
		// DispatchRequest already wrote the "no processor" response.
		return
	}

	procCtx, cancelProcs := context.WithCancel(r.Context())
	defer cancelProcs()
	for _, p := range processors {
		p.Process(procCtx)
	}

	select {
	case <-rep.Done():
	case <-r.Context().Done():
		s.Dispatcher.SignalConnectionCanceled(requestID)
		<-rep.Done()
	}

	cancelLoop()
	<-loopDone
	if s.Stats != nil {
		s.Stats.DestroyedCallbackDrops.Add(int64(loop.DroppedCallbacks()))
	}
	s.Dispatcher.OnTransportFinished(requestID)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
