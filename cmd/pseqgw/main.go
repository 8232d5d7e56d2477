// Command pseqgw is the gateway's process entry point, grounded on
// original_source's CPubseqGatewayApp: load config, register processor
// classes, start the HTTP front door, and shut down cleanly on signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/ncbi/pseqgw-dispatch/internal/dispatch"
	"github.com/ncbi/pseqgw-dispatch/internal/gwconfig"
	"github.com/ncbi/pseqgw-dispatch/internal/gwlog"
	"github.com/ncbi/pseqgw-dispatch/internal/gwstat"
	"github.com/ncbi/pseqgw-dispatch/internal/procs"
	"github.com/ncbi/pseqgw-dispatch/internal/procs/cassandra"
	"github.com/ncbi/pseqgw-dispatch/internal/procs/lmdb"
	"github.com/ncbi/pseqgw-dispatch/internal/procs/resolve"
	"github.com/ncbi/pseqgw-dispatch/internal/transport/httpgw"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pseqgw:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "pseqgw.yaml", "path to the gateway's YAML configuration file")
	flag.Parse()

	cfg, err := gwconfig.Load(*configPath)
	if err != nil {
		return err
	}

	level, err := gwlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := gwlog.New(os.Stderr, level)
	stats := gwstat.New()

	d := dispatch.New(cfg.RequestTimeout(), stats, log)

	if err := registerProcessors(d, cfg); err != nil {
		return fmt.Errorf("registering processor classes: %w", err)
	}

	srv := httpgw.NewServer(cfg.Listen, d, stats, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("listen", cfg.Listen).Log("pseqgw starting")
	return srv.Run(ctx)
}

// registerProcessors wires the three example processor classes (§2's
// procs/cassandra, procs/lmdb, procs/resolve) against stub backends: a real
// deployment would inject real store/resolver implementations here instead.
func registerProcessors(d *dispatch.Dispatcher, cfg gwconfig.Config) error {
	store := newMemStore()
	cache := newMemCache()
	resolver := newMemResolver()

	n := 3 // registration order determines priority, per spec.md's N-index formula

	if err := d.AddProcessor(dispatch.Registration{
		Name:  cassandra.ClassName,
		Limit: cfg.Limit(cassandra.ClassName, 256),
		Factory: func(ctx *dispatch.ProcessingContext) (procs.Processor, bool) {
			if ctx.SeqID == "" {
				return nil, false
			}
			return cassandra.New(store, ctx.SeqID, n-0, d.Callbacks(ctx), ctx.Reply), true
		},
		ThrottleByIP: len(cfg.IPRates(cassandra.ClassName)) > 0,
		IPRates:      cfg.IPRates(cassandra.ClassName),
	}); err != nil {
		return err
	}

	if err := d.AddProcessor(dispatch.Registration{
		Name:  lmdb.ClassName,
		Limit: cfg.Limit(lmdb.ClassName, 1024),
		Factory: func(ctx *dispatch.ProcessingContext) (procs.Processor, bool) {
			if ctx.SeqID == "" {
				return nil, false
			}
			return lmdb.New(cache, ctx.SeqID, n-1, d.Callbacks(ctx), ctx.Reply), true
		},
	}); err != nil {
		return err
	}

	if err := d.AddProcessor(dispatch.Registration{
		Name:  resolve.ClassName,
		Limit: cfg.Limit(resolve.ClassName, 256),
		Factory: func(ctx *dispatch.ProcessingContext) (procs.Processor, bool) {
			if ctx.SeqID == "" {
				return nil, false
			}
			return resolve.New(resolver, ctx.SeqID, n-2, d.Callbacks(ctx), ctx.Reply), true
		},
		ThrottleByIP: len(cfg.IPRates(resolve.ClassName)) > 0,
		IPRates:      cfg.IPRates(resolve.ClassName),
	}); err != nil {
		return err
	}

	return nil
}
