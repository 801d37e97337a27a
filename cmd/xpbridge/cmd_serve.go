package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xpbridge/internal/capture"
	"xpbridge/internal/clock"
	"xpbridge/internal/config"
	"xpbridge/internal/dispatch"
	"xpbridge/internal/host"
	"xpbridge/internal/logger"
	"xpbridge/internal/metrics"
	"xpbridge/internal/network"
	"xpbridge/internal/scheduler"
	"xpbridge/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge against the simulated host",
	Long: `Starts the simulated host and its tick driver, registers the bridge's tick
callback and serves clients on the configured channel until interrupted.
SIGHUP reloads the simulated variable and action tables from the config file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	vars, acts, err := cfg.Sim.Specs()
	if err != nil {
		return err
	}
	sim := host.NewSim(log, clock.Real(), vars, acts)

	sched := scheduler.New(log, scheduler.WithInterval(cfg.TickInterval), scheduler.WithMetrics(m))
	sched.Attach(sim)
	defer sched.Close()

	d := dispatch.New(log, sim, sched, dispatch.WithMetrics(m))

	channel := cfg.Channel
	if channel == "" {
		channel = transport.DefaultChannel()
	}
	factory, err := transport.Listen(channel)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", channel, err)
	}

	opts := []network.Option{network.WithMetrics(m)}
	if cfg.Capture.Enable {
		w, err := capture.Create(cfg.Capture.Path)
		if err != nil {
			factory.Close()
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Warn("close capture", zap.Error(err))
			}
			log.Info("capture closed", zap.String("path", w.Path()), zap.Uint64("records", w.Records()))
		}()
		opts = append(opts, network.WithRecorder(w))
	}

	link := network.New(log, factory, d, sched, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sim.Run(gctx, cfg.Sim.Tick)
	})

	if cfg.Metrics.Listen != "" {
		srv := metricsServer(cfg.Metrics.Listen, reg)
		g.Go(func() error {
			log.Info("metrics listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := link.Start(); err != nil {
		return err
	}
	g.Go(func() error {
		<-gctx.Done()
		link.Stop()
		return nil
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reload(log, sim, d)
			}
		}
	})

	log.Info("bridge serving", zap.String("channel", channel))
	err = g.Wait()
	log.Info("bridge stopped")
	return err
}

// reload swaps the simulated resource tables on the tick and drops every
// cached handle with it. A broken config leaves the running tables in place.
func reload(log *zap.Logger, sim *host.Sim, d *dispatch.Dispatcher) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("reload config", zap.Error(err))
		return
	}
	vars, acts, err := cfg.Sim.Specs()
	if err != nil {
		log.Error("reload sim tables", zap.Error(err))
		return
	}
	if !d.InvalidateCaches(func() { sim.Reload(vars, acts) }) {
		log.Warn("reload dropped, bridge is stopping")
	}
}

func metricsServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
