package main

import (
	"FlowSpectra/internal/api"
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/engine/manager"
	"FlowSpectra/internal/metrics"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/probe"
	"FlowSpectra/internal/server"
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Println("Starting ns-engine...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	// 2. Initialize the engine and start it
	engine, err := manager.NewEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	engine.Start()

	// 3. Feed it from the probe subject. NATS delivers one subscription's
	// messages in order, so Ingest keeps per-flow order.
	sub, err := probe.NewSubscriber(cfg.Probe)
	if err != nil {
		engine.Stop()
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	var (
		intakeMu sync.RWMutex
		stopped  bool
	)
	handler := func(pkt *model.PacketRecord) {
		intakeMu.RLock()
		defer intakeMu.RUnlock()
		if stopped {
			return
		}
		if err := engine.Ingest(pkt); err != nil && !errors.Is(err, model.ErrMalformedPacket) {
			log.Printf("Failed to ingest packet: %v", err)
		}
	}
	if err := sub.Start(handler); err != nil {
		engine.Stop()
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	// 4. HTTP status, schema and metrics, plus gRPC health
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(engine), collectors.NewGoCollector())
	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: api.NewRouter(engine, nil, reg),
	}
	health := server.NewHealthServer(engine, time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("HTTP server starting on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.ListenAddr)
		if err != nil {
			return err
		}
		return health.Serve(gctx, lis)
	})

	// 5. Wait for a shutdown signal or a server failure
	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutdown signal received, stopping engine...")
	sub.Close()
	intakeMu.Lock()
	stopped = true
	intakeMu.Unlock()
	engine.Stop()

	received, undecoded := sub.Counts()
	log.Printf("Shutdown complete. %d messages received, %d undecoded.", received, undecoded)
}
