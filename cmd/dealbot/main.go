package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"dealbot/browser"
	"dealbot/config"
	"dealbot/events"
	"dealbot/flow"
	"dealbot/intake"
	"dealbot/selectors"
	"dealbot/server"
	"dealbot/store"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ [Main] config load failed: %v", err)
	}

	table, err := selectors.Load(cfg.SelectorFile)
	if err != nil {
		log.Fatalf("❌ [Main] selector table load failed: %v", err)
	}
	log.Printf("🎯 [Main] selector table v%d loaded (%d targets)", table.Version, len(table.Targets))

	// Event broker, optionally bridged to NATS.
	var bridge events.Publisher
	natsBridge, err := events.NewNATSBridge(events.NATSConfig{URL: cfg.NATSURL, Subject: cfg.EventsSubject})
	if err != nil {
		log.Printf("⚠️ [Main] NATS bridge unavailable, events stay local: %v", err)
	} else {
		bridge = natsBridge
		defer natsBridge.Close()
	}
	broker := events.NewBroker(200, bridge)
	broker.SetState(events.StateBootstrap)

	// Activity store, optional when Redis is down.
	var activity *store.Activity
	if opts, err := redis.ParseURL(cfg.RedisURL); err != nil {
		log.Printf("⚠️ [Main] bad Redis URL, activity trail disabled: %v", err)
	} else {
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("⚠️ [Main] Redis unreachable, activity trail disabled: %v", err)
		} else {
			activity = store.New(rdb, cfg.MaxActivityItems)
			log.Printf("📦 [Main] activity store ready (%s)", cfg.RedisURL)
		}
		cancel()
	}

	// Browser session.
	mgr := browser.NewManager(cfg.ProfileDir, cfg.ArtifactsDir, cfg.Headless)
	if err := mgr.Start(); err != nil {
		log.Fatalf("❌ [Main] browser start failed: %v", err)
	}
	defer mgr.Stop()

	queue := flow.NewQueue()

	var trail flow.Trail
	var results flow.ResultStore
	var recorder intake.Recorder
	if activity != nil {
		trail = activity
		results = activity
		recorder = activity
	}
	worker := flow.NewWorker(queue, mgr, broker, trail, results, table, cfg)

	// Deal intake over NATS.
	in := intake.New(queue, recorder, broker)
	if err := in.Listen(cfg.NATSURL, cfg.DealsSubject); err != nil {
		log.Printf("⚠️ [Main] NATS intake unavailable, HTTP enqueue only: %v", err)
	} else {
		defer in.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go worker.Run(ctx)

	srv := server.New(broker, activity, worker, queue, func(data []byte) error {
		return in.Handle(ctx, data)
	})
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		log.Printf("🚀 [Main] HTTP listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ [Main] HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("👋 [Main] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
}
