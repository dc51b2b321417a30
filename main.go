// Command landscape boots the audit substrate: it opens the Postgres-backed
// Landscape, selects and attaches a payload store, starts OpenTelemetry, and
// wires an orchestrator.Orchestrator ready to run a pipeline graph.
//
// Concrete source/transform/gate/sink plugins, CLI flag parsing, and
// configuration file loading are explicitly out of scope of this module
// (spec.md §1) — they're supplied by the integrator that imports this
// package's sibling packages (graph, plugin, orchestrator) and assembles a
// real PluginSet and ExecutionGraph. What follows is the wiring every such
// integrator needs, not a runnable pipeline in itself: without a PluginSet
// the orchestrator has nothing to schedule, so once every dependency has
// come up clean main serves the /progress websocket (when configured) and
// waits for SIGINT or SIGTERM before shutting down.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdapipe/landscape/config"
	"github.com/sdapipe/landscape/landscape"
	"github.com/sdapipe/landscape/observability"
	oteltrace "github.com/sdapipe/landscape/otel"
	"github.com/sdapipe/landscape/orchestrator"
	"github.com/sdapipe/landscape/payloadstore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("landscape: %v", err)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := observability.NewLogger(level)

	ls, err := landscape.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open landscape: %w", err)
	}
	defer ls.Close()

	store, err := openPayloadStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open payload store: %w", err)
	}
	ls.SetPayloadChecker(store)

	provider := oteltrace.Init("landscape-orchestrator", "")
	if provider != nil {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("otel shutdown: %v", err)
			}
		}()
	}

	var aggBuf orchestrator.AggregationBuffer
	if cfg.RedisURL != "" {
		aggBuf, err = orchestrator.NewRedisAggregationBuffer(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("open redis aggregation buffer: %w", err)
		}
	} else {
		aggBuf = orchestrator.NewMemoryAggregationBuffer()
	}

	var events *orchestrator.LifecycleEventPublisher
	if cfg.AMQPURL != "" && cfg.AMQPQueue != "" {
		events, err = orchestrator.NewLifecycleEventPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return fmt.Errorf("open lifecycle event publisher: %w", err)
		}
		defer events.Close()
	}

	broadcast := orchestrator.NewBroadcaster(logger.Entry())
	defer broadcast.Close()
	if cfg.WebsocketAddr != "" {
		go serveBroadcast(cfg.WebsocketAddr, broadcast, logger)
	}

	logger.Infof("landscape substrate ready: payload_backend=%s redis=%t amqp=%t websocket=%q",
		cfg.PayloadBackend, cfg.RedisURL != "", events != nil, cfg.WebsocketAddr)

	// orchestrator.New(orchestrator.Config{...}) is constructed here by an
	// integrator once it has a *graph.ExecutionGraph and a populated
	// orchestrator.PluginSet; both come from outside this module. This
	// binary's job ends at proving every substrate dependency is live.
	_ = orchestrator.Config{
		Landscape:         ls,
		Payloads:          store,
		AggregationBuffer: aggBuf,
		Broadcast:         broadcast,
		Events:            events,
		Logger:            logger,
		CheckpointEvery:   cfg.CheckpointEvery,
	}

	<-ctx.Done()
	logger.Infof("shutting down")
	return nil
}

func openPayloadStore(ctx context.Context, cfg *config.Config) (payloadstore.Store, error) {
	switch cfg.PayloadBackend {
	case config.PayloadBackendFilesystem:
		return payloadstore.NewFilesystemStore(cfg.PayloadRoot)
	case config.PayloadBackendBolt:
		return payloadstore.NewBoltStore(cfg.PayloadRoot)
	case config.PayloadBackendS3:
		return payloadstore.NewS3Store(ctx, payloadstore.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.PayloadRoot,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown payload backend %q", cfg.PayloadBackend)
	}
}

func serveBroadcast(addr string, b *orchestrator.Broadcaster, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/progress", b)
	logger.Infof("progress websocket listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Errorf("progress websocket server stopped: %v", err)
	}
}
