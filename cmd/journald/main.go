package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SteelMorgan/journal-ingest/internal/api"
	"github.com/SteelMorgan/journal-ingest/internal/checkpoint"
	"github.com/SteelMorgan/journal-ingest/internal/clickhouse"
	"github.com/SteelMorgan/journal-ingest/internal/config"
	"github.com/SteelMorgan/journal-ingest/internal/dispatch"
	"github.com/SteelMorgan/journal-ingest/internal/history"
	"github.com/SteelMorgan/journal-ingest/internal/observability"
	"github.com/SteelMorgan/journal-ingest/internal/relay"
	"github.com/SteelMorgan/journal-ingest/internal/retry"
	"github.com/SteelMorgan/journal-ingest/internal/service"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time
var Version = "dev"

var initTracer = observability.InitTracer

func main() {
	os.Exit(serve())
}

// serve runs the daemon and returns the process exit code. Deferred cleanup
// has finished by the time it returns.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	closeLog := observability.InitLogger(observability.LoggerConfig{
		Level:  cfg.LogLevel,
		File:   cfg.LogFile,
		Pretty: true,
	})
	defer closeLog()

	log.Info().
		Str("version", Version).
		Str("journal_dir", cfg.JournalDir).
		Str("checkpoints", cfg.CheckpointPath()).
		Msg("Starting journal ingest service")

	shutdownTracer, err := initTracer(observability.TracerConfig{
		ServiceName:    "journald",
		ServiceVersion: Version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Enabled:        cfg.TracingEnabled,
		SampleRatio:    cfg.TraceSampling,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Journal ingest service failed")
		return 1
	}
	log.Info().Msg("Journal ingest service stopped")
	return 0
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	persister, err := openPersister(cfg)
	if err != nil {
		return err
	}
	store := checkpoint.NewStore(persister)
	defer store.Close()

	disp := dispatch.New(store)

	hist := history.New(cfg.HistorySize, cfg.BackfillDuration())
	disp.Subscribe(hist)

	if cfg.ClickHouseEnabled {
		closeRelay, err := startRelay(ctx, cfg, disp)
		if err != nil {
			return err
		}
		defer closeRelay()
	}

	svc, err := service.NewIngestService(service.Options{
		JournalDir:       cfg.JournalDir,
		PollInterval:     cfg.PollDuration(),
		ProgressInterval: cfg.ProgressInterval,
	}, store, disp)
	if err != nil {
		return fmt.Errorf("failed to create ingest service: %w", err)
	}

	server := api.NewServer(fmt.Sprintf(":%d", cfg.HTTPPort), api.Dependencies{
		Ingest:  svc,
		Hub:     disp,
		History: hist,
		Version: Version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	err = g.Wait()
	log.Info().Msg("Shutting down gracefully...")
	return err
}

func openPersister(cfg *config.Config) (checkpoint.Persister, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	switch cfg.CheckpointBackend {
	case config.BackendBolt:
		return checkpoint.NewBoltPersister(cfg.CheckpointPath())
	default:
		return checkpoint.NewJSONFilePersister(cfg.CheckpointPath())
	}
}

// startRelay subscribes the ClickHouse sink. The returned func flushes the
// remaining rows and closes the connection.
func startRelay(ctx context.Context, cfg *config.Config, disp *dispatch.Dispatcher) (func(), error) {
	client, err := clickhouse.Connect(ctx, clickhouse.Options{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Database: cfg.ClickHouseDB,
		Retry:    retry.DefaultConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	inserter, err := relay.NewClickHouseInserter(ctx, client)
	if err != nil {
		client.Close()
		return nil, err
	}

	sink := relay.NewSink(inserter, relay.BatchConfig{
		MaxSize:      cfg.RelayBatchSize,
		FlushTimeout: cfg.RelayFlushMs,
	})
	sink.Start(ctx)

	// Inserts never hold up the pipeline
	async := dispatch.NewAsync(sink)
	id := disp.Subscribe(async)

	log.Info().
		Str("host", cfg.ClickHouseHost).
		Int("port", cfg.ClickHousePort).
		Str("database", cfg.ClickHouseDB).
		Msg("ClickHouse relay enabled")

	return func() {
		disp.Unsubscribe(id)
		async.Close()
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Int("pending", sink.Pending()).Msg("Final relay flush failed")
		}
		client.Close()
	}, nil
}
