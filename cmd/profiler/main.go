package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/aevon-lab/aevon-profiler/internal/aggregation"
	"github.com/aevon-lab/aevon-profiler/internal/capability"
	corecfg "github.com/aevon-lab/aevon-profiler/internal/core/config"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage/memory"
	"github.com/aevon-lab/aevon-profiler/internal/core/storage/postgres"
	"github.com/aevon-lab/aevon-profiler/internal/discovery"
	"github.com/aevon-lab/aevon-profiler/internal/expression/celexpr"
	"github.com/aevon-lab/aevon-profiler/internal/function"
	"github.com/aevon-lab/aevon-profiler/internal/function/builtin"
	"github.com/aevon-lab/aevon-profiler/internal/ingestion"
	"github.com/aevon-lab/aevon-profiler/internal/maas"
	"github.com/aevon-lab/aevon-profiler/internal/metrics"
	"github.com/aevon-lab/aevon-profiler/internal/migrations"
	"github.com/aevon-lab/aevon-profiler/internal/projection"
	"github.com/aevon-lab/aevon-profiler/internal/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

func main() {
	configPath := flag.String("config", "config/profiler.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stdout))
	slog.Info("Loaded config", "profiles", len(cfg.Profiles), "database", cfg.Database.Type, "time_source", cfg.Profiler.TimeSource)

	checks := map[string]server.HealthChecker{}

	// 2. Initialize Storage
	var store storage.Store
	switch cfg.Database.Type {
	case "postgres":
		dbAdapter, err := postgres.NewAdapter(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		defer dbAdapter.Close()

		// 2.1. Run Database Migrations
		if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		if err := dbAdapter.ValidateSchema(context.Background()); err != nil {
			slog.Error("Database schema is not ready", "error", err)
			os.Exit(1)
		}
		store = dbAdapter
		checks["database"] = dbAdapter
	default:
		slog.Warn("Using in-memory profile store; values are lost on restart")
		store = memory.New(clock.RealClock{})
	}

	// 3. Initialize Coordination (optional)
	var js jetstream.JetStream
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("profiler"))
		if err != nil {
			slog.Error("Failed to connect to NATS", "url", cfg.NATS.URL, "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		if js, err = jetstream.New(nc); err != nil {
			slog.Error("Failed to open JetStream", "error", err)
			os.Exit(1)
		}
		checks["nats"] = server.HealthCheckFunc(func(context.Context) error {
			if s := nc.Status(); s != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", s)
			}
			return nil
		})
	}

	caps := capability.New(js)
	defer caps.Close()
	if !cfg.NATS.Enabled && len(cfg.MaaS.Endpoints) > 0 {
		eps := make([]discovery.Endpoint, 0, len(cfg.MaaS.Endpoints))
		for _, ep := range cfg.MaaS.Endpoints {
			eps = append(eps, ep.Endpoint())
		}
		caps.SetDiscoverer(discovery.NewStatic(cfg.MaaS.BlacklistTTL, eps...))
		slog.Info("Using static model endpoints", "count", len(eps))
	}

	m := metrics.New()

	// 4. Initialize Functions
	registry := function.NewRegistry(caps)
	if err := builtin.RegisterStats(registry); err != nil {
		slog.Error("Failed to register stats functions", "error", err)
		os.Exit(1)
	}
	if err := maas.Register(registry, maas.Options{
		CacheTTL:         cfg.MaaS.CacheTTL,
		CacheSize:        uint64(cfg.MaaS.CacheSize),
		Timeout:          cfg.MaaS.Timeout,
		FailureThreshold: uint32(cfg.MaaS.FailureThreshold),
		BreakerReset:     cfg.MaaS.BreakerReset,
		Method:           cfg.MaaS.HTTPMethod,
		ConfigBucket:     cfg.MaaS.ConfigBucket,
		ConfigKey:        cfg.MaaS.ConfigKey,
		BlacklistTTL:     cfg.MaaS.BlacklistTTL,
		Metrics:          m,
	}); err != nil {
		slog.Error("Failed to register model functions", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Projection (read API and PROFILE_GET)
	projectionSvc := projection.NewService(store, cfg.Profiles, projection.Options{
		Family:      cfg.Storage.ColumnFamily,
		SaltDivisor: cfg.Storage.SaltDivisor,
	})
	if err := projection.RegisterFunctions(registry, projectionSvc); err != nil {
		slog.Error("Failed to register profile functions", "error", err)
		os.Exit(1)
	}

	// 6. Compile Profiles
	profiles, err := aggregation.CompileAll(celexpr.NewCompiler(registry), cfg.Profiles)
	if err != nil {
		slog.Error("Failed to compile profiles", "error", err)
		os.Exit(1)
	}

	// 7. Initialize Window Engine
	windows := aggregation.NewStore(cfg.Profiler.Shards)
	processor := aggregation.NewProcessor(profiles, windows, aggregation.ProcessorOptions{
		TimestampField: cfg.Profiler.TimestampField,
		Metrics:        m,
	})
	writer := aggregation.NewWriter(store, aggregation.WriterOptions{
		Family:        cfg.Storage.ColumnFamily,
		SaltDivisor:   cfg.Storage.SaltDivisor,
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushInterval,
		MaxRetries:    uint64(cfg.Storage.MaxRetries),
		RetryInterval: cfg.Storage.RetryInitialInterval,
		PurgeInterval: cfg.Storage.PurgeInterval,
		Metrics:       m,
	})
	scheduler := aggregation.NewScheduler(profiles, windows, writer, aggregation.SchedulerOptions{
		Interval:        cfg.Profiler.TickInterval,
		TimeSource:      aggregation.TimeSource(cfg.Profiler.TimeSource),
		Lateness:        cfg.Profiler.Lateness,
		FlushOnShutdown: cfg.Profiler.FlushOnShutdown,
		Metrics:         m,
	})

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode, checks, m.Handler())
	ingestion.NewService(processor, cfg.Server.MaxBodySizeMB).RegisterRoutes(srv.Engine)
	projectionSvc.RegisterRoutes(srv.Engine)
	registry.RegisterRoutes(srv.Engine)

	// 9. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return writer.Run(gctx) })
	g.Go(func() error {
		for {
			select {
			case err := <-writer.Errors():
				slog.Error("Profile batch dropped", "error", err)
			case <-gctx.Done():
				return nil
			}
		}
	})

	if cfg.Input.Kafka.Enabled {
		consumer, err := newKafkaConsumer(cfg.Input.Kafka)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "brokers", cfg.Input.Kafka.Brokers, "error", err)
			cancel()
		} else {
			defer consumer.Close()
			src := ingestion.NewKafkaSource(consumer, cfg.Input.Kafka.Topic, kafkaOffset(cfg.Input.Kafka), processor)
			g.Go(func() error { return src.Run(gctx) })
		}
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Profiler stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func newKafkaConsumer(cfg corecfg.KafkaConfig) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = "profiler"
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = kafkaOffset(cfg)
	return sarama.NewConsumer(cfg.Brokers, config)
}

func kafkaOffset(cfg corecfg.KafkaConfig) int64 {
	if cfg.InitialOffset == "oldest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
