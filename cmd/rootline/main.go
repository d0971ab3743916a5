// Package main provides the Rootline alert correlation service.
//
// Rootline ingests monitoring alerts over HTTP and Kafka, groups them into
// incidents against a service topology, and serves root-cause hypotheses and
// investigation paths through the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/rootline-io/rootline/internal/api"
	"github.com/rootline-io/rootline/internal/api/middleware"
	"github.com/rootline-io/rootline/internal/config"
	"github.com/rootline-io/rootline/internal/correlation"
	"github.com/rootline-io/rootline/internal/history"
	"github.com/rootline-io/rootline/internal/metrics"
	"github.com/rootline-io/rootline/internal/storage"
	"github.com/rootline-io/rootline/internal/stream"
	"github.com/rootline-io/rootline/internal/topology"
)

// Version information.
const (
	version = "v0.3.0"
	name    = "rootline"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s %s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Rootline service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("Failed to register metrics", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Topology is optional: with an empty snapshot the engine still
	// correlates on time and labels.
	topoConfig, err := topology.LoadSnapshotConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load topology", slog.String("error", err.Error()))
		os.Exit(1)
	}

	topo := topology.NewStore()
	componentCount, dependencyCount := topo.ReplaceSnapshot(topoConfig.Snapshot())

	logger.Info("Topology loaded",
		slog.Int("components", componentCount),
		slog.Int("dependencies", dependencyCount),
	)

	engineConfig := correlation.LoadConfig()

	// Env wins over the topology file for correlating label keys.
	if len(engineConfig.CorrelatingLabels) == 0 {
		engineConfig.CorrelatingLabels = topoConfig.CorrelatingLabels
	}

	// Storage is optional. Without a database the historical factor and
	// diagnostic checks run against an in-memory store that starts empty.
	storageConfig := storage.LoadConfig()

	var (
		dbConn       *storage.Connection
		historyStore *storage.HistoryStore
		outcomes     history.OutcomeStore
		checks       history.CheckSource
	)

	if err := storageConfig.Validate(); err == nil {
		dbConn, err = storage.NewConnection(storageConfig)
		if err != nil {
			logger.Error("Failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}

		historyStore, err = storage.NewHistoryStore(dbConn, storageConfig.OutcomeRetention, storageConfig.CleanupInterval)
		if err != nil {
			logger.Error("Failed to initialize history store", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		outcomes, checks = historyStore, historyStore

		logger.Info("Incident history store initialized",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
			slog.Duration("outcome_retention", storageConfig.OutcomeRetention),
			slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
			slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		)
	} else if errors.Is(err, storage.ErrDatabaseURLEmpty) {
		memory := history.NewMemoryStore()
		outcomes, checks = memory, memory

		logger.Warn("No database configured - incident history kept in memory",
			slog.String("note", "Set ROOTLINE_DATABASE_URL to persist outcomes across restarts"),
		)
	} else {
		logger.Error("Invalid storage configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		if historyStore != nil {
			_ = historyStore.Close()
		}

		if dbConn != nil {
			_ = dbConn.Close()
		}
	}()

	var keyStore storage.KeyStore

	authEnabled := config.GetEnvBool("ROOTLINE_AUTH_ENABLED", false)
	if authEnabled {
		if dbConn == nil {
			logger.Error("Authentication requires a database",
				slog.String("note", "Set ROOTLINE_DATABASE_URL or unset ROOTLINE_AUTH_ENABLED"),
			)
			os.Exit(1)
		}

		keyStore, err = storage.NewPersistentKeyStore(dbConn)
		if err != nil {
			logger.Error("Failed to connect to persistent key store", slog.String("error", err.Error()))

			_ = historyStore.Close()
			_ = dbConn.Close()
			os.Exit(1)
		}

		logger.Info("Source authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Source authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set ROOTLINE_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	middlewareConfig := middleware.LoadConfig()

	// Graceful shutdown of the limiter is handled by server.shutdown().
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("source_rps", middlewareConfig.SourceRPS),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
	)

	streamConfig := stream.LoadConfig()
	if err := streamConfig.Validate(); err != nil {
		logger.Error("Invalid stream configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var (
		sink      correlation.IncidentSink
		publisher *stream.Publisher
	)

	if streamConfig.Enabled {
		publisher = stream.NewPublisher(streamConfig, logger)
		sink = publisher

		logger.Info("Incident publisher initialized",
			slog.String("topic", streamConfig.IncidentTopic),
			slog.String("brokers", strings.Join(streamConfig.Brokers, ",")),
		)
	} else {
		sink = stream.NewLogSink(logger)

		logger.Info("Kafka disabled - incident snapshots are logged",
			slog.String("note", "Set ROOTLINE_KAFKA_ENABLED=true to publish incidents to a topic"),
		)
	}

	historyClient := history.NewClient(outcomes, checks, engineConfig.HistoryTimeout, logger)

	engine, err := correlation.NewEngine(engineConfig, topo, historyClient, sink, logger)
	if err != nil {
		logger.Error("Invalid engine configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine.Start()

	logger.Info("Correlation engine started",
		slog.Int("workers", engineConfig.Workers),
		slog.Int("queue_size", engineConfig.QueueSize),
		slog.Duration("grace_period", engineConfig.GracePeriod),
		slog.Duration("lookback", engineConfig.Lookback),
		slog.Int("storm_threshold", engineConfig.StormThreshold),
	)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()

	var consumer *stream.Consumer

	if streamConfig.Enabled {
		consumer = stream.NewConsumer(streamConfig, engine, logger)

		go func() {
			if err := consumer.Run(consumerCtx); err != nil {
				logger.Error("Alert consumer stopped", slog.String("error", err.Error()))
			}
		}()

		logger.Info("Alert consumer started",
			slog.String("topic", streamConfig.AlertTopic),
			slog.String("consumer_group", streamConfig.ConsumerGroup),
		)
	}

	server := api.NewServer(serverConfig, engine, topo, keyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Intake stops first, then the engine drains, then the publisher
	// flushes whatever the drain emitted.
	if consumer != nil {
		stopConsumer()
		_ = consumer.Close()

		logger.Info("Alert consumer stopped")
	}

	engine.Close()
	logger.Info("Correlation engine stopped")

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close incident publisher", slog.String("error", err.Error()))
		} else {
			logger.Info("Incident publisher closed")
		}
	}

	logger.Info("Rootline service stopped")
}
