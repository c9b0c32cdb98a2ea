package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/eayunstack/notifyqueue/internal/config"
	"github.com/eayunstack/notifyqueue/internal/consume"
	"github.com/eayunstack/notifyqueue/internal/deliver"
	"github.com/eayunstack/notifyqueue/internal/httpapi"
	"github.com/eayunstack/notifyqueue/internal/metrics"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/monitor/memstore"
	"github.com/eayunstack/notifyqueue/internal/monitor/pgstore"
	"github.com/eayunstack/notifyqueue/internal/monitor/redisstore"
	"github.com/eayunstack/notifyqueue/internal/notify"
	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
	topicmemstore "github.com/eayunstack/notifyqueue/internal/topic/memstore"
	topicpgstore "github.com/eayunstack/notifyqueue/internal/topic/pgstore"
)

const appName = "notifyqueued"

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Queue and topic notification service",
		Long:  "notifyqueued serves the consume, monitor, and topic HTTP APIs and dispatches topic notifications to webhook and queue subscribers.",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults are used when absent)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reapSubscriptionsCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema for topics, subscriptions, and monitors",
		RunE:  runMigrate,
	}
}

func reapSubscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap-subscriptions",
		Short: "Delete subscriptions whose TTL has elapsed",
		RunE:  runReapSubscriptions,
	}
	cmd.Flags().Duration("older-than", 0, "only reap subscriptions created before now-minus this duration")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	messages := storage.NewMemory()
	queues := messages
	claims := messages.Claims()

	monitors, err := buildMonitorController(cfg, reg)
	if err != nil {
		return fmt.Errorf("build monitor controller: %w", err)
	}

	topicStore, err := buildTopicStore(cfg)
	if err != nil {
		return fmt.Errorf("build topic store: %w", err)
	}
	topicDefaults := topic.Defaults{
		MaxPostSize:       256 * 1024,
		DefaultMessageTTL: cfg.Queue.DefaultMessageTTL,
	}
	topicSvc := topic.NewService(topicStore, monitorCreatorFor(monitors), topicDefaults)

	webhook := deliver.NewWebhookTask(cfg.Notification.WebhookTimeout, cfg.Notification.WebhookRPS, cfg.Notification.WebhookBurst)
	queueTask := deliver.NewQueueTask()
	dispatcher := notify.NewDispatcher(webhook, queueTask, messages, queues, monitors, notify.Config{
		MaxNotifierRetries: cfg.Notification.MaxNotifierRetries,
		Workers:            cfg.Notification.DispatchWorkers,
		MaxWorkers:         cfg.Notification.MaxDispatchWorkers,
	}).WithMetrics(reg)

	consumeSvc := consume.NewService(messages, queues, claims, monitors).WithMetrics(reg)

	stream := httpapi.NewMonitorStream()
	server := httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.HTTP.Host,
		Port:         cfg.HTTP.Port,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, httpapi.Deps{
		Consume:    consumeSvc,
		Topics:     topicSvc,
		Monitors:   monitors,
		Dispatcher: dispatcher,
		Metrics:    reg,
		Logger:     log.Logger,
	}, stream)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)).Msg("starting HTTP server")
		if err := server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required to migrate")
	}
	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	log.Info().Msg("schema applied")
	return nil
}

func runReapSubscriptions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	store, err := buildTopicStore(cfg)
	if err != nil {
		return fmt.Errorf("build topic store: %w", err)
	}

	reaper, ok := store.(subscriptionReaper)
	if !ok {
		return fmt.Errorf("configured topic store does not support reaping")
	}
	cutoff := time.Now().Add(-olderThan)
	n, err := reaper.ReapExpiredSubscriptions(context.Background(), cutoff)
	if err != nil {
		return fmt.Errorf("reap subscriptions: %w", err)
	}
	log.Info().Int("reaped", n).Time("cutoff", cutoff).Msg("subscription reap complete")
	return nil
}

// subscriptionReaper is an optional topic.Store capability; only the
// Postgres-backed store implements it today.
type subscriptionReaper interface {
	ReapExpiredSubscriptions(ctx context.Context, cutoff time.Time) (int, error)
}

func buildMonitorController(cfg config.Config, reg *metrics.Registry) (monitor.Controller, error) {
	switch {
	case cfg.Redis.URI != "":
		opts, err := redis.ParseURL(cfg.Redis.URI)
		if err != nil {
			return nil, fmt.Errorf("parse redis uri: %w", err)
		}
		rdb := redis.NewClient(opts)
		return metrics.Instrument(redisstore.New(rdb), reg, "redis"), nil
	case cfg.Postgres.DSN != "":
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return metrics.Instrument(pgstore.New(db, cfg.Postgres.QueryTimeout), reg, "postgres"), nil
	default:
		log.Warn().Msg("no redis.uri or postgres.dsn configured, falling back to an in-process monitor store")
		return metrics.Instrument(memstore.New(), reg, "memory"), nil
	}
}

func buildTopicStore(cfg config.Config) (topic.Store, error) {
	if cfg.Postgres.DSN == "" {
		log.Warn().Msg("no postgres.dsn configured, falling back to an in-process topic store")
		return topicmemstore.New(), nil
	}
	db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
	return topicpgstore.New(db, cfg.Postgres.QueryTimeout), nil
}

// monitorCreatorFor adapts monitor.Controller to the narrow topic.MonitorCreator
// interface, tolerating a pre-existing monitor record.
type monitorCreatorAdapter struct {
	monitors monitor.Controller
}

func (a monitorCreatorAdapter) CreateTopicMonitor(ctx context.Context, project, name string) error {
	err := a.monitors.Create(ctx, monitor.Key{Project: project, Type: monitor.TypeTopic, Name: name})
	if err != nil && err != monitor.ErrAlreadyExists {
		return err
	}
	return nil
}

func monitorCreatorFor(monitors monitor.Controller) topic.MonitorCreator {
	return monitorCreatorAdapter{monitors: monitors}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS monitors (
	key TEXT PRIMARY KEY,
	project TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	counters JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS monitors_project_idx ON monitors (project, type);

CREATE TABLE IF NOT EXISTS topics (
	project TEXT NOT NULL,
	name TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	message_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project, name)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	project TEXT NOT NULL,
	topic TEXT NOT NULL,
	subscriber TEXT NOT NULL,
	options JSONB NOT NULL DEFAULT '{}',
	ttl INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS subscriptions_topic_idx ON subscriptions (project, topic);
`
