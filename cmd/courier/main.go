package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-courier/pkg/archive"
	"github.com/illmade-knight/go-courier/pkg/cache"
	"github.com/illmade-knight/go-courier/pkg/gateways"
	"github.com/illmade-knight/go-courier/pkg/journal"
	"github.com/illmade-knight/go-courier/pkg/microservice"
	"github.com/illmade-knight/go-courier/pkg/pipeline"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/illmade-knight/go-courier/pkg/store"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := microservice.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration.")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Message store ---
	var messageStore store.MessageStore
	var firestoreClient *firestore.Client

	switch {
	case cfg.PostgresURL != "":
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open Postgres connection.")
		}
		defer func() { _ = db.Close() }()

		pgStore, err := store.NewPostgresStore(db, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Postgres store.")
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to ensure Postgres schema.")
		}
		messageStore = pgStore
		logger.Info().Msg("Using Postgres message store.")

	case cfg.ProjectID != "":
		firestoreClient, err = firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore client.")
		}
		defer func() { _ = firestoreClient.Close() }()

		messageStore, err = store.NewFirestoreStore(&store.FirestoreStoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.MessageCollection,
		}, firestoreClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore store.")
		}
		logger.Info().Msg("Using Firestore message store.")

	default:
		messageStore = store.NewInMemoryStore()
		logger.Warn().Msg("No durable backend configured; using in-memory message store.")
	}

	// --- Journal: one primary plus best-effort sinks ---
	var primary journal.Journal = journal.NewInMemoryJournal()
	var sinks []journal.Journal

	if firestoreClient != nil {
		fsJournal, err := journal.NewFirestoreJournal(&journal.FirestoreJournalConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.JournalCollection,
		}, firestoreClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore journal.")
		}
		primary = fsJournal
	}

	var pubsubClient *pubsub.Client
	if cfg.ProjectID != "" && (cfg.JournalTopic != "" || cfg.TextTopic != "") {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client.")
		}
		defer func() { _ = pubsubClient.Close() }()
	}

	if pubsubClient != nil && cfg.JournalTopic != "" {
		psJournal, err := journal.NewPubsubJournal(ctx, pubsubClient, cfg.JournalTopic, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub journal.")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = psJournal.Stop(stopCtx)
		}()
		sinks = append(sinks, psJournal)
	}

	if cfg.ProjectID != "" && cfg.JournalDataset != "" {
		bqClient, err := bigquery.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery client.")
		}
		defer func() { _ = bqClient.Close() }()

		bqJournal, err := journal.NewBigQueryJournal(ctx, journal.BigQueryJournalConfig{
			DatasetID: cfg.JournalDataset,
			TableID:   cfg.JournalTable,
		}, bqClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery journal.")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = bqJournal.Stop(stopCtx)
		}()
		sinks = append(sinks, bqJournal)
	}

	messageJournal := journal.NewMulti(primary, logger, sinks...)

	// --- Providers ---
	registry := provider.NewRegistry()
	factory := provider.NewFactory(logger)

	if _, err := gateways.RegisterLoopback(factory); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register loopback gateway.")
	}
	if err := gateways.RegisterSMTP(factory, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register SMTP gateway.")
	}
	if err := gateways.RegisterWebhook(factory, logger); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register webhook gateway.")
	}
	if pubsubClient != nil {
		if err := gateways.RegisterPubsub(ctx, factory, pubsubClient, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to register Pub/Sub gateway.")
		}
	}

	if cfg.SMTPAddr != "" {
		if err := registry.Upsert(provider.Descriptor{
			Name:       "smtp-main",
			CanMail:    true,
			FactoryKey: gateways.FactoryKeySMTP,
			Params: map[string]string{
				"addr":     cfg.SMTPAddr,
				"username": cfg.SMTPUsername,
				"password": cfg.SMTPPassword,
			},
			Enabled: true,
		}); err != nil {
			logger.Fatal().Err(err).Msg("Failed to register SMTP provider.")
		}
	}
	if cfg.WebhookURL != "" {
		if err := registry.Upsert(provider.Descriptor{
			Name:       "webhook-main",
			CanText:    true,
			FactoryKey: gateways.FactoryKeyWebhook,
			Params:     map[string]string{"url": cfg.WebhookURL},
			Enabled:    true,
		}); err != nil {
			logger.Fatal().Err(err).Msg("Failed to register webhook provider.")
		}
	}
	if pubsubClient != nil && cfg.TextTopic != "" {
		if err := registry.Upsert(provider.Descriptor{
			Name:       "pubsub-texts",
			CanText:    true,
			FactoryKey: gateways.FactoryKeyPubsub,
			Params:     map[string]string{"topic": cfg.TextTopic},
			Enabled:    true,
		}); err != nil {
			logger.Fatal().Err(err).Msg("Failed to register Pub/Sub provider.")
		}
	}
	if cfg.SMTPAddr == "" && cfg.WebhookURL == "" && cfg.TextTopic == "" {
		// Development fallback so enqueued messages do not pile up unsent.
		if err := registry.Upsert(provider.Descriptor{
			Name:       "loopback-all",
			CanMail:    true,
			CanText:    true,
			FactoryKey: gateways.FactoryKeyLoopback,
			Enabled:    true,
		}); err != nil {
			logger.Fatal().Err(err).Msg("Failed to register loopback provider.")
		}
		logger.Warn().Msg("No delivery backends configured; using loopback provider.")
	}

	// --- Director ---
	director, err := pipeline.NewDirector(pipeline.Config{
		MaxErrorCount: cfg.MaxErrorCount,
		MaxDaysToLive: cfg.MaxDaysToLive,
		PhaseDelay:    cfg.PhaseDelay,
	}, messageStore, messageJournal, registry, factory, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create pipeline director.")
	}

	if cfg.ArchiveBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create GCS client.")
		}
		defer func() { _ = storageClient.Close() }()

		archiver, err := archive.NewGCSArchiver(archive.NewGCSClientAdapter(storageClient), archive.GCSArchiverConfig{
			BucketName:   cfg.ArchiveBucket,
			ObjectPrefix: "messages",
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create GCS archiver.")
		}
		defer func() { _ = archiver.Close() }()
		director.WithArchiver(archiver)
	}

	// --- Status lookup, optionally cached ---
	var statusFetcher cache.StatusFetcher = cache.NewStoreFetcher(messageStore)
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisStatusCache(ctx, &cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			CacheTTL: cfg.RedisTTL,
		}, statusFetcher, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect Redis status cache.")
		}
		defer func() { _ = redisCache.Close() }()
		statusFetcher = redisCache
	}

	// --- HTTP host ---
	server, err := microservice.NewServer(cfg, director, statusFetcher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create courier server.")
	}
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start courier server.")
	}

	logger.Info().Str("http_port", server.GetHTTPPort()).Msg("Courier service running.")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown did not complete cleanly.")
	}
}
