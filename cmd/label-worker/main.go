package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/telcoguard/fraud-decision/configs"
	"github.com/telcoguard/fraud-decision/internal/evidence"
	"github.com/telcoguard/fraud-decision/internal/features"
	"github.com/telcoguard/fraud-decision/internal/queue"
	"github.com/telcoguard/fraud-decision/internal/repositories"
	"github.com/telcoguard/fraud-decision/internal/store"
	"github.com/telcoguard/fraud-decision/internal/velocity"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Server.Environment).
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.LabelTopic).
		Msg("Starting label worker")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	kv, err := store.NewKV(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer kv.Close()

	evidenceRepo := repositories.NewEvidenceRepository(db)
	evidenceService, err := evidence.NewService(evidenceRepo, kv, cfg.Evidence)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize evidence service")
	}

	featureStore := features.NewStore(velocity.NewStore(kv), kv)

	handler := queue.NewLabelHandler(evidenceService, featureStore)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runVaultRetentionSweep(ctx, evidenceRepo)

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigchan
		log.Info().Str("signal", sig.String()).Msg("Shutting down label worker")
		cancel()
	}()

	if err := queue.ConsumeLabels(ctx, cfg.Kafka, handler); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Label consumer failed")
	}

	log.Info().Msg("Label worker exited")
}

// runVaultRetentionSweep deletes vault ciphertexts past their retention
// horizon once a day. The redacted evidence rows stay.
func runVaultRetentionSweep(ctx context.Context, repo *repositories.EvidenceRepository) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		deleted, err := repo.DeleteExpiredVaultRows(ctx)
		if err != nil {
			log.Error().Err(err).Msg("vault retention sweep failed")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("expired vault rows purged")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
