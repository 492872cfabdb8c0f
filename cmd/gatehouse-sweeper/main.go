package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openclave/gatehouse/pkg/audit"
	"github.com/openclave/gatehouse/pkg/broker"
	"github.com/openclave/gatehouse/pkg/observability"
	"github.com/openclave/gatehouse/pkg/storage"
)

var (
	dbURL           = flag.String("db-url", getEnv("GATEHOUSE_POSTGRES_URL", "postgres://localhost/gatehouse?sslmode=disable"), "PostgreSQL connection URL")
	redisURL        = flag.String("redis-url", getEnv("GATEHOUSE_REDIS_URL", "redis://localhost:6379/0"), "Redis connection URL")
	archiveSchedule = flag.String("archive-schedule", "30 2 * * *", "Cron schedule for audit archival (default: 02:30 UTC)")
	statsSchedule   = flag.String("stats-schedule", "*/15 * * * *", "Cron schedule for session/replay stats (default: every 15 minutes)")
	retentionDays   = flag.Int("retention-days", getEnvInt("GATEHOUSE_AUDIT_RETENTION_DAYS", 90), "Audit events older than this many days are archived or pruned")
	archiveBatch    = flag.Int("archive-batch", getEnvInt("GATEHOUSE_AUDIT_ARCHIVE_BATCH", 1000), "Events per archive object")
	archiveToS3     = flag.Bool("archive-to-s3", getEnv("GATEHOUSE_AUDIT_ARCHIVE_ENABLED", "") == "true", "Upload expired audit events to S3 before pruning; otherwise delete in place")
	runOnce         = flag.Bool("run-once", false, "Run one sweep and exit (for testing or backfilling)")
)

func main() {
	flag.Parse()

	logger := observability.NewLogger(observability.ParseLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")), os.Stdout).WithComponent("sweeper")

	storageCfg := storage.DefaultConfig()
	storageCfg.PostgresURL = *dbURL
	storageCfg.RedisURL = *redisURL

	db, err := storage.OpenPostgres(storageCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient, err := storage.NewRedisClient(storageCfg)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	auditStore, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to prepare audit store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver *audit.Archiver
	if *archiveToS3 {
		s3Client, err := storage.NewS3Client(ctx, loadS3Config(storageCfg))
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		archiver = audit.NewArchiver(auditStore, s3Client, *archiveBatch, logger)
	}

	sessions := broker.NewSessionStore(redisClient, 0)
	replays := broker.NewReplayGuard(redisClient, 0)

	// A panicking job must not take the scheduler down with it.
	sweep := func() {
		defer observability.RecoverPanic(logger, "audit sweep")
		cutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
		if archiver != nil {
			archived, err := archiver.Run(ctx, cutoff)
			if err != nil {
				logger.WithError(err).Error("audit archival failed")
			} else if archived > 0 {
				logger.WithField("events", archived).Info("audit events archived to S3")
			}
			return
		}
		pruned, err := auditStore.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logger.WithError(err).Error("audit pruning failed")
		} else if pruned > 0 {
			logger.WithField("events", pruned).Info("expired audit events pruned")
		}
	}

	stats := func() {
		defer observability.RecoverPanic(logger, "sweep stats")
		liveSessions, err := sessions.Count(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to count sessions")
			return
		}
		pendingReplays, err := replays.Pending(ctx)
		if err != nil {
			logger.WithError(err).Warn("failed to count replay guards")
			return
		}
		logger.WithFields(map[string]interface{}{
			"live_sessions":   liveSessions,
			"pending_replays": pendingReplays,
		}).Info("sweep stats")
	}

	if *runOnce {
		sweep()
		stats()
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*archiveSchedule, sweep); err != nil {
		log.Fatalf("Failed to schedule audit sweep: %v", err)
	}
	if _, err := c.AddFunc(*statsSchedule, stats); err != nil {
		log.Fatalf("Failed to schedule stats job: %v", err)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"archive_schedule": *archiveSchedule,
		"stats_schedule":   *statsSchedule,
		"retention_days":   *retentionDays,
	}).Info("gatehouse sweeper started")

	<-ctx.Done()
	logger.Info("shutting down")
	cronCtx := c.Stop()
	<-cronCtx.Done()
}

// loadS3Config fills the S3 half of the storage config from environment,
// matching the GATEHOUSE_S3_* surface the server uses.
func loadS3Config(cfg storage.Config) storage.Config {
	cfg.S3Endpoint = getEnv("GATEHOUSE_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("GATEHOUSE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("GATEHOUSE_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("GATEHOUSE_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("GATEHOUSE_S3_SECRET_KEY", cfg.S3SecretKey)
	if getEnv("GATEHOUSE_S3_USE_PATH_STYLE", "") == "true" {
		cfg.S3UsePathStyle = true
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
