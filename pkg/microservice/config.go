package microservice

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the courier service configuration, loaded from the
// environment. Optional backends (Redis, Postgres, GCP) activate only when
// their address or project is set; everything else runs in-memory.
type Config struct {
	LogLevel string
	HTTPPort string

	// CycleInterval is the pause between pipeline cycles; StartupDelay holds
	// the first cycle back so the service can finish wiring providers.
	CycleInterval time.Duration
	StartupDelay  time.Duration
	PhaseDelay    time.Duration

	MaxErrorCount int
	MaxDaysToLive int

	ProjectID         string
	MessageCollection string
	JournalCollection string
	JournalTopic      string
	JournalDataset    string
	JournalTable      string
	ArchiveBucket     string

	PostgresURL string

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string

	WebhookURL string

	// TextTopic enables the Pub/Sub delivery provider for text messages.
	TextTopic string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		HTTPPort: getEnv("HTTP_PORT", ":8080"),

		MaxErrorCount: 3,
		MaxDaysToLive: 30,

		ProjectID:         os.Getenv("GCP_PROJECT_ID"),
		MessageCollection: getEnv("MESSAGE_COLLECTION", "messages"),
		JournalCollection: getEnv("JOURNAL_COLLECTION", "message-journal"),
		JournalTopic:      os.Getenv("JOURNAL_TOPIC"),
		JournalDataset:    os.Getenv("JOURNAL_DATASET"),
		JournalTable:      getEnv("JOURNAL_TABLE", "message_journal"),
		ArchiveBucket:     os.Getenv("ARCHIVE_BUCKET"),
		PostgresURL:       os.Getenv("POSTGRES_URL"),
		SMTPAddr:          os.Getenv("SMTP_ADDR"),
		SMTPUsername:      os.Getenv("SMTP_USERNAME"),
		SMTPPassword:      os.Getenv("SMTP_PASSWORD"),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		TextTopic:         os.Getenv("TEXT_TOPIC"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
	}

	var err error
	if cfg.CycleInterval, err = getEnvDuration("CYCLE_INTERVAL_SECONDS", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.StartupDelay, err = getEnvDuration("STARTUP_DELAY_SECONDS", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.PhaseDelay, err = getEnvDuration("PHASE_DELAY_SECONDS", 0); err != nil {
		return nil, err
	}
	if cfg.MaxErrorCount, err = getEnvInt("MAX_ERROR_COUNT", 3); err != nil {
		return nil, err
	}
	if cfg.MaxDaysToLive, err = getEnvInt("MAX_DAYS_TO_LIVE", 30); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTTL, err = getEnvDuration("REDIS_TTL_SECONDS", time.Hour); err != nil {
		return nil, err
	}

	if cfg.CycleInterval <= 0 {
		return nil, fmt.Errorf("CYCLE_INTERVAL_SECONDS must be > 0")
	}
	if cfg.MaxErrorCount <= 0 {
		return nil, fmt.Errorf("MAX_ERROR_COUNT must be > 0")
	}
	if cfg.MaxDaysToLive <= 0 {
		return nil, fmt.Errorf("MAX_DAYS_TO_LIVE must be > 0")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	seconds, err := getEnvInt(key, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(seconds) * time.Second, nil
}
