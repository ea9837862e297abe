package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/emperorhan/guardrail-tuner/internal/tuner"
)

type Config struct {
	Tuner  TunerConfig
	Store  StoreConfig
	Server ServerConfig
	Alert  AlertConfig
	Log    LogConfig

	Heuristics tuner.Heuristics
}

type TunerConfig struct {
	UpdateInterval      time.Duration
	SampleTimeout       time.Duration
	WindowCapacity      int
	QueueCapacity       int
	HistoryPersistEvery int
	ReportEvery         int

	// HeuristicsFile, when non-empty, overlays tuning heuristics at
	// startup and is polled for changes at HeuristicsPollInterval.
	HeuristicsFile         string
	HeuristicsPollInterval time.Duration
}

type StoreConfig struct {
	DataDir string

	// DBURL enables the Postgres audit log when non-empty.
	DBURL           string
	DBMaxOpenConns  int
	DBMaxIdleConns  int
	DBConnMaxLifeMin int

	// RedisURL enables threshold publishing when non-empty.
	RedisURL string
}

type ServerConfig struct {
	AdminPort int
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	CooldownSec     int
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Tuner: TunerConfig{
			UpdateInterval:      time.Duration(getEnvInt("TUNER_UPDATE_INTERVAL_SEC", 30)) * time.Second,
			SampleTimeout:       time.Duration(getEnvInt("TUNER_SAMPLE_TIMEOUT_SEC", 10)) * time.Second,
			WindowCapacity:      getEnvInt("TUNER_WINDOW_CAPACITY", 1000),
			QueueCapacity:       getEnvInt("TUNER_QUEUE_CAPACITY", 256),
			HistoryPersistEvery: getEnvInt("TUNER_HISTORY_PERSIST_EVERY", 10),
			ReportEvery:         getEnvInt("TUNER_REPORT_EVERY", 50),

			HeuristicsFile:         getEnv("TUNER_HEURISTICS_FILE", ""),
			HeuristicsPollInterval: time.Duration(getEnvInt("TUNER_HEURISTICS_POLL_SEC", 30)) * time.Second,
		},
		Store: StoreConfig{
			DataDir:          getEnv("TUNER_DATA_DIR", "./data"),
			DBURL:            getEnv("DB_URL", ""),
			DBMaxOpenConns:   getEnvInt("DB_MAX_OPEN_CONNS", 5),
			DBMaxIdleConns:   getEnvInt("DB_MAX_IDLE_CONNS", 2),
			DBConnMaxLifeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30),
			RedisURL:         getEnv("REDIS_URL", ""),
		},
		Server: ServerConfig{
			AdminPort: getEnvInt("ADMIN_PORT", 8080),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			CooldownSec:     getEnvInt("ALERT_COOLDOWN_SEC", 300),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Heuristics: tuner.DefaultHeuristics(),
	}

	if cfg.Tuner.HeuristicsFile != "" {
		if err := loadHeuristicsFile(cfg.Tuner.HeuristicsFile, &cfg.Heuristics); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadHeuristicsFile overlays file values onto the defaults; keys absent
// from the file keep their default.
func loadHeuristicsFile(path string, h *tuner.Heuristics) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read heuristics file: %w", err)
	}
	if err := yaml.Unmarshal(data, h); err != nil {
		return fmt.Errorf("parse heuristics file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("TUNER_DATA_DIR is required")
	}
	if c.Server.AdminPort <= 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("ADMIN_PORT must be within [1, 65535]")
	}
	return validateHeuristics(c.Heuristics)
}

func validateHeuristics(h tuner.Heuristics) error {
	if h.StabilityRequirement < 0 || h.StabilityRequirement > 1 {
		return fmt.Errorf("stability_requirement must be within [0, 1]")
	}
	if h.ConfidenceFloor < 0 || h.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be within [0, 1]")
	}
	if h.CooldownSec < 0 {
		return fmt.Errorf("cooldown_sec must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
