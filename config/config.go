package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	rcron "github.com/robfig/cron/v3"
)

const (
	defaultFrontendURL    = "http://localhost:3000"
	defaultBackendURL     = "http://localhost:5000"
	defaultPort           = "5000"
	defaultUploadDir      = "backend/uploads"
	defaultJournalPath    = "file_drop.db"
	defaultMaxUploadBytes = 100 << 20
	defaultPartialMaxAge  = time.Hour
	defaultSweepSchedule  = "0 */15 * * * *"
	defaultMirrorSchedule = "0 0 * * * *"
	defaultBackupSchedule = "0 30 * * * *"
	defaultShutdown       = 10 * time.Second
)

// Config holds everything the service reads from the environment.
type Config struct {
	FrontendURL string
	BackendURL  string
	Port        string
	UploadDir   string

	LogFormat string
	LogLevel  slog.Level

	MaxUploadBytes int64
	NameLocks      bool

	JournalPath string

	PartialMaxAge time.Duration
	SweepSchedule string

	Azure          AzureConfig
	MirrorSchedule string
	BackupSchedule string

	ShutdownTimeout time.Duration
}

type AzureConfig struct {
	Account         string
	Key             string
	AssetsContainer string
	BackupContainer string
	PublicBaseURL   string
}

// Enabled reports whether every setting needed for blob storage is present.
func (a AzureConfig) Enabled() bool {
	return a.Account != "" && a.Key != "" && a.AssetsContainer != "" && a.BackupContainer != ""
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (*Config, error) {
	cfg := &Config{
		FrontendURL:    getEnv("FRONTEND_URL", defaultFrontendURL),
		BackendURL:     strings.TrimRight(getEnv("BACKEND_URL", defaultBackendURL), "/"),
		Port:           getEnv("PORT", defaultPort),
		UploadDir:      getEnv("UPLOAD_DIR", defaultUploadDir),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		JournalPath:    defaultJournalPath,
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", defaultSweepSchedule),
		MirrorSchedule: getEnv("MIRROR_SCHEDULE", defaultMirrorSchedule),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", defaultBackupSchedule),
		Azure: AzureConfig{
			Account:         os.Getenv("AZURE_STORAGE_ACCOUNT"),
			Key:             os.Getenv("AZURE_STORAGE_KEY"),
			AssetsContainer: os.Getenv("ASSETS_CONTAINER"),
			BackupContainer: os.Getenv("BACKUP_CONTAINER"),
			PublicBaseURL:   os.Getenv("CDN_BASE_URL"),
		},
	}
	// An explicitly empty JOURNAL_PATH turns the journal off.
	if v, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		cfg.JournalPath = strings.TrimSpace(v)
	}

	var err error
	if cfg.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes, err = parsePositiveInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes); err != nil {
		return nil, err
	}
	if cfg.NameLocks, err = parseBool("NAME_LOCKS", false); err != nil {
		return nil, err
	}
	if cfg.PartialMaxAge, err = parseDuration("PARTIAL_MAX_AGE", defaultPartialMaxAge); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", defaultShutdown); err != nil {
		return nil, err
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return nil, fmt.Errorf("PORT must be numeric, got %q", cfg.Port)
	}

	for key, schedule := range map[string]string{
		"SWEEP_SCHEDULE":  cfg.SweepSchedule,
		"MIRROR_SCHEDULE": cfg.MirrorSchedule,
		"BACKUP_SCHEDULE": cfg.BackupSchedule,
	} {
		if _, err := scheduleParser.Parse(schedule); err != nil {
			return nil, fmt.Errorf("%s: invalid cron expression %q: %w", key, schedule, err)
		}
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// scheduleParser matches the seconds-enabled parser the scheduler runs with.
var scheduleParser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func parsePositiveInt(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, raw)
	}
	return b, nil
}

func parseDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
