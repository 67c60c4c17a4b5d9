package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config carries every tunable the pipeline needs. It is built once at
// startup and handed to constructors; nothing reads the environment after
// Load returns.
type Config struct {
	ClipsDir    string
	DatabaseURL string
	ExportPath  string

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	TranscribeModel   string
	Language          string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	BatchSize     int
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	TranscribeRPM int
	AnalyzeRPM    int

	RequestTimeout time.Duration
	MaxOpenConns   int
	MaxIdleConns   int

	Resume         bool
	ForceReprocess bool
	MockProviders  bool
}

func Load() (Config, error) {
	cfg := Config{}

	cfg.ClipsDir = envOrDefault("CLIPS_DIR", "./clips")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.ExportPath = os.Getenv("EXPORT_PATH")

	cfg.ElevenLabsAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	cfg.ElevenLabsBaseURL = envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1")
	cfg.TranscribeModel = envOrDefault("TRANSCRIBE_MODEL", "scribe_v1")
	cfg.Language = envOrDefault("LANGUAGE", "en")

	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	cfg.OpenAIModel = envOrDefault("OPENAI_MODEL", "gpt-4o")

	var err error
	if cfg.BatchSize, err = parseIntEnv("BATCH_SIZE", 10); err != nil {
		return Config{}, fmt.Errorf("parse BATCH_SIZE: %w", err)
	}
	if cfg.MaxAttempts, err = parseIntEnv("MAX_RETRIES", 3); err != nil {
		return Config{}, fmt.Errorf("parse MAX_RETRIES: %w", err)
	}
	if cfg.BaseDelay, err = parseDurationEnv("BASE_DELAY", time.Second); err != nil {
		return Config{}, fmt.Errorf("parse BASE_DELAY: %w", err)
	}
	if cfg.MaxDelay, err = parseDurationEnv("MAX_DELAY", 30*time.Second); err != nil {
		return Config{}, fmt.Errorf("parse MAX_DELAY: %w", err)
	}
	if cfg.TranscribeRPM, err = parseIntEnv("TRANSCRIBE_RPM", 0); err != nil {
		return Config{}, fmt.Errorf("parse TRANSCRIBE_RPM: %w", err)
	}
	if cfg.AnalyzeRPM, err = parseIntEnv("ANALYZE_RPM", 0); err != nil {
		return Config{}, fmt.Errorf("parse ANALYZE_RPM: %w", err)
	}
	if cfg.RequestTimeout, err = parseDurationEnv("REQUEST_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, fmt.Errorf("parse REQUEST_TIMEOUT: %w", err)
	}
	if cfg.MaxOpenConns, err = parseIntEnv("DB_MAX_OPEN_CONNS", 10); err != nil {
		return Config{}, fmt.Errorf("parse DB_MAX_OPEN_CONNS: %w", err)
	}
	if cfg.MaxIdleConns, err = parseIntEnv("DB_MAX_IDLE_CONNS", 5); err != nil {
		return Config{}, fmt.Errorf("parse DB_MAX_IDLE_CONNS: %w", err)
	}

	cfg.MockProviders = os.Getenv("USE_MOCK_PROVIDERS") == "true"

	absClipsDir, err := filepath.Abs(cfg.ClipsDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve clips dir: %w", err)
	}
	cfg.ClipsDir = absClipsDir

	return cfg, nil
}

// Validate covers the process-fatal startup conditions: missing credentials
// or an unusable run shape. Everything else is a per-clip failure.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL not set")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("backoff bounds invalid: base=%s max=%s", c.BaseDelay, c.MaxDelay)
	}
	if !c.MockProviders {
		if c.ElevenLabsAPIKey == "" {
			return errors.New("ELEVENLABS_API_KEY not set")
		}
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY not set")
		}
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int) (int, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	num, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func parseDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	return d, nil
}
