// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrCredentialsRequired is returned when neither YANDEX_API_KEY nor YANDEX_IAM_TOKEN is set.
	ErrCredentialsRequired = errors.New("config: YANDEX_API_KEY or YANDEX_IAM_TOKEN is required")
	// ErrFolderIDRequired is returned when YANDEX_FOLDER_ID is not set.
	ErrFolderIDRequired = errors.New("config: YANDEX_FOLDER_ID is required")
	// ErrInvalidValue is returned when a numeric setting is out of range.
	ErrInvalidValue = errors.New("config: invalid value")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port        int      `env:"PORT, default=3001" json:"port"`
	MaxUploadMB int      `env:"MAX_UPLOAD_MB, default=50" json:"max_upload_mb"`
	CORSOrigins []string `env:"CORS_ORIGINS, default=*" json:"cors_origins"`

	// Yandex Cloud credentials
	YandexAPIKey   string `env:"YANDEX_API_KEY" json:"-"`   // Masked in JSON
	YandexIAMToken string `env:"YANDEX_IAM_TOKEN" json:"-"` // Masked in JSON
	YandexFolderID string `env:"YANDEX_FOLDER_ID" json:"yandex_folder_id"`

	// Speech synthesis settings
	TTSURL        string        `env:"TTS_URL" json:"tts_url,omitempty"`
	TTSVoice      string        `env:"TTS_VOICE, default=ermil" json:"tts_voice"`
	TTSRole       string        `env:"TTS_ROLE, default=friendly" json:"tts_role"`
	TTSSpeed      float64       `env:"TTS_SPEED, default=1.0" json:"tts_speed"`
	TTSTimeout    time.Duration `env:"TTS_TIMEOUT, default=2m" json:"tts_timeout"`
	TTSRatePerSec float64       `env:"TTS_RATE_PER_SEC, default=5" json:"tts_rate_per_sec"`
	MaxTTSChars   int           `env:"MAX_TTS_CHARS, default=4000" json:"max_tts_chars"`

	// Chaptering model settings
	LLMBaseURL       string        `env:"LLM_BASE_URL, default=https://llm.api.cloud.yandex.net/v1" json:"llm_base_url"`
	LLMModel         string        `env:"LLM_MODEL, default=yandexgpt" json:"llm_model"`
	LLMMaxInputChars int           `env:"LLM_MAX_INPUT_CHARS, default=250000" json:"llm_max_input_chars"`
	LLMTimeout       time.Duration `env:"LLM_TIMEOUT, default=10m" json:"llm_timeout"`

	// Processing settings
	MinChapterMinutes int `env:"MIN_CHAPTER_MINUTES, default=30" json:"min_chapter_minutes"`
	WordsPerMinute    int `env:"WPM, default=150" json:"wpm"`
	MaxConcurrentRuns int `env:"MAX_CONCURRENT_RUNS, default=2" json:"max_concurrent_runs"`

	// Storage settings
	DataDir   string `env:"DATA_DIR, default=./data" json:"data_dir"`
	OutputDir string `env:"OUTPUT_DIR, default=./output" json:"output_dir"`
	UploadDir string `env:"UPLOAD_DIR, default=./uploads" json:"upload_dir"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// LLMToken returns the credential sent to the chaptering endpoint.
// The API key wins when both are set.
func (c *Config) LLMToken() string {
	if c.YandexAPIKey != "" {
		return c.YandexAPIKey
	}
	return c.YandexIAMToken
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	return LoadWith(context.Background(), envconfig.OsLookuper())
}

// LoadWith reads configuration from the given lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	if c.YandexAPIKey == "" && c.YandexIAMToken == "" {
		return ErrCredentialsRequired
	}
	if c.YandexFolderID == "" {
		return ErrFolderIDRequired
	}
	checks := []struct {
		name string
		ok   bool
	}{
		{"PORT", c.Port > 0 && c.Port < 65536},
		{"MAX_TTS_CHARS", c.MaxTTSChars > 0},
		{"MIN_CHAPTER_MINUTES", c.MinChapterMinutes > 0},
		{"WPM", c.WordsPerMinute > 0},
		{"MAX_CONCURRENT_RUNS", c.MaxConcurrentRuns > 0},
		{"MAX_UPLOAD_MB", c.MaxUploadMB > 0},
		{"TTS_SPEED", c.TTSSpeed > 0},
	}
	for _, chk := range checks {
		if !chk.ok {
			return fmt.Errorf("%w: %s", ErrInvalidValue, chk.name)
		}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, YandexFolderID: %s, TTSVoice: %s, LLMModel: %s, MinChapterMinutes: %d, WPM: %d, DataDir: %s, OutputDir: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.YandexFolderID,
		c.TTSVoice,
		c.LLMModel,
		c.MinChapterMinutes,
		c.WordsPerMinute,
		c.DataDir,
		c.OutputDir,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
