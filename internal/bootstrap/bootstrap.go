// Package bootstrap provides dependency initialization for the voicebook API
// and CLI.
package bootstrap

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/voicebook/voicebook-api/internal/audio"
	"github.com/voicebook/voicebook-api/internal/chaptering"
	"github.com/voicebook/voicebook-api/internal/config"
	"github.com/voicebook/voicebook-api/internal/job"
	"github.com/voicebook/voicebook-api/internal/speechkit"
	"github.com/voicebook/voicebook-api/internal/storage"
	"github.com/voicebook/voicebook-api/internal/synth"
)

// RecordsFile is the name of the record database inside DATA_DIR.
const RecordsFile = "records.db"

// Dependencies holds all initialized dependencies for the binaries.
type Dependencies struct {
	DocumentService *job.ProcessDocumentService
	Storage         storage.Storage
	OutputDir       string

	repo *job.BoltRepository
}

// Close releases the record database.
func (d *Dependencies) Close() error {
	if d.repo == nil {
		return nil
	}
	return d.repo.Close()
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	speaker, err := initSpeechKit(cfg)
	if err != nil {
		return nil, err
	}
	synthesizer := synth.New(speaker, audio.NewWAVSplicer(), logger)

	chapters := chaptering.NewOpenAIService(
		chaptering.NewClient(cfg.LLMBaseURL, cfg.LLMToken(), &http.Client{Timeout: cfg.LLMTimeout}),
		chaptering.WithModel(chaptering.ModelURI(cfg.YandexFolderID, cfg.LLMModel)),
		chaptering.WithMaxInputChars(cfg.LLMMaxInputChars),
		chaptering.WithLogger(logger),
	)

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(cfg.DataDir, RecordsFile)
	repo, err := job.OpenBoltRepository(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	logger.Info("record store opened", slog.String("path", dbPath))

	svc := job.NewProcessDocumentService(
		repo,
		chapters,
		synthesizer,
		store,
		logger,
		job.WithMaxTTSChars(cfg.MaxTTSChars),
		job.WithMaxConcurrentRuns(cfg.MaxConcurrentRuns),
		job.WithDefaults(cfg.MinChapterMinutes, cfg.WordsPerMinute, speechkit.Voice{
			Name:  cfg.TTSVoice,
			Role:  cfg.TTSRole,
			Speed: cfg.TTSSpeed,
		}),
	)

	return &Dependencies{
		DocumentService: svc,
		Storage:         store,
		OutputDir:       cfg.OutputDir,
		repo:            repo,
	}, nil
}

// initSpeechKit creates the synthesis client. The API key wins when both
// credentials are set.
func initSpeechKit(cfg *config.Config) (*speechkit.Client, error) {
	opts := []speechkit.ClientOption{
		speechkit.WithFolderID(cfg.YandexFolderID),
		speechkit.WithTimeout(cfg.TTSTimeout),
		speechkit.WithRateLimit(cfg.TTSRatePerSec),
	}
	if cfg.YandexAPIKey != "" {
		opts = append(opts, speechkit.WithAPIKey(cfg.YandexAPIKey))
	} else {
		opts = append(opts, speechkit.WithIAMToken(cfg.YandexIAMToken))
	}
	if cfg.TTSURL != "" {
		opts = append(opts, speechkit.WithBaseURL(cfg.TTSURL))
	}

	client, err := speechkit.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create SpeechKit client: %w", err)
	}
	return client, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.UploadDir, cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("upload_dir", cfg.UploadDir),
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
