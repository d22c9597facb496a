// Package cli implements the voicebook command line: converting a document
// on the local machine and managing the record catalog.
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/voicebook/voicebook-api/internal/bootstrap"
	"github.com/voicebook/voicebook-api/internal/config"
	"github.com/voicebook/voicebook-api/internal/job"
)

// ErrNoDocument is returned when convert gets an empty document.
var ErrNoDocument = errors.New("no document text")

// Service is the part of job.ProcessDocumentService the commands use.
type Service interface {
	Process(ctx context.Context, in job.ProcessDocumentInput) (*job.Record, error)
	GetRecord(ctx context.Context, id string) (*job.Record, error)
	ListRecords(ctx context.Context) ([]*job.Record, error)
	DeleteRecord(ctx context.Context, id string) error
}

// Compile-time interface compliance check.
var _ Service = (*job.ProcessDocumentService)(nil)

// ServiceOpener builds the service on first use and returns a release func.
type ServiceOpener func(ctx context.Context) (Service, func() error, error)

// Env holds injectable dependencies for CLI commands.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Open   ServiceOpener
}

// DefaultEnv returns an Env wired to the process streams and to the
// services described by the environment configuration.
func DefaultEnv() *Env {
	return &Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Open:   openFromConfig,
	}
}

func openFromConfig(_ context.Context) (Service, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return deps.DocumentService, deps.Close, nil
}

// withService opens the service, runs fn and releases the service.
func withService(ctx context.Context, env *Env, fn func(Service) error) (err error) {
	svc, release, err := env.Open(ctx)
	if err != nil {
		return err
	}
	if release != nil {
		defer func() {
			if cerr := release(); err == nil && cerr != nil {
				err = cerr
			}
		}()
	}
	return fn(svc)
}
