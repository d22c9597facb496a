package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidRunID is returned when a run id could escape the output directory.
var ErrInvalidRunID = errors.New("storage: invalid run id")

// DefaultPublicPrefix is the URL path chapter files are served under.
const DefaultPublicPrefix = "/output"

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage on local disk. Uploads go to tempDir and
// run output to outputDir/<runID>, which the HTTP server exposes under
// the public prefix.
type LocalStorage struct {
	tempDir      string
	outputDir    string
	publicPrefix string
}

// NewLocalStorage creates a new LocalStorage instance.
// Empty directories default to subdirectories of os.TempDir().
// Both directories are created if they don't exist.
func NewLocalStorage(tempDir, outputDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "voicebook", "uploads")
	}
	if outputDir == "" {
		outputDir = filepath.Join(os.TempDir(), "voicebook", "output")
	}

	for _, dir := range []string{tempDir, outputDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return &LocalStorage{
		tempDir:      tempDir,
		outputDir:    outputDir,
		publicPrefix: DefaultPublicPrefix,
	}, nil
}

// TempDir returns the upload directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// OutputDir returns the root of all run directories.
func (s *LocalStorage) OutputDir() string {
	return s.outputDir
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, sanitizeName(name)+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// RunDir creates outputDir/<runID> and returns it.
func (s *LocalStorage) RunDir(runID string) (string, error) {
	dir, err := s.runPath(runID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create run directory: %w", err)
	}
	return dir, nil
}

// Publish returns the public path of a file in the run directory. The file
// itself is already in place and is served by the HTTP server.
func (s *LocalStorage) Publish(_ context.Context, runID, filePath string) (string, error) {
	if _, err := s.runPath(runID); err != nil {
		return "", err
	}
	return path.Join(s.publicPrefix, runID, filepath.Base(filePath)), nil
}

// RemoveRun deletes the run directory tree.
func (s *LocalStorage) RemoveRun(_ context.Context, runID string) error {
	dir, err := s.runPath(runID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove run directory: %w", err)
	}
	return nil
}

func (s *LocalStorage) runPath(runID string) (string, error) {
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return filepath.Join(s.outputDir, runID), nil
}

// sanitizeName keeps a temp file name hint free of path separators.
func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r == '*' || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	if name == "." || name == "" {
		return "upload"
	}
	return name
}
