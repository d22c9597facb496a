// Package storage manages the files of a run: uploaded documents waiting
// for extraction, the per-run output directory holding chapter audio, and
// the public location each chapter file is published under.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for upload and run output storage.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// RunDir creates and returns the output directory of a run.
	RunDir(runID string) (string, error)

	// Publish makes a chapter file of a run available to clients and
	// returns the path or URL it can be fetched from.
	Publish(ctx context.Context, runID, filePath string) (string, error)

	// RemoveRun deletes everything stored for a run.
	RemoveRun(ctx context.Context, runID string) error
}
