package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories if not exist", func(t *testing.T) {
		root := t.TempDir()
		tempDir := filepath.Join(root, "uploads")
		outDir := filepath.Join(root, "output")

		storage, err := NewLocalStorage(tempDir, outDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}
		if storage.OutputDir() != outDir {
			t.Errorf("OutputDir() = %v, want %v", storage.OutputDir(), outDir)
		}

		for _, dir := range []string{tempDir, outDir} {
			info, err := os.Stat(dir)
			if err != nil {
				t.Fatalf("directory not created: %v", err)
			}
			if !info.IsDir() {
				t.Errorf("%s: expected directory, got file", dir)
			}
		}
	})

	t.Run("uses default directories when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("", "")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "voicebook", "uploads")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("saves data to temp file", func(t *testing.T) {
		ctx := context.Background()
		data := bytes.NewReader([]byte("test data"))

		path, err := storage.SaveTemp(ctx, "book.pdf", data)
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.Contains(filepath.Base(path), "book.pdf_") {
			t.Errorf("path %s should contain 'book.pdf_'", path)
		}
		if filepath.Dir(path) != storage.TempDir() {
			t.Errorf("file saved outside temp dir: %s", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test data" {
			t.Errorf("got %q, want %q", string(content), "test data")
		}
	})

	t.Run("strips directories from the name hint", func(t *testing.T) {
		path, err := storage.SaveTemp(context.Background(), "../../etc/passwd", bytes.NewReader(nil))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if filepath.Dir(path) != storage.TempDir() {
			t.Errorf("file saved outside temp dir: %s", path)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := storage.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveTemp() error = %v", err)
			}
			paths = append(paths, path)
		}

		err := storage.CleanupTemp(ctx, paths)
		if err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		err := storage.CleanupTemp(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_RunLifecycle(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	dir, err := storage.RunDir("run-1")
	if err != nil {
		t.Fatalf("RunDir() error = %v", err)
	}
	if dir != filepath.Join(storage.OutputDir(), "run-1") {
		t.Errorf("RunDir() = %s", dir)
	}

	file := filepath.Join(dir, "01-intro.wav")
	if err := os.WriteFile(file, []byte("RIFF"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	public, err := storage.Publish(ctx, "run-1", file)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if public != "/output/run-1/01-intro.wav" {
		t.Errorf("Publish() = %s, want /output/run-1/01-intro.wav", public)
	}

	if err := storage.RemoveRun(ctx, "run-1"); err != nil {
		t.Fatalf("RemoveRun() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("run directory still exists")
	}

	// Removing twice is not an error.
	if err := storage.RemoveRun(ctx, "run-1"); err != nil {
		t.Errorf("second RemoveRun() error = %v", err)
	}
}

func TestLocalStorage_InvalidRunID(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	for _, runID := range []string{"", ".", "..", "../x", `a\b`} {
		if _, err := storage.RunDir(runID); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("RunDir(%q) error = %v, want ErrInvalidRunID", runID, err)
		}
		if err := storage.RemoveRun(ctx, runID); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("RemoveRun(%q) error = %v, want ErrInvalidRunID", runID, err)
		}
		if _, err := storage.Publish(ctx, runID, "a.wav"); !errors.Is(err, ErrInvalidRunID) {
			t.Errorf("Publish(%q) error = %v, want ErrInvalidRunID", runID, err)
		}
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := t.TempDir()

	storage, err := NewLocalStorage(filepath.Join(root, "uploads"), filepath.Join(root, "output"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}
