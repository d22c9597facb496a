// Package id provides unique identifier generation for runs.
package id

import "github.com/google/uuid"

// Generate creates a new unique run ID, a random (version 4) UUID.
// Run IDs name output directories, so they never contain path separators.
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s has the form produced by Generate.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}
