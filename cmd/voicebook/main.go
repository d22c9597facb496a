// Package main provides the voicebook command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/voicebook/voicebook-api/internal/cli"
	"github.com/voicebook/voicebook-api/internal/config"
	"github.com/voicebook/voicebook-api/internal/extract"
	"github.com/voicebook/voicebook-api/internal/job"
)

// Injected at build time via ldflags.
var version = "dev"

// Exit codes.
const (
	ExitOK        = 0
	ExitGeneral   = 1
	ExitSetup     = 3
	ExitInput     = 4
	ExitInterrupt = 130
)

func main() {
	// Load .env file if present (ignore error if missing).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env := cli.DefaultEnv()

	rootCmd := &cobra.Command{
		Use:           "voicebook",
		Short:         "Turn documents into chaptered audiobooks",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.AddCommand(cli.ConvertCmd(env))
	rootCmd.AddCommand(cli.RecordsCmd(env))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled):
		return ExitInterrupt
	case errors.Is(err, config.ErrCredentialsRequired),
		errors.Is(err, config.ErrFolderIDRequired),
		errors.Is(err, config.ErrInvalidValue):
		return ExitSetup
	case errors.Is(err, job.ErrInput),
		errors.Is(err, cli.ErrNoDocument),
		errors.Is(err, extract.ErrExtract),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, job.ErrRecordNotFound):
		return ExitInput
	default:
		return ExitGeneral
	}
}
