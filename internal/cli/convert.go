package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voicebook/voicebook-api/internal/extract"
	"github.com/voicebook/voicebook-api/internal/job"
	"github.com/voicebook/voicebook-api/internal/speechkit"
)

type convertOptions struct {
	voice      string
	role       string
	speed      float64
	minMinutes int
	wpm        int
	jsonOut    bool
}

// ConvertCmd creates the convert command.
func ConvertCmd(env *Env) *cobra.Command {
	opts := &convertOptions{}

	cmd := &cobra.Command{
		Use:   "convert <file|->",
		Short: "Convert a document into chapter audio files",
		Long: `Convert a PDF, DOCX or text document into an audiobook.

The document is split into chapters, every chapter is synthesized into
its own WAV file and the run is added to the record catalog. Use "-" to
read plain text from stdin.`,
		Example: `  voicebook convert book.pdf
  voicebook convert notes.docx --voice alena --min-minutes 10
  cat story.txt | voicebook convert - --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, env, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.voice, "voice", "", "speaker voice (default from TTS_VOICE)")
	cmd.Flags().StringVar(&opts.role, "role", "", "speaking role (default from TTS_ROLE)")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "speech rate multiplier (default from TTS_SPEED)")
	cmd.Flags().IntVar(&opts.minMinutes, "min-minutes", 0, "minimum chapter length in minutes (default from MIN_CHAPTER_MINUTES)")
	cmd.Flags().IntVar(&opts.wpm, "wpm", 0, "reading speed in words per minute (default from WPM)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the record as JSON")

	return cmd
}

func runConvert(cmd *cobra.Command, env *Env, source string, opts *convertOptions) error {
	ctx := cmd.Context()
	if opts.speed < 0 || opts.minMinutes < 0 || opts.wpm < 0 {
		return fmt.Errorf("invalid argument: --speed, --min-minutes and --wpm must not be negative")
	}

	var (
		docText      string
		originalName string
	)
	if source == "-" {
		data, err := io.ReadAll(env.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		docText, originalName = string(data), extract.TextInputName
	} else {
		originalName = filepath.Base(source)
		text, err := extract.Extract(ctx, source, originalName)
		if err != nil {
			return err
		}
		docText = text
	}
	if strings.TrimSpace(docText) == "" {
		return ErrNoDocument
	}

	return withService(ctx, env, func(svc Service) error {
		fmt.Fprintf(env.Stderr, "Converting %s...\n", originalName)
		rec, err := svc.Process(ctx, job.ProcessDocumentInput{
			Text:              docText,
			OriginalName:      originalName,
			Voice:             speechkit.Voice{Name: opts.voice, Role: opts.role, Speed: opts.speed},
			MinChapterMinutes: opts.minMinutes,
			WordsPerMinute:    opts.wpm,
		})
		if err != nil {
			return err
		}
		if opts.jsonOut {
			return writeJSON(env.Stdout, rec)
		}
		printRecord(env.Stdout, rec)
		return nil
	})
}
