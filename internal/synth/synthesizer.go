// Package synth turns the text of one chapter into a single WAV file.
//
// The chapter is segmented into speech-sized chunks which are synthesized
// one at a time, in order, into a private temporary directory and then
// spliced together. A chunk rejected by the speech service as too long is
// re-segmented with a smaller limit and its pieces are synthesized and
// spliced back into one fragment that takes the chunk's place.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicebook/voicebook-api/internal/audio"
	"github.com/voicebook/voicebook-api/internal/speechkit"
	"github.com/voicebook/voicebook-api/internal/text"
)

// Static errors for chapter synthesis.
var (
	// ErrSynthesis is returned when the speech service fails for any reason
	// other than a recoverable too-long rejection.
	ErrSynthesis = errors.New("synth: synthesis failed")
	// ErrLimitExhausted is returned when a chunk is still rejected as too
	// long at the smallest allowed limit.
	ErrLimitExhausted = errors.New("synth: text still too long at minimum chunk size")
	// ErrEmptyChapter is returned when the chapter has no text to speak.
	ErrEmptyChapter = errors.New("synth: chapter text is empty")
)

const (
	defaultShrinkPercent = 70
	defaultMinChars      = 800
	defaultMaxDepth      = 12
)

// Speaker synthesizes a single chunk of text into a WAV file at outPath.
// *speechkit.Client implements this interface.
type Speaker interface {
	Synthesize(ctx context.Context, text, outPath string, voice speechkit.Voice) error
}

// Synthesizer produces chapter audio files.
type Synthesizer struct {
	speaker       Speaker
	splicer       audio.Splicer
	logger        *slog.Logger
	shrinkPercent int
	minChars      int
	maxDepth      int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMinChars sets the floor for the reduced limit used when re-splitting.
func WithMinChars(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.minChars = n
		}
	}
}

// WithShrinkPercent sets the percentage of the current limit used on every
// re-split. Values outside 1..99 are ignored.
func WithShrinkPercent(p int) Option {
	return func(s *Synthesizer) {
		if p > 0 && p < 100 {
			s.shrinkPercent = p
		}
	}
}

// WithMaxDepth bounds the re-split recursion.
func WithMaxDepth(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// New creates a new Synthesizer.
func New(speaker Speaker, splicer audio.Splicer, logger *slog.Logger, opts ...Option) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synthesizer{
		speaker:       speaker,
		splicer:       splicer,
		logger:        logger,
		shrinkPercent: defaultShrinkPercent,
		minChars:      defaultMinChars,
		maxDepth:      defaultMaxDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SynthesizeChapter speaks chapterText into outFile and returns outFile.
//
// Chunks are synthesized sequentially; playback order is the order
// returned by text.Segment. Temporary parts live in outFile + ".parts",
// which is removed whether or not synthesis succeeds.
func (s *Synthesizer) SynthesizeChapter(ctx context.Context, chapterText, outFile string, voice speechkit.Voice, maxChars int) (string, error) {
	chunks, err := text.Segment(chapterText, maxChars)
	if err != nil {
		return "", err
	}
	if len(chunks) == 1 && strings.TrimSpace(chunks[0]) == "" {
		return "", ErrEmptyChapter
	}

	tmpDir := outFile + ".parts"
	if err := os.MkdirAll(tmpDir, 0750); err != nil {
		return "", fmt.Errorf("create parts directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			s.logger.Warn("failed to remove parts directory",
				slog.String("dir", tmpDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	s.logger.Debug("synthesizing chapter",
		slog.String("out_file", outFile),
		slog.Int("chunks", len(chunks)),
		slog.Int("max_chars", maxChars),
	)

	c := &chapterRun{Synthesizer: s, dir: tmpDir, voice: voice}
	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		part, err := c.synthesize(ctx, chunk, fmt.Sprintf("part-%03d", i), maxChars, 0)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}

	if err := s.splicer.Splice(ctx, parts, outFile); err != nil {
		return "", fmt.Errorf("splice chapter: %w", err)
	}
	return outFile, nil
}

// chapterRun carries the state of one SynthesizeChapter call.
type chapterRun struct {
	*Synthesizer
	dir   string
	voice speechkit.Voice
}

// synthesize produces one audio fragment for chunk and returns its path.
// key names the fragment; sub-fragments extend it so names never collide.
func (c *chapterRun) synthesize(ctx context.Context, chunk, key string, limit, depth int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrSynthesis, key, err)
	}

	path := filepath.Join(c.dir, key+".wav")
	err := c.speaker.Synthesize(ctx, chunk, path, c.voice)
	if err == nil {
		return path, nil
	}
	if !speechkit.IsTooLong(err) {
		return "", fmt.Errorf("%w: %s: %w", ErrSynthesis, key, err)
	}

	next := c.reducedLimit(limit)
	if next >= limit || depth >= c.maxDepth {
		return "", fmt.Errorf("%w: %s at limit %d: %w", ErrSynthesis, key, limit, ErrLimitExhausted)
	}

	c.logger.Warn("chunk rejected as too long, splitting further",
		slog.String("part", key),
		slog.Int("limit", limit),
		slog.Int("next_limit", next),
	)

	pieces, err := text.Segment(chunk, next)
	if err != nil {
		return "", err
	}

	subs := make([]string, 0, len(pieces))
	for j, piece := range pieces {
		sub, err := c.synthesize(ctx, piece, fmt.Sprintf("%s-%02d", key, j), next, depth+1)
		if err != nil {
			return "", err
		}
		subs = append(subs, sub)
	}

	merged := filepath.Join(c.dir, key+".merged.wav")
	if err := c.splicer.Splice(ctx, subs, merged); err != nil {
		return "", fmt.Errorf("splice %s: %w", key, err)
	}
	for _, sub := range subs {
		if err := os.Remove(sub); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove sub-part",
				slog.String("path", sub),
				slog.String("error", err.Error()),
			)
		}
	}
	return merged, nil
}

// reducedLimit returns the limit for the next re-split level.
func (s *Synthesizer) reducedLimit(limit int) int {
	return max(s.minChars, limit*s.shrinkPercent/100)
}
