package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/voicebook/voicebook-api/internal/chaptering"
	"github.com/voicebook/voicebook-api/internal/speechkit"
	"github.com/voicebook/voicebook-api/internal/storage"
	"github.com/voicebook/voicebook-api/internal/text"
)

// ErrInput is returned when the document has too little text to convert.
var ErrInput = errors.New("job: not enough input text")

// ErrRunInProgress is returned when deleting a record whose run has not finished.
var ErrRunInProgress = errors.New("job: run in progress")

// MinInputChars is the shortest trimmed document accepted by Process.
const MinInputChars = 50

const (
	defaultMinChapterMinutes = 30
	defaultWordsPerMinute    = 150
	defaultMaxTTSChars       = 4000
	defaultMaxConcurrentRuns = 2
)

// ChapterSynthesizer turns one chapter into an audio file.
// *synth.Synthesizer implements this interface.
type ChapterSynthesizer interface {
	SynthesizeChapter(ctx context.Context, chapterText, outFile string, voice speechkit.Voice, maxChars int) (string, error)
}

// ProcessDocumentInput contains the input parameters for one run.
type ProcessDocumentInput struct {
	// Text is the extracted document text.
	Text string
	// OriginalName is the name shown in the record.
	OriginalName string
	// Voice selects the speaker; zero fields keep the service default.
	Voice speechkit.Voice
	// MinChapterMinutes is the reading-time target per chapter; zero uses the default.
	MinChapterMinutes int
	// WordsPerMinute is the reading speed used for estimates; zero uses the default.
	WordsPerMinute int
}

// ProcessDocumentService orchestrates a run: chaptering the document,
// merging short chapters, synthesizing every chapter in order and
// recording the outcome.
type ProcessDocumentService struct {
	repo     Repository
	chapters chaptering.Service
	synth    ChapterSynthesizer
	storage  storage.Storage
	logger   *slog.Logger

	sem               *semaphore.Weighted
	activeMu          sync.Mutex
	active            map[string]struct{}
	maxConcurrentRuns int
	maxTTSChars       int
	minChapterMinutes int
	wordsPerMinute    int
	voice             speechkit.Voice
}

// ServiceOption configures a ProcessDocumentService.
type ServiceOption func(*ProcessDocumentService)

// WithMaxTTSChars sets the chunk limit passed to the synthesizer.
func WithMaxTTSChars(n int) ServiceOption {
	return func(s *ProcessDocumentService) {
		if n > 0 {
			s.maxTTSChars = n
		}
	}
}

// WithMaxConcurrentRuns caps the number of runs processed at once.
// Further calls to Process wait for a free slot.
func WithMaxConcurrentRuns(n int) ServiceOption {
	return func(s *ProcessDocumentService) {
		if n > 0 {
			s.maxConcurrentRuns = n
		}
	}
}

// WithDefaults sets the values used when the input leaves them zero.
func WithDefaults(minChapterMinutes, wordsPerMinute int, voice speechkit.Voice) ServiceOption {
	return func(s *ProcessDocumentService) {
		if minChapterMinutes > 0 {
			s.minChapterMinutes = minChapterMinutes
		}
		if wordsPerMinute > 0 {
			s.wordsPerMinute = wordsPerMinute
		}
		if voice.Name != "" {
			s.voice = voice
		}
	}
}

// NewProcessDocumentService creates a new ProcessDocumentService.
func NewProcessDocumentService(
	repo Repository,
	chapters chaptering.Service,
	synth ChapterSynthesizer,
	store storage.Storage,
	logger *slog.Logger,
	opts ...ServiceOption,
) *ProcessDocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ProcessDocumentService{
		repo:              repo,
		chapters:          chapters,
		synth:             synth,
		storage:           store,
		logger:            logger,
		maxConcurrentRuns: defaultMaxConcurrentRuns,
		maxTTSChars:       defaultMaxTTSChars,
		minChapterMinutes: defaultMinChapterMinutes,
		wordsPerMinute:    defaultWordsPerMinute,
		voice:             speechkit.DefaultVoice(),
		active:            make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sem = semaphore.NewWeighted(int64(s.maxConcurrentRuns))
	return s
}

// Process converts a document into chapter audio files.
//
// The run is recorded as RUNNING before any work starts. On success the
// record is COMPLETED with its chapters; on any failure the output
// directory is removed, the record is saved as FAILED and the error is
// returned together with that record. Input shorter than MinInputChars is
// rejected with ErrInput before a record is created.
func (s *ProcessDocumentService) Process(ctx context.Context, in ProcessDocumentInput) (*Record, error) {
	doc := strings.TrimSpace(in.Text)
	if n := utf8.RuneCountInString(doc); n < MinInputChars {
		return nil, fmt.Errorf("%w: %d characters, need at least %d", ErrInput, n, MinInputChars)
	}

	minMinutes := in.MinChapterMinutes
	if minMinutes <= 0 {
		minMinutes = s.minChapterMinutes
	}
	wpm := in.WordsPerMinute
	if wpm <= 0 {
		wpm = s.wordsPerMinute
	}
	voice := s.voice
	if in.Voice.Name != "" {
		voice.Name = in.Voice.Name
	}
	if in.Voice.Role != "" {
		voice.Role = in.Voice.Role
	}
	if in.Voice.Speed > 0 {
		voice.Speed = in.Voice.Speed
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for run slot: %w", err)
	}
	defer s.sem.Release(1)

	rec := NewRecord(in.OriginalName)
	s.setActive(rec.ID, true)
	defer s.setActive(rec.ID, false)

	outDir, err := s.storage.RunDir(rec.ID)
	if err != nil {
		return nil, err
	}
	rec.SetOutDir(outDir)

	logger := s.logger.With(slog.String("run_id", rec.ID))
	if err := s.repo.Save(ctx, rec); err != nil {
		s.removeRun(ctx, logger, rec.ID)
		return nil, fmt.Errorf("save record: %w", err)
	}

	logger.Info("run started",
		slog.String("original_name", in.OriginalName),
		slog.Int("chars", utf8.RuneCountInString(doc)),
		slog.Int("min_chapter_minutes", minMinutes),
		slog.Int("wpm", wpm),
		slog.String("voice", voice.Name),
	)

	results, err := s.run(ctx, logger, rec.ID, outDir, doc, voice, minMinutes, wpm)
	if err != nil {
		s.fail(ctx, logger, rec, err)
		return rec.Clone(), err
	}

	if err := rec.Complete(results); err != nil {
		return rec.Clone(), err
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return rec.Clone(), fmt.Errorf("save record: %w", err)
	}

	logger.Info("run completed", slog.Int("chapters", len(results)))
	return rec.Clone(), nil
}

func (s *ProcessDocumentService) run(
	ctx context.Context,
	logger *slog.Logger,
	runID, outDir, doc string,
	voice speechkit.Voice,
	minMinutes, wpm int,
) ([]ChapterResult, error) {
	proposed, err := s.chapters.Chapters(ctx, doc, chaptering.Request{
		MaxMinutes:     minMinutes,
		WordsPerMinute: wpm,
	})
	if err != nil {
		return nil, err
	}

	chapters := chaptering.MergeShort(proposed, minMinutes*wpm)
	logger.Info("chapters ready",
		slog.Int("proposed", len(proposed)),
		slog.Int("merged", len(chapters)),
	)

	results := make([]ChapterResult, 0, len(chapters))
	for i, ch := range chapters {
		index := i + 1
		words := text.CountWords(ch.Text)
		fileName := text.ChapterFileName(index, ch.Title)
		outFile := filepath.Join(outDir, fileName)

		logger.Info("synthesizing chapter",
			slog.Int("chapter", index),
			slog.Int("of", len(chapters)),
			slog.Int("words", words),
		)
		if _, err := s.synth.SynthesizeChapter(ctx, ch.Text, outFile, voice, s.maxTTSChars); err != nil {
			return nil, fmt.Errorf("chapter %d: %w", index, err)
		}

		audioPath, err := s.storage.Publish(ctx, runID, outFile)
		if err != nil {
			return nil, fmt.Errorf("publish chapter %d: %w", index, err)
		}

		results = append(results, ChapterResult{
			Index:     index,
			Title:     ch.Title,
			Words:     words,
			Minutes:   EstimateMinutes(words, wpm, minMinutes),
			AudioFile: fileName,
			AudioPath: audioPath,
		})
	}
	return results, nil
}

// fail removes the run output and records the failure. It runs even when
// ctx is already cancelled.
func (s *ProcessDocumentService) fail(ctx context.Context, logger *slog.Logger, rec *Record, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger.Error("run failed", slog.String("error", cause.Error()))

	s.removeRun(ctx, logger, rec.ID)
	if err := rec.Fail(cause.Error()); err != nil {
		logger.Error("failed to mark run as failed", slog.String("error", err.Error()))
		return
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		logger.Error("failed to save failed record", slog.String("error", err.Error()))
	}
}

func (s *ProcessDocumentService) removeRun(ctx context.Context, logger *slog.Logger, runID string) {
	if err := s.storage.RemoveRun(context.WithoutCancel(ctx), runID); err != nil {
		logger.Warn("failed to remove run output", slog.String("error", err.Error()))
	}
}

func (s *ProcessDocumentService) setActive(runID string, active bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if active {
		s.active[runID] = struct{}{}
		return
	}
	delete(s.active, runID)
}

func (s *ProcessDocumentService) isActive(runID string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	_, ok := s.active[runID]
	return ok
}

// GetRecord retrieves a record by run ID.
func (s *ProcessDocumentService) GetRecord(ctx context.Context, id string) (*Record, error) {
	return s.repo.FindByID(ctx, id)
}

// ListRecords returns all records, newest first.
func (s *ProcessDocumentService) ListRecords(ctx context.Context) ([]*Record, error) {
	return s.repo.List(ctx)
}

// DeleteRecord removes a record and its output. A failure to remove the
// output is logged and does not keep the record in the catalog. Records of
// runs still being processed by this service return ErrRunInProgress; a
// RUNNING record left behind by a previous process can be deleted.
func (s *ProcessDocumentService) DeleteRecord(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	if s.isActive(id) {
		return ErrRunInProgress
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.removeRun(ctx, s.logger.With(slog.String("run_id", id)), id)
	s.logger.Info("record deleted", slog.String("run_id", id))
	return nil
}

// EstimateMinutes returns the listening time of words at wpm, rounded up
// and never below minMinutes.
func EstimateMinutes(words, wpm, minMinutes int) int {
	wpm = max(wpm, 1)
	return max(minMinutes, (words+wpm-1)/wpm)
}
