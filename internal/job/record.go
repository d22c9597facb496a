// Package job runs document-to-audiobook conversions and keeps a record of
// every run. A run turns one document into a directory of chapter audio
// files; its Record is what clients list, fetch and delete.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/voicebook/voicebook-api/internal/job/id"
)

// Status represents the current state of a run.
type Status string

const (
	// StatusRunning indicates the document is being chaptered and synthesized.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates every chapter was synthesized.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run aborted; Error holds the reason.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ChapterResult describes one synthesized chapter.
type ChapterResult struct {
	// Index is the 1-based position of the chapter.
	Index int `json:"index"`
	// Title is the chapter title.
	Title string `json:"title"`
	// Words is the number of words in the chapter text.
	Words int `json:"words"`
	// Minutes is the estimated listening time, never below the run minimum.
	Minutes int `json:"minutes"`
	// AudioFile is the file name inside the run directory.
	AudioFile string `json:"audioFile"`
	// AudioPath is the public path or URL of the audio file.
	AudioPath string `json:"audioPath"`
}

// Record is the catalog entry of one run.
type Record struct {
	mu sync.RWMutex

	// ID is the unique run identifier.
	ID string `json:"id"`
	// Index is the sequential display number assigned by the repository.
	Index int `json:"index"`
	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"createdAt"`
	// CompletedAt is when the run reached a terminal state.
	CompletedAt time.Time `json:"completedAt,omitzero"`
	// OriginalName is the uploaded file name, or "text-input.txt" for raw text.
	OriginalName string `json:"originalName"`
	// ChapterCount is len(Chapters).
	ChapterCount int `json:"chapterCount"`
	// OutDir is the run output directory.
	OutDir string `json:"outDir"`
	// Chapters holds the results in playback order.
	Chapters []ChapterResult `json:"chapters"`
	// Status is the current run state.
	Status Status `json:"status"`
	// Error contains the failure message of a failed run.
	Error string `json:"error,omitempty"`
}

// NewRecord creates a running Record with a generated ID.
func NewRecord(originalName string) *Record {
	return NewRecordWithID(id.Generate(), originalName)
}

// NewRecordWithID creates a running Record with the specified ID.
func NewRecordWithID(runID, originalName string) *Record {
	return &Record{
		ID:           runID,
		CreatedAt:    time.Now().UTC(),
		OriginalName: originalName,
		Chapters:     make([]ChapterResult, 0),
		Status:       StatusRunning,
	}
}

// TransitionTo attempts to change the run status.
// Returns ErrInvalidTransition if the transition is not allowed.
func (r *Record) TransitionTo(status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !canTransition(r.Status, status) {
		return ErrInvalidTransition
	}
	r.Status = status
	r.CompletedAt = time.Now().UTC()
	return nil
}

// Complete stores the chapter results and marks the run COMPLETED.
func (r *Record) Complete(chapters []ChapterResult) error {
	r.mu.Lock()
	if !canTransition(r.Status, StatusCompleted) {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	r.Chapters = append([]ChapterResult(nil), chapters...)
	r.ChapterCount = len(chapters)
	r.mu.Unlock()
	return r.TransitionTo(StatusCompleted)
}

// Fail marks the run FAILED with an error message. Partial chapter results
// are discarded since their files no longer exist.
func (r *Record) Fail(errMsg string) error {
	r.mu.Lock()
	if !canTransition(r.Status, StatusFailed) {
		r.mu.Unlock()
		return ErrInvalidTransition
	}
	r.Error = errMsg
	r.Chapters = make([]ChapterResult, 0)
	r.ChapterCount = 0
	r.mu.Unlock()
	return r.TransitionTo(StatusFailed)
}

// SetOutDir sets the run output directory.
func (r *Record) SetOutDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.OutDir = dir
}

// setIndex records the display index assigned by a committed save.
func (r *Record) setIndex(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Index = n
}

// GetStatus returns the current run status (thread-safe).
func (r *Record) GetStatus() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// IsTerminal returns true if the run has finished.
func (r *Record) IsTerminal() bool {
	s := r.GetStatus()
	return s == StatusCompleted || s == StatusFailed
}

// Clone creates a deep copy of the record for safe reads.
func (r *Record) Clone() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chapters := make([]ChapterResult, len(r.Chapters))
	copy(chapters, r.Chapters)

	return &Record{
		ID:           r.ID,
		Index:        r.Index,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
		OriginalName: r.OriginalName,
		ChapterCount: r.ChapterCount,
		OutDir:       r.OutDir,
		Chapters:     chapters,
		Status:       r.Status,
		Error:        r.Error,
	}
}
