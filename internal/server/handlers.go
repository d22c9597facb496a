package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/voicebook/voicebook-api/internal/extract"
	"github.com/voicebook/voicebook-api/internal/job"
	"github.com/voicebook/voicebook-api/internal/speechkit"
	"github.com/voicebook/voicebook-api/internal/storage"
)

const (
	defaultHeartbeatInterval = 15 * time.Second
	defaultMaxUploadBytes    = 50 << 20
	multipartMemory          = 8 << 20
)

// DocumentService is the part of job.ProcessDocumentService the handlers use.
type DocumentService interface {
	Process(ctx context.Context, in job.ProcessDocumentInput) (*job.Record, error)
	GetRecord(ctx context.Context, id string) (*job.Record, error)
	ListRecords(ctx context.Context) ([]*job.Record, error)
	DeleteRecord(ctx context.Context, id string) error
}

// Compile-time interface compliance check.
var _ DocumentService = (*job.ProcessDocumentService)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service           DocumentService
	store             storage.Storage
	validator         *validator.Validate
	logger            *slog.Logger
	outputDir         string
	heartbeatInterval time.Duration
	maxUploadBytes    int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithHeartbeatInterval sets how often POST /upload writes a keep-alive
// line while the run is in progress. Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) HandlerOption {
	return func(h *Handlers) {
		if d >= 0 {
			h.heartbeatInterval = d
		}
	}
}

// WithMaxUploadBytes caps the request body size of POST /upload.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// WithOutputDir sets the directory GET /output serves run files from.
func WithOutputDir(dir string) HandlerOption {
	return func(h *Handlers) {
		h.outputDir = dir
	}
}

// NewHandlers creates a new Handlers instance. store receives uploaded
// files until their text is extracted.
func NewHandlers(service DocumentService, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:           service,
		store:             store,
		validator:         validator.New(),
		logger:            logger,
		heartbeatInterval: defaultHeartbeatInterval,
		maxUploadBytes:    defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Upload handles POST /upload requests.
//
// The document comes either as a multipart "file" part or as a "text"
// field of a form or JSON body. The run is synchronous: while it is in progress the handler
// writes a " \n" line every heartbeat interval so proxies keep the
// connection open, and ends the body with {"id"} or {"error"}. Once a
// heartbeat has gone out the status is already 200, so later failures
// are reported in the body only.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	lookup := r.FormValue
	if isJSON(r) {
		var body uploadBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.logger.Warn("failed to decode upload body", slog.String("error", err.Error()))
			if isTooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, "body is too large", "UPLOAD_TOO_LARGE")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
		lookup = body.value
	} else if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		h.logger.Warn("failed to parse upload form", slog.String("error", err.Error()))
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "file is too large", "UPLOAD_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form body", "INVALID_FORM")
		return
	}

	req, err := parseUploadRequest(lookup)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PARAMETER")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	docText, originalName, err := h.documentText(r, req)
	if err != nil {
		switch {
		case errors.Is(err, errNoDocument):
			writeError(w, http.StatusBadRequest, "No file or text provided", "NO_INPUT")
		case errors.Is(err, extract.ErrExtract):
			writeError(w, http.StatusBadRequest, err.Error(), "EXTRACT_FAILED")
		default:
			h.logger.Error("failed to read upload", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, err.Error(), "UPLOAD_FAILED")
		}
		return
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(docText)); n < job.MinInputChars {
		writeError(w, http.StatusBadRequest, "Not enough text to process", "TEXT_TOO_SHORT")
		return
	}

	input := job.ProcessDocumentInput{
		Text:              docText,
		OriginalName:      originalName,
		Voice:             speechkit.Voice{Name: req.Voice, Role: req.Role, Speed: req.Speed},
		MinChapterMinutes: req.MinChapterMinutes,
		WordsPerMinute:    req.WordsPerMinute,
	}

	h.runWithHeartbeat(w, r, input)
}

type processResult struct {
	rec *job.Record
	err error
}

// runWithHeartbeat runs the conversion and owns every write to w.
// The run outlives a dropped connection so its record is still completed.
func (h *Handlers) runWithHeartbeat(w http.ResponseWriter, r *http.Request, input job.ProcessDocumentInput) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	done := make(chan processResult, 1)
	go func(ctx context.Context) {
		rec, err := h.service.Process(ctx, input)
		done <- processResult{rec: rec, err: err}
	}(context.WithoutCancel(r.Context()))

	var tick <-chan time.Time
	if h.heartbeatInterval > 0 {
		ticker := time.NewTicker(h.heartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	rc := http.NewResponseController(w)
	streaming := false
	for {
		select {
		case <-tick:
			if _, err := io.WriteString(w, " \n"); err != nil {
				// Client is gone; stop heartbeats and wait for the run.
				tick = nil
				continue
			}
			_ = rc.Flush()
			streaming = true
		case res := <-done:
			h.finishUpload(w, streaming, res)
			return
		}
	}
}

func (h *Handlers) finishUpload(w http.ResponseWriter, streaming bool, res processResult) {
	if res.err != nil {
		runID := ""
		if res.rec != nil {
			runID = res.rec.ID
		}
		h.logger.Error("upload processing failed",
			slog.String("run_id", runID),
			slog.String("error", res.err.Error()),
		)
		status := http.StatusInternalServerError
		if errors.Is(res.err, job.ErrInput) {
			status = http.StatusBadRequest
		}
		body := ErrorResponse{Error: res.err.Error(), Code: "PROCESSING_FAILED"}
		if streaming {
			writeBody(w, body)
			return
		}
		writeJSON(w, status, body)
		return
	}

	h.logger.Info("upload processed",
		slog.String("run_id", res.rec.ID),
		slog.Int("chapters", res.rec.ChapterCount),
	)
	if streaming {
		writeBody(w, UploadResponse{ID: res.rec.ID})
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{ID: res.rec.ID})
}

var errNoDocument = errors.New("no file or text provided")

// documentText returns the text of the uploaded file, or the text field
// when no file is attached, along with the name to record.
func (h *Handlers) documentText(r *http.Request, req UploadRequest) (string, string, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		if !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart) {
			return "", "", fmt.Errorf("read file part: %w", err)
		}
		if strings.TrimSpace(req.Text) == "" {
			return "", "", errNoDocument
		}
		return req.Text, extract.TextInputName, nil
	}
	defer func() { _ = file.Close() }()

	originalName := extract.NormalizeFilename(header.Filename)
	tmpPath, err := h.store.SaveTemp(r.Context(), originalName, file)
	if err != nil {
		return "", "", fmt.Errorf("save upload: %w", err)
	}
	defer func() {
		if err := h.store.CleanupTemp(context.WithoutCancel(r.Context()), []string{tmpPath}); err != nil {
			h.logger.Warn("failed to remove upload", slog.String("path", tmpPath), slog.String("error", err.Error()))
		}
	}()

	docText, err := extract.Extract(r.Context(), tmpPath, originalName)
	if err != nil {
		return "", "", err
	}
	h.logger.Info("document extracted",
		slog.String("original_name", originalName),
		slog.String("format", string(extract.Detect(originalName))),
		slog.Int("chars", utf8.RuneCountInString(docText)),
	)
	return docText, originalName, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// parseUploadRequest reads the upload fields through lookup. minMinutes
// and wpm are also accepted under their long names.
func parseUploadRequest(lookup func(string) string) (UploadRequest, error) {
	req := UploadRequest{
		Text:  lookup("text"),
		Voice: strings.TrimSpace(lookup("voice")),
		Role:  strings.TrimSpace(lookup("role")),
	}

	var err error
	if req.Speed, err = formFloat(lookup, "speed"); err != nil {
		return req, err
	}
	if req.MinChapterMinutes, err = formInt(lookup, "minMinutes", "minChapterMinutes"); err != nil {
		return req, err
	}
	if req.WordsPerMinute, err = formInt(lookup, "wpm", "wordsPerMinute"); err != nil {
		return req, err
	}
	return req, nil
}

func formValue(lookup func(string) string, keys ...string) (string, string) {
	for _, k := range keys {
		if v := strings.TrimSpace(lookup(k)); v != "" {
			return k, v
		}
	}
	return "", ""
}

func formInt(lookup func(string) string, keys ...string) (int, error) {
	key, v := formValue(lookup, keys...)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func formFloat(lookup func(string) string, keys ...string) (float64, error) {
	key, v := formValue(lookup, keys...)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", key)
	}
	return f, nil
}

// ListRecords handles GET /records requests.
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListRecords(r.Context())
	if err != nil {
		h.logger.Error("failed to list records", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list records", "RECORD_LIST_FAILED")
		return
	}

	items := make([]RecordSummary, 0, len(records))
	for _, rec := range records {
		items = append(items, summaryOf(rec))
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items})
}

// GetRecord handles GET /records/{id} requests.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	rec, err := h.service.GetRecord(r.Context(), runID)
	if err != nil {
		if errors.Is(err, job.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Not found", "")
			return
		}
		h.logger.Error("failed to get record",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get record", "RECORD_FETCH_FAILED")
		return
	}

	chapters := rec.Chapters
	if chapters == nil {
		chapters = []job.ChapterResult{}
	}
	writeJSON(w, http.StatusOK, RecordResponse{
		RecordSummary: summaryOf(rec),
		Chapters:      chapters,
		Error:         rec.Error,
	})
}

// DeleteRecord handles DELETE /records/{id} requests.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	if err := h.service.DeleteRecord(r.Context(), runID); err != nil {
		if errors.Is(err, job.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Not found", "")
			return
		}
		if errors.Is(err, job.ErrRunInProgress) {
			writeError(w, http.StatusConflict, "Run is still in progress", "RUN_IN_PROGRESS")
			return
		}
		h.logger.Error("failed to delete record",
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete record", "RECORD_DELETE_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// ServeOutput handles GET /output/{id}/{file} requests with the chapter
// audio stored in the output directory.
func (h *Handlers) ServeOutput(w http.ResponseWriter, r *http.Request) {
	runID, name := r.PathValue("id"), r.PathValue("file")
	if h.outputDir == "" || !safeSegment(runID) || !safeSegment(name) {
		writeError(w, http.StatusNotFound, "Not found", "")
		return
	}
	http.ServeFile(w, r, filepath.Join(h.outputDir, runID, name))
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	writeBody(w, data)
}

// writeBody encodes data without touching the status line.
func writeBody(w http.ResponseWriter, data any) {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
