package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voicebook/voicebook-api/internal/extract"
	"github.com/voicebook/voicebook-api/internal/job"
	"github.com/voicebook/voicebook-api/internal/storage"
)

// mockService implements DocumentService for testing.
type mockService struct {
	mock.Mock
}

func (m *mockService) Process(ctx context.Context, in job.ProcessDocumentInput) (*job.Record, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Record), args.Error(1)
}

func (m *mockService) GetRecord(ctx context.Context, id string) (*job.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*job.Record), args.Error(1)
}

func (m *mockService) ListRecords(ctx context.Context) ([]*job.Record, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*job.Record), args.Error(1)
}

func (m *mockService) DeleteRecord(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

const longText = "It was a bright cold day in April, and the clocks were striking thirteen."

type fixture struct {
	handlers  *Handlers
	service   *mockService
	uploadDir string
	outputDir string
}

func newFixture(t *testing.T, opts ...HandlerOption) *fixture {
	t.Helper()
	uploadDir, outputDir := t.TempDir(), t.TempDir()
	store, err := storage.NewLocalStorage(uploadDir, outputDir)
	require.NoError(t, err)

	svc := &mockService{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	opts = append([]HandlerOption{WithOutputDir(outputDir)}, opts...)
	return &fixture{
		handlers:  NewHandlers(svc, store, logger, opts...),
		service:   svc,
		uploadDir: uploadDir,
		outputDir: outputDir,
	}
}

func completedRecord(id string, index int) *job.Record {
	rec := job.NewRecordWithID(id, "book.pdf")
	rec.Index = index
	_ = rec.Complete([]job.ChapterResult{
		{Index: 1, Title: "Intro", Words: 4500, Minutes: 30, AudioFile: "01-intro.wav", AudioPath: "/output/" + id + "/01-intro.wav"},
	})
	return rec
}

func formRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return req
}

func multipartRequest(t *testing.T, fileName string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	f.handlers.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec.Body).Status)
}

func TestUpload_TextField(t *testing.T) {
	f := newFixture(t)
	f.service.On("Process", mock.Anything, mock.MatchedBy(func(in job.ProcessDocumentInput) bool {
		return in.Text == longText &&
			in.OriginalName == extract.TextInputName &&
			in.Voice.Name == "alena" &&
			in.Voice.Role == "good" &&
			in.Voice.Speed == 1.2 &&
			in.MinChapterMinutes == 10 &&
			in.WordsPerMinute == 180
	})).Return(completedRecord("run-1", 1), nil).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{
		"text":       {longText},
		"voice":      {"alena"},
		"role":       {"good"},
		"speed":      {"1.2"},
		"minMinutes": {"10"},
		"wpm":        {"180"},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "run-1", decode[UploadResponse](t, rec.Body).ID)
	f.service.AssertExpectations(t)
}

func TestUpload_LongParameterNames(t *testing.T) {
	f := newFixture(t)
	f.service.On("Process", mock.Anything, mock.MatchedBy(func(in job.ProcessDocumentInput) bool {
		return in.MinChapterMinutes == 15 && in.WordsPerMinute == 120 && in.Voice.Name == ""
	})).Return(completedRecord("run-2", 2), nil).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{
		"text":              {longText},
		"minChapterMinutes": {"15"},
		"wordsPerMinute":    {"120"},
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	f.service.AssertExpectations(t)
}

func TestUpload_JSONBody(t *testing.T) {
	f := newFixture(t)
	f.service.On("Process", mock.Anything, mock.MatchedBy(func(in job.ProcessDocumentInput) bool {
		return in.Text == longText &&
			in.OriginalName == extract.TextInputName &&
			in.Voice.Name == "alena" &&
			in.Voice.Role == "" &&
			in.Voice.Speed == 1.2 &&
			in.MinChapterMinutes == 12 &&
			in.WordsPerMinute == 180
	})).Return(completedRecord("run-json", 4), nil).Once()

	body, err := json.Marshal(map[string]any{
		"text":              longText,
		"voice":             "alena",
		"role":              nil,
		"speed":             1.2,
		"minChapterMinutes": "12",
		"wpm":               180,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, jsonRequest(string(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-json", decode[UploadResponse](t, rec.Body).ID)
	f.service.AssertExpectations(t)
}

func TestUpload_JSONBodyErrors(t *testing.T) {
	text, _ := json.Marshal(longText)
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed", `{"text":`, http.StatusBadRequest, "INVALID_JSON"},
		{"boolean speed", `{"text":` + string(text) + `,"speed":true}`, http.StatusBadRequest, "INVALID_JSON"},
		{"minutes not an integer", `{"text":` + string(text) + `,"minMinutes":"1.5"}`, http.StatusBadRequest, "INVALID_PARAMETER"},
		{"wpm out of range", `{"text":` + string(text) + `,"wordsPerMinute":5}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no text", `{"voice":"alena"}`, http.StatusBadRequest, "NO_INPUT"},
		{"text too short", `{"text":"   too short   "}`, http.StatusBadRequest, "TEXT_TOO_SHORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec := httptest.NewRecorder()
			f.handlers.Upload(rec, jsonRequest(tt.body))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec.Body).Code)
			f.service.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestUpload_JSONBodyTooLarge(t *testing.T) {
	f := newFixture(t, WithMaxUploadBytes(64))

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, jsonRequest(`{"text":"`+strings.Repeat("a", 200)+`"}`))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "UPLOAD_TOO_LARGE", decode[ErrorResponse](t, rec.Body).Code)
}

func TestUpload_File(t *testing.T) {
	f := newFixture(t)
	f.service.On("Process", mock.Anything, mock.MatchedBy(func(in job.ProcessDocumentInput) bool {
		return in.Text == longText && in.OriginalName == "My Book.txt"
	})).Return(completedRecord("run-3", 3), nil).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, multipartRequest(t, "My%20Book.txt", []byte(longText), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-3", decode[UploadResponse](t, rec.Body).ID)
	f.service.AssertExpectations(t)

	// The temporary upload is removed after extraction.
	entries, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUpload_NoInput(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, multipartRequest(t, "", nil, map[string]string{"voice": "alena"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec.Body)
	assert.Equal(t, "No file or text provided", resp.Error)
	f.service.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestUpload_TextTooShort(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{"text": {"   too short   "}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "TEXT_TOO_SHORT", decode[ErrorResponse](t, rec.Body).Code)
	f.service.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestUpload_InvalidParameters(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
		code   string
	}{
		{"speed not a number", url.Values{"speed": {"fast"}}, "INVALID_PARAMETER"},
		{"minutes not an integer", url.Values{"minMinutes": {"1.5"}}, "INVALID_PARAMETER"},
		{"speed out of range", url.Values{"speed": {"9"}}, "VALIDATION_ERROR"},
		{"wpm out of range", url.Values{"wpm": {"5"}}, "VALIDATION_ERROR"},
		{"negative minutes", url.Values{"minMinutes": {"-3"}}, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.values.Set("text", longText)

			rec := httptest.NewRecorder()
			f.handlers.Upload(rec, formRequest(tt.values))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec.Body).Code)
			f.service.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
		})
	}
}

func TestUpload_BrokenDocument(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, multipartRequest(t, "book.docx", []byte("not a zip archive"), nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "EXTRACT_FAILED", decode[ErrorResponse](t, rec.Body).Code)
}

func TestUpload_TooLarge(t *testing.T) {
	f := newFixture(t, WithMaxUploadBytes(1024))

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, multipartRequest(t, "big.txt", bytes.Repeat([]byte("a"), 64<<10), nil))

	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	f.service.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestUpload_ProcessingFailsBeforeHeartbeat(t *testing.T) {
	f := newFixture(t)
	failed := job.NewRecordWithID("run-4", extract.TextInputName)
	f.service.On("Process", mock.Anything, mock.Anything).
		Return(failed, errors.New("chapter 2: synthesis failed")).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{"text": {longText}}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "chapter 2: synthesis failed", decode[ErrorResponse](t, rec.Body).Error)
}

func TestUpload_InputRejectedByService(t *testing.T) {
	f := newFixture(t)
	f.service.On("Process", mock.Anything, mock.Anything).
		Return(nil, job.ErrInput).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{"text": {longText}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_Heartbeat(t *testing.T) {
	f := newFixture(t, WithHeartbeatInterval(5*time.Millisecond))
	f.service.On("Process", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(60 * time.Millisecond) }).
		Return(completedRecord("run-5", 5), nil).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{"text": {longText}}))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, " \n"), "body should start with a heartbeat")
	assert.True(t, rec.Flushed)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(body)), &resp))
	assert.Equal(t, "run-5", resp.ID)
}

func TestUpload_HeartbeatThenFailure(t *testing.T) {
	f := newFixture(t, WithHeartbeatInterval(5*time.Millisecond))
	f.service.On("Process", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { time.Sleep(60 * time.Millisecond) }).
		Return(nil, errors.New("chaptering: no parseable chapters in response")).Once()

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, formRequest(url.Values{"text": {longText}}))

	// The status line went out with the first heartbeat.
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(rec.Body.String())), &resp))
	assert.Contains(t, resp.Error, "no parseable chapters")
}

func TestUpload_RunSurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t, WithHeartbeatInterval(0))
	f.service.On("Process", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(completedRecord("run-6", 6), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := formRequest(url.Values{"text": {longText}}).WithContext(ctx)

	rec := httptest.NewRecorder()
	f.handlers.Upload(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	f.service.AssertExpectations(t)
}

func TestListRecords(t *testing.T) {
	f := newFixture(t)
	f.service.On("ListRecords", mock.Anything).
		Return([]*job.Record{completedRecord("run-b", 2), completedRecord("run-a", 1)}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	rec := httptest.NewRecorder()
	f.handlers.ListRecords(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ListResponse](t, rec.Body)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "run-b", resp.Items[0].ID)
	assert.Equal(t, 2, resp.Items[0].Index)
	assert.Equal(t, 1, resp.Items[0].ChapterCount)
	assert.Equal(t, "book.pdf", resp.Items[0].OriginalName)
	assert.Equal(t, job.StatusCompleted, resp.Items[0].Status)
}

func TestListRecords_Empty(t *testing.T) {
	f := newFixture(t)
	f.service.On("ListRecords", mock.Anything).Return([]*job.Record{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	rec := httptest.NewRecorder()
	f.handlers.ListRecords(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
}

func TestGetRecord_Success(t *testing.T) {
	f := newFixture(t)
	f.service.On("GetRecord", mock.Anything, "run-1").Return(completedRecord("run-1", 1), nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/records/run-1", nil)
	req.SetPathValue("id", "run-1")
	rec := httptest.NewRecorder()
	f.handlers.GetRecord(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RecordResponse](t, rec.Body)
	assert.Equal(t, "run-1", resp.ID)
	require.Len(t, resp.Chapters, 1)
	assert.Equal(t, "/output/run-1/01-intro.wav", resp.Chapters[0].AudioPath)
	assert.Equal(t, 30, resp.Chapters[0].Minutes)
}

func TestGetRecord_NotFound(t *testing.T) {
	f := newFixture(t)
	f.service.On("GetRecord", mock.Anything, "missing").Return(nil, job.ErrRecordNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/records/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	f.handlers.GetRecord(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestDeleteRecord_Success(t *testing.T) {
	f := newFixture(t)
	f.service.On("DeleteRecord", mock.Anything, "run-1").Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/records/run-1", nil)
	req.SetPathValue("id", "run-1")
	rec := httptest.NewRecorder()
	f.handlers.DeleteRecord(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestDeleteRecord_NotFound(t *testing.T) {
	f := newFixture(t)
	f.service.On("DeleteRecord", mock.Anything, "missing").Return(job.ErrRecordNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/records/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	f.handlers.DeleteRecord(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
}

func TestDeleteRecord_RunInProgress(t *testing.T) {
	f := newFixture(t)
	f.service.On("DeleteRecord", mock.Anything, "run-1").Return(job.ErrRunInProgress).Once()

	req := httptest.NewRequest(http.MethodDelete, "/records/run-1", nil)
	req.SetPathValue("id", "run-1")
	rec := httptest.NewRecorder()
	f.handlers.DeleteRecord(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "RUN_IN_PROGRESS", decode[ErrorResponse](t, rec.Body).Code)
}

func TestDeleteRecord_Failure(t *testing.T) {
	f := newFixture(t)
	f.service.On("DeleteRecord", mock.Anything, "run-1").Return(errors.New("disk on fire")).Once()

	req := httptest.NewRequest(http.MethodDelete, "/records/run-1", nil)
	req.SetPathValue("id", "run-1")
	rec := httptest.NewRecorder()
	f.handlers.DeleteRecord(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouter_Integration(t *testing.T) {
	f := newFixture(t)
	f.service.On("GetRecord", mock.Anything, "run-1").Return(completedRecord("run-1", 1), nil)
	f.service.On("ListRecords", mock.Anything).Return([]*job.Record{}, nil)

	runDir := filepath.Join(f.outputDir, "run-1")
	require.NoError(t, os.MkdirAll(runDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "01-intro.wav"), []byte("RIFF-audio"), 0600))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewRouter(f.handlers, logger, DefaultConfig()))
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/records", http.StatusOK},
		{http.MethodGet, "/records/run-1", http.StatusOK},
		{http.MethodGet, "/output/run-1/01-intro.wav", http.StatusOK},
		{http.MethodGet, "/output/run-1/missing.wav", http.StatusNotFound},
		{http.MethodPut, "/records/run-1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServeOutput_Content(t *testing.T) {
	f := newFixture(t)
	runDir := filepath.Join(f.outputDir, "run-1")
	require.NoError(t, os.MkdirAll(runDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "01-intro.wav"), []byte("RIFF-audio"), 0600))

	req := httptest.NewRequest(http.MethodGet, "/output/run-1/01-intro.wav", nil)
	req.SetPathValue("id", "run-1")
	req.SetPathValue("file", "01-intro.wav")
	rec := httptest.NewRecorder()
	f.handlers.ServeOutput(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RIFF-audio", rec.Body.String())
}

func TestServeOutput_RejectsTraversal(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/output/x/y", nil)
	req.SetPathValue("id", "..")
	req.SetPathValue("file", "secret")
	rec := httptest.NewRecorder()
	f.handlers.ServeOutput(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	handler := CORSMiddleware([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/records", nil)
		req.Header.Set("Origin", "https://app.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	})

	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/records", nil)
		req.Header.Set("Origin", "https://evil.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
		req.Header.Set("Origin", "https://app.example")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decode[ErrorResponse](t, rec.Body).Code)
}

func TestLoggingMiddleware_PassesFlush(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = io.WriteString(w, "hi")
		assert.NoError(t, http.NewResponseController(w).Flush())
	}))

	req := httptest.NewRequest(http.MethodGet, "/records", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, rec.Flushed)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"bytes":2`)
}
