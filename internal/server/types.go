// Package server provides the HTTP server for the voicebook API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/voicebook/voicebook-api/internal/job"
)

// UploadRequest holds the form fields of POST /upload after parsing.
// Zero values select the service defaults.
type UploadRequest struct {
	// Text is raw document text, used when no file is attached.
	Text string
	// Voice is the speaker voice name.
	Voice string `validate:"omitempty,max=64"`
	// Role is the speaking role.
	Role string `validate:"omitempty,max=64"`
	// Speed is the speech rate multiplier.
	Speed float64 `validate:"omitempty,gt=0,lte=3"`
	// MinChapterMinutes is the reading-time target per chapter.
	MinChapterMinutes int `validate:"omitempty,min=1,max=600"`
	// WordsPerMinute is the reading speed used for estimates.
	WordsPerMinute int `validate:"omitempty,min=30,max=1000"`
}

// uploadBody is a JSON body of POST /upload. Numeric fields may be sent
// as numbers or strings, like form values.
type uploadBody struct {
	Text              string    `json:"text"`
	Voice             string    `json:"voice"`
	Role              string    `json:"role"`
	Speed             jsonField `json:"speed"`
	MinMinutes        jsonField `json:"minMinutes"`
	MinChapterMinutes jsonField `json:"minChapterMinutes"`
	WPM               jsonField `json:"wpm"`
	WordsPerMinute    jsonField `json:"wordsPerMinute"`
}

// value returns the field under its form name.
func (b uploadBody) value(key string) string {
	switch key {
	case "text":
		return b.Text
	case "voice":
		return b.Voice
	case "role":
		return b.Role
	case "speed":
		return string(b.Speed)
	case "minMinutes":
		return string(b.MinMinutes)
	case "minChapterMinutes":
		return string(b.MinChapterMinutes)
	case "wpm":
		return string(b.WPM)
	case "wordsPerMinute":
		return string(b.WordsPerMinute)
	}
	return ""
}

// jsonField holds a JSON string or number as text. null leaves it empty.
type jsonField string

func (f *jsonField) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = jsonField(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = jsonField(n)
	return nil
}

// UploadResponse is the final JSON object of a successful upload.
type UploadResponse struct {
	// ID is the run identifier.
	ID string `json:"id"`
}

// RecordSummary is one entry of GET /records.
type RecordSummary struct {
	ID           string     `json:"id"`
	Index        int        `json:"index"`
	OriginalName string     `json:"originalName"`
	ChapterCount int        `json:"chapterCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	Status       job.Status `json:"status"`
}

// ListResponse is the HTTP response for GET /records.
type ListResponse struct {
	// Items are the records, newest first.
	Items []RecordSummary `json:"items"`
}

// RecordResponse is the HTTP response for GET /records/{id}.
type RecordResponse struct {
	RecordSummary
	// Chapters holds the synthesized chapters in playback order.
	Chapters []job.ChapterResult `json:"chapters"`
	// Error contains the failure message of a failed run.
	Error string `json:"error,omitempty"`
}

// OKResponse acknowledges a delete.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func summaryOf(rec *job.Record) RecordSummary {
	return RecordSummary{
		ID:           rec.ID,
		Index:        rec.Index,
		OriginalName: rec.OriginalName,
		ChapterCount: rec.ChapterCount,
		CreatedAt:    rec.CreatedAt,
		Status:       rec.Status,
	}
}
