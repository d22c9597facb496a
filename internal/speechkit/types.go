// Package speechkit provides an HTTP client for the Yandex SpeechKit v3
// utterance synthesis API, producing WAV files from text.
package speechkit

import (
	"errors"
	"fmt"
	"strings"
)

// Voice holds the synthesis hints sent with every request.
type Voice struct {
	Name  string  // Speaker voice, e.g. "ermil"
	Role  string  // Speaking role, e.g. "friendly"
	Speed float64 // Speech rate multiplier, 1.0 is normal
}

// DefaultVoice returns the voice used when the caller does not choose one.
func DefaultVoice() Voice {
	return Voice{
		Name:  "ermil",
		Role:  "friendly",
		Speed: 1.0,
	}
}

// Reason classifies why the service rejected a synthesis request.
type Reason string

// Failure reasons reported by APIError.
const (
	ReasonTooLong     Reason = "TOO_LONG"
	ReasonRateLimited Reason = "RATE_LIMITED"
	ReasonServer      Reason = "SERVER_ERROR"
	ReasonBadRequest  Reason = "BAD_REQUEST"
	ReasonUnknown     Reason = "UNKNOWN"
)

// APIError is returned when the service answers with a non-success status
// or reports an error inside the audio stream.
type APIError struct {
	StatusCode int
	Reason     Reason
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speechkit: %d %s: %s", e.StatusCode, e.Reason, e.Message)
}

// IsTooLong reports whether err means the request text exceeded the
// service's length limit. Any other failure is not recoverable by
// splitting the text.
func IsTooLong(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == ReasonTooLong
}

// tooLongText is the marker the service puts in the error message when the
// utterance is over its character limit. It is the only signal available.
const tooLongText = "too long text"

// classify maps an HTTP status and error body to a Reason.
func classify(status int, message string) Reason {
	switch {
	case strings.Contains(strings.ToLower(message), tooLongText):
		return ReasonTooLong
	case status == 429:
		return ReasonRateLimited
	case status >= 500:
		return ReasonServer
	case status >= 400:
		return ReasonBadRequest
	default:
		return ReasonUnknown
	}
}

// synthesisRequest is the request body for the utteranceSynthesis endpoint.
type synthesisRequest struct {
	Text            string          `json:"text"`
	Hints           []hint          `json:"hints"`
	UnsafeMode      bool            `json:"unsafeMode"`
	OutputAudioSpec outputAudioSpec `json:"outputAudioSpec"`
}

type hint struct {
	Voice string `json:"voice,omitempty"`
	Role  string `json:"role,omitempty"`
	Speed string `json:"speed,omitempty"`
}

type outputAudioSpec struct {
	ContainerAudio containerAudio `json:"containerAudio"`
}

type containerAudio struct {
	ContainerAudioType string `json:"containerAudioType"`
}

// streamMessage is one newline-delimited JSON message of the response stream.
type streamMessage struct {
	Result *struct {
		AudioChunk *struct {
			Data string `json:"data"`
		} `json:"audioChunk"`
	} `json:"result"`
	Error *struct {
		HTTPCode int    `json:"httpCode"`
		Message  string `json:"message"`
	} `json:"error"`
}
