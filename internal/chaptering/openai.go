package chaptering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// chatCompleter is the subset of *openai.Client used here.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Compile-time interface compliance check.
var _ Service = (*OpenAIService)(nil)

const (
	defaultModel         = "yandexgpt"
	defaultMaxInputChars = 250_000
	defaultMaxTokens     = 12_000
	defaultTemperature   = 0.3
	defaultMaxRetries    = 2
	defaultBaseDelay     = 2 * time.Second
	defaultMaxDelay      = 30 * time.Second
)

// chapterSchema constrains the model answer to {"chapters":[{title,text}]}.
var chapterSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "chapters": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string", "minLength": 3},
          "text": {"type": "string", "minLength": 200}
        },
        "required": ["title", "text"],
        "additionalProperties": false
      }
    }
  },
  "required": ["chapters"],
  "additionalProperties": false
}`)

const systemPrompt = `You are an experienced editor and audiobook producer.
1) Clean the input document: remove links and URLs, image captions, advertising and junk blocks, OCR artifacts, running headers and footers, page numbers.
2) Keep normal paragraphs and coherent prose. Do not translate; keep the language of the document.
3) Split the text into logical chapters. Each chapter lasts at most %d minutes at a reading speed of about %d words per minute.
Titles are about 3-12 words. Never cut a thought in the middle.
Return STRICTLY one JSON object matching the given schema, with nothing outside the JSON.`

// OpenAIService asks an OpenAI-compatible chat endpoint for chapters.
// YandexGPT is reached through its OpenAI-compatible API.
type OpenAIService struct {
	client        chatCompleter
	model         string
	maxInputChars int
	maxTokens     int
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
	logger        *slog.Logger
}

// Option configures an OpenAIService.
type Option func(*OpenAIService)

// WithModel sets the model name or full model URI.
func WithModel(model string) Option {
	return func(s *OpenAIService) {
		if model != "" {
			s.model = model
		}
	}
}

// WithMaxInputChars caps the number of document characters sent to the model.
func WithMaxInputChars(n int) Option {
	return func(s *OpenAIService) {
		if n > 0 {
			s.maxInputChars = n
		}
	}
}

// WithMaxRetries sets the retry count for rate limits and server errors.
func WithMaxRetries(n int) Option {
	return func(s *OpenAIService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryDelays sets the base and max delays for exponential backoff.
func WithRetryDelays(base, maxDelay time.Duration) Option {
	return func(s *OpenAIService) {
		if base > 0 {
			s.baseDelay = base
		}
		if maxDelay > 0 {
			s.maxDelay = maxDelay
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *OpenAIService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// withChatCompleter replaces the client (for testing).
func withChatCompleter(cc chatCompleter) Option {
	return func(s *OpenAIService) {
		s.client = cc
	}
}

// NewOpenAIService creates a chaptering service backed by client.
func NewOpenAIService(client *openai.Client, opts ...Option) *OpenAIService {
	s := &OpenAIService{
		model:         defaultModel,
		maxInputChars: defaultMaxInputChars,
		maxTokens:     defaultMaxTokens,
		maxRetries:    defaultMaxRetries,
		baseDelay:     defaultBaseDelay,
		maxDelay:      defaultMaxDelay,
		logger:        slog.Default(),
	}
	if client != nil {
		s.client = client
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient builds a go-openai client for an OpenAI-compatible endpoint.
func NewClient(baseURL, token string, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

// ModelURI expands a bare model name to the gpt://<folder>/<model> form.
// Names that already carry a scheme are returned unchanged.
func ModelURI(folderID, model string) string {
	if strings.Contains(model, "://") || folderID == "" {
		return model
	}
	return fmt.Sprintf("gpt://%s/%s", folderID, model)
}

// Chapters implements Service.
func (s *OpenAIService) Chapters(ctx context.Context, rawText string, req Request) ([]Chapter, error) {
	input := truncate(rawText, s.maxInputChars)
	if len(input) < len(rawText) {
		s.logger.Warn("document truncated for chaptering",
			slog.Int("max_chars", s.maxInputChars),
		)
	}

	creq := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: defaultTemperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(systemPrompt, req.MaxMinutes, req.WordsPerMinute),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Source text between the dashes:\n-----\n" + input + "\n-----",
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "chapters",
				Schema: chapterSchema,
				Strict: true,
			},
		},
	}

	content, err := s.completeWithRetry(ctx, creq)
	if err != nil {
		return nil, err
	}

	chapters, err := ParseResponse(content)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("chapters received", slog.Int("count", len(chapters)))
	return chapters, nil
}

// completeWithRetry calls the API with exponential backoff on transient errors.
func (s *OpenAIService) completeWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	var lastErr error
	delay := s.baseDelay

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, s.maxDelay)
		}

		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("%w: no choices in response", ErrChaptering)
			}
			return resp.Choices[0].Message.Content, nil
		}

		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return "", fmt.Errorf("chaptering: completion failed: %w", err)
		}
		s.logger.Warn("chaptering request failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return "", fmt.Errorf("chaptering: max retries (%d) exceeded: %w", s.maxRetries, lastErr)
}

// isRetryable reports rate limits and server errors.
func isRetryable(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return false
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
