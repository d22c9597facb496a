package speechkit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Static errors for SpeechKit client operations.
var (
	// ErrCredentialsRequired is returned when neither an API key nor an IAM token is set.
	ErrCredentialsRequired = errors.New("speechkit: API key or IAM token is required")
	// ErrFolderIDRequired is returned when an IAM token is used without a folder ID.
	ErrFolderIDRequired = errors.New("speechkit: folder ID is required with IAM token")
	// ErrEmptyText is returned when Synthesize is called with blank text.
	ErrEmptyText = errors.New("speechkit: text is empty")
	// ErrNoAudio is returned when the stream completes without any audio chunk.
	ErrNoAudio = errors.New("speechkit: stream contained no audio")
)

const defaultBaseURL = "https://tts.api.cloud.yandex.net/tts/v3/utteranceSynthesis"

// Client is the HTTP implementation of the SpeechKit v3 REST API.
type Client struct {
	apiKey      string
	iamToken    string
	folderID    string
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey authenticates with a static API key ("Api-Key" scheme).
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithIAMToken authenticates with an IAM token ("Bearer" scheme).
// An IAM token requires a folder ID.
func WithIAMToken(token string) ClientOption {
	return func(c *Client) {
		c.iamToken = token
	}
}

// WithFolderID sets the folder sent in the x-folder-id header.
func WithFolderID(id string) ClientOption {
	return func(c *Client) {
		c.folderID = id
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom synthesis endpoint URL.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTimeout bounds every Synthesize call, including streaming the audio.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero disables pacing.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// NewClient creates a new SpeechKit client.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{},
		timeout:     2 * time.Minute,
		maxRetries:  2,
		baseBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" && c.iamToken == "" {
		return nil, ErrCredentialsRequired
	}
	if c.apiKey == "" && c.folderID == "" {
		return nil, ErrFolderIDRequired
	}
	return c, nil
}

// Synthesize converts text to speech and writes the WAV stream to outPath.
// Audio chunks are appended in arrival order. On failure the partial file
// is removed. Rejections are reported as *APIError; use IsTooLong to detect
// an over-long text.
func (c *Client) Synthesize(ctx context.Context, text, outPath string, voice Voice) error {
	if text == "" {
		return ErrEmptyText
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(newSynthesisRequest(text, voice))
	if err != nil {
		return fmt.Errorf("speechkit: marshal request: %w", err)
	}

	resp, err := c.openStreamWithRetry(ctx, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(outPath), 0750); err != nil {
		return fmt.Errorf("speechkit: create output directory: %w", err)
	}
	f, err := os.Create(outPath) // #nosec G304 - path is built by the synthesizer
	if err != nil {
		return fmt.Errorf("speechkit: create output file: %w", err)
	}

	n, err := copyAudio(f, resp.Body)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("speechkit: close output file: %w", closeErr)
	}
	if err == nil && n == 0 {
		err = ErrNoAudio
	}
	if err != nil {
		_ = os.Remove(outPath)
		return err
	}
	return nil
}

func newSynthesisRequest(text string, voice Voice) synthesisRequest {
	if voice.Speed == 0 {
		voice.Speed = 1.0
	}
	hints := make([]hint, 0, 3)
	if voice.Name != "" {
		hints = append(hints, hint{Voice: voice.Name})
	}
	if voice.Role != "" {
		hints = append(hints, hint{Role: voice.Role})
	}
	hints = append(hints, hint{Speed: strconv.FormatFloat(voice.Speed, 'f', -1, 64)})

	return synthesisRequest{
		Text:       text,
		Hints:      hints,
		UnsafeMode: true,
		OutputAudioSpec: outputAudioSpec{
			ContainerAudio: containerAudio{ContainerAudioType: "WAV"},
		},
	}
}

// copyAudio decodes the newline-delimited JSON stream and writes every
// base64 audio chunk to w. Lines that are not valid JSON are skipped.
func copyAudio(w io.Writer, r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var written int64
	for {
		line, readErr := br.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			var msg streamMessage
			if err := json.Unmarshal(line, &msg); err == nil {
				if msg.Error != nil {
					return written, &APIError{
						StatusCode: msg.Error.HTTPCode,
						Reason:     classify(msg.Error.HTTPCode, msg.Error.Message),
						Message:    msg.Error.Message,
					}
				}
				if msg.Result != nil && msg.Result.AudioChunk != nil && msg.Result.AudioChunk.Data != "" {
					audio, err := base64.StdEncoding.DecodeString(msg.Result.AudioChunk.Data)
					if err != nil {
						return written, fmt.Errorf("speechkit: decode audio chunk: %w", err)
					}
					n, err := w.Write(audio)
					written += int64(n)
					if err != nil {
						return written, fmt.Errorf("speechkit: write audio: %w", err)
					}
				}
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("speechkit: read stream: %w", readErr)
		}
	}
}

// openStreamWithRetry sends the request with exponential backoff retry and
// returns the successful response with its body unread.
func (c *Client) openStreamWithRetry(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("speechkit: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		resp, err := c.openStream(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("speechkit: max retries exceeded: %w", lastErr)
}

// openStream performs a single HTTP request.
func (c *Client) openStream(ctx context.Context, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("speechkit: rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speechkit: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.iamToken)
		req.Header.Set("x-folder-id", c.folderID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("speechkit: request failed: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		msg := string(bytes.TrimSpace(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Reason:     classify(resp.StatusCode, msg),
			Message:    msg,
		}
		if apiErr.Reason == ReasonServer || apiErr.Reason == ReasonRateLimited {
			return nil, &retryableError{err: apiErr}
		}
		return nil, apiErr
	}

	return resp, nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
