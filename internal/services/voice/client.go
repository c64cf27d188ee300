package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"narrasync/internal/config"
	"narrasync/internal/segments"
	"narrasync/internal/services"
)

const (
	component             = "voice"
	defaultHTTPTimeout    = 120 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryAttempts  = 3
	maxErrorBody          = 512
)

// Config captures the runtime settings required to talk to the provider.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	VoiceID        string
	TimeoutSeconds int
	RetryAttempts  int
}

// ConfigFromApp extracts the voice section of the application config.
func ConfigFromApp(cfg *config.Config) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		BaseURL:        cfg.Voice.BaseURL,
		APIKey:         cfg.Voice.APIKey,
		Model:          cfg.Voice.Model,
		VoiceID:        cfg.Voice.VoiceID,
		TimeoutSeconds: cfg.Voice.TimeoutSeconds,
		RetryAttempts:  cfg.Voice.RetryAttempts,
	}
}

// Client wraps the provider's synthesis endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the configured retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a provider client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	attempts := defaultRetryAttempts
	if cfg.RetryAttempts > 0 {
		attempts = cfg.RetryAttempts
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimSpace(cfg.BaseURL),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			Model:          strings.TrimSpace(cfg.Model),
			VoiceID:        strings.TrimSpace(cfg.VoiceID),
			TimeoutSeconds: cfg.TimeoutSeconds,
			RetryAttempts:  attempts,
		},
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: attempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
	Model string `json:"model,omitempty"`
}

type synthesisResponse struct {
	URL         string                `json:"url"`
	AudioURL    string                `json:"audio_url"`
	DurationMs  int64                 `json:"duration_ms"`
	WordTimings []segments.WordTiming `json:"word_timings"`
	// Segments carries a WhisperX-style alignment when the provider runs
	// forced alignment instead of emitting timings directly.
	Segments []alignmentSegment `json:"segments"`
	Error    string             `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("voice request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Generate synthesizes text and returns the audio location and timings.
// Failures are tagged with services.ErrGenerationFailed, or
// services.ErrConfiguration when the client cannot issue requests at all.
func (c *Client) Generate(ctx context.Context, text string) (segments.GeneratedVoice, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return segments.GeneratedVoice{}, services.Wrap(services.ErrValidation, component, "generate", "text required", nil)
	}
	if c.cfg.BaseURL == "" {
		return segments.GeneratedVoice{}, services.Wrap(services.ErrConfiguration, component, "generate", "voice base_url not configured", nil)
	}
	payload := synthesisRequest{Text: text, Voice: c.cfg.VoiceID, Model: c.cfg.Model}

	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.sendOnce(ctx, payload)
		if err == nil {
			voice, convErr := resp.toVoice()
			if convErr == nil {
				return voice, nil
			}
			return segments.GeneratedVoice{}, services.Wrap(services.ErrGenerationFailed, component, "generate", "decode result", convErr)
		}
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return segments.GeneratedVoice{}, services.Wrap(services.ErrGenerationFailed, component, "generate", "", err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return segments.GeneratedVoice{}, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("unknown retry failure")
	}
	return segments.GeneratedVoice{}, services.Wrap(services.ErrGenerationFailed, component, "generate",
		fmt.Sprintf("failed after %d attempts", attempts), lastErr)
}

func (r synthesisResponse) toVoice() (segments.GeneratedVoice, error) {
	if msg := strings.TrimSpace(r.Error); msg != "" {
		return segments.GeneratedVoice{}, fmt.Errorf("provider error: %s", msg)
	}
	audio := strings.TrimSpace(r.URL)
	if audio == "" {
		audio = strings.TrimSpace(r.AudioURL)
	}
	if audio == "" {
		return segments.GeneratedVoice{}, errors.New("response missing audio url")
	}
	timings := r.WordTimings
	duration := r.DurationMs
	if len(timings) == 0 && len(r.Segments) > 0 {
		timings = alignmentTimings(r.Segments)
		if duration <= 0 {
			duration = alignmentEndMs(r.Segments)
		}
	}
	return segments.GeneratedVoice{URL: audio, WordTimings: timings, DurationMs: duration}, nil
}

func (c *Client) sendOnce(ctx context.Context, payload synthesisRequest) (synthesisResponse, error) {
	var decoded synthesisResponse
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "")
	if err != nil {
		return decoded, fmt.Errorf("voice request: build url: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return decoded, fmt.Errorf("voice request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return decoded, fmt.Errorf("voice request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decoded, fmt.Errorf("voice request: http error (timeout=%s): %w", c.timeoutDuration(), err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decoded, fmt.Errorf("voice request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return decoded, &httpStatusError{StatusCode: resp.StatusCode, Body: snippet, RetryAfter: retryAfter}
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return decoded, fmt.Errorf("voice request: decode response: %w", err)
	}
	return decoded, nil
}

func (c *Client) timeoutDuration() time.Duration {
	if c == nil || c.httpClient == nil || c.httpClient.Timeout <= 0 {
		return defaultHTTPTimeout
	}
	return c.httpClient.Timeout
}

func (c *Client) retryAttempts() int {
	if c == nil || c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return c.capDelay(statusErr.RetryAfter), true
			}
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := defaultRetryBaseDelay
	maxDelay := defaultRetryMaxDelay
	if c.retryBaseDelay >= 0 {
		base = c.retryBaseDelay
	}
	if c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if base <= 0 {
		return 0
	}
	// attempt 1 -> base, attempt 2 -> base*2, attempt 3 -> base*4, ...
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return c.capDelay(delay)
}

func (c *Client) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	maxDelay := defaultRetryMaxDelay
	if c.retryMaxDelay > 0 {
		maxDelay = c.retryMaxDelay
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		if delay := time.Until(when); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

// HealthCheck verifies the provider endpoint answers and accepts the key.
// Any other HTTP response below 500 counts as reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return services.Wrap(services.ErrConfiguration, component, "health", "voice base_url not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.cfg.BaseURL, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "health", "build request", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "health", "provider unreachable", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, component, "health", "api key rejected", nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, component, "health", fmt.Sprintf("provider returned http %d", resp.StatusCode), nil)
	}
	return nil
}
