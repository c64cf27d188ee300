package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"narrasync/internal/config"
)

const userAgent = "narrasync/0.1.0"

// Service defines the notification surface exposed to the editing daemon.
type Service interface {
	NotifyRegenerationFailed(ctx context.Context, projectTitle, segmentID string, cause error) error
	NotifyProjectSynced(ctx context.Context, projectTitle string, segmentCount int, total time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		failures: cfg.Notifications.RegenerationFailed,
		synced:   cfg.Notifications.ProjectSynced,
	}
}

// Enabled reports whether svc delivers anything.
func Enabled(svc Service) bool {
	if svc == nil {
		return false
	}
	_, noop := svc.(noopService)
	return !noop
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	failures bool
	synced   bool
}

func (n *ntfyService) NotifyRegenerationFailed(ctx context.Context, projectTitle, segmentID string, cause error) error {
	if !n.failures {
		return nil
	}
	reason := "unknown error"
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	data := payload{
		title:    "narrasync - Voice Failed",
		message:  fmt.Sprintf("Voice generation failed for %s in %s\n%s", strings.TrimSpace(segmentID), strings.TrimSpace(projectTitle), reason),
		tags:     []string{"narrasync", "voice", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyProjectSynced(ctx context.Context, projectTitle string, segmentCount int, total time.Duration) error {
	if !n.synced {
		return nil
	}
	total = total.Round(time.Second)
	if total < 0 {
		total = 0
	}
	data := payload{
		title:   "narrasync - Synced",
		message: fmt.Sprintf("%s is in sync: %d segments, %s of narration", strings.TrimSpace(projectTitle), segmentCount, total),
		tags:    []string{"narrasync", "timeline", "synced"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "narrasync - Error",
		message:  builder.String(),
		tags:     []string{"narrasync", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "narrasync - Test",
		message:  "Notification system test",
		tags:     []string{"narrasync", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRegenerationFailed(context.Context, string, string, error) error { return nil }
func (noopService) NotifyProjectSynced(context.Context, string, int, time.Duration) error  { return nil }
func (noopService) NotifyError(context.Context, error, string) error                      { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
