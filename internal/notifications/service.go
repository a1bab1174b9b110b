package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ivg/internal/config"
	"ivg/internal/faults"
)

const userAgent = "ivg/0.1.0"

// Service defines the alerts raised by the daemon.
type Service interface {
	NotifyBreakerOpened(ctx context.Context, provider string, cooldown time.Duration) error
	NotifyBreakerClosed(ctx context.Context, provider string) error
	NotifyJobFailed(ctx context.Context, jobID, jobKind string, detail faults.Detail) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		breakerOpen: cfg.Notifications.BreakerOpen,
		jobFailed:   cfg.Notifications.JobFailed,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	breakerOpen bool
	jobFailed   bool
}

func (n *ntfyService) NotifyBreakerOpened(ctx context.Context, provider string, cooldown time.Duration) error {
	if !n.breakerOpen {
		return nil
	}
	provider = strings.TrimSpace(provider)
	message := fmt.Sprintf("Provider %s is failing; new generations are rejected", provider)
	if cooldown > 0 {
		message = fmt.Sprintf("%s for %s", message, cooldown.Round(time.Second))
	}
	return n.send(ctx, payload{
		title:    "IVG - Provider Circuit Open",
		message:  message,
		tags:     []string{"ivg", "provider", "breaker"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBreakerClosed(ctx context.Context, provider string) error {
	if !n.breakerOpen {
		return nil
	}
	return n.send(ctx, payload{
		title:   "IVG - Provider Recovered",
		message: fmt.Sprintf("Provider %s is accepting generations again", strings.TrimSpace(provider)),
		tags:    []string{"ivg", "provider", "recovered"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID, jobKind string, detail faults.Detail) error {
	if !n.jobFailed {
		return nil
	}
	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(jobKind))
	builder.WriteString(" job ")
	builder.WriteString(strings.TrimSpace(jobID))
	builder.WriteString(" failed")
	if detail.Kind != "" {
		builder.WriteString(" (")
		builder.WriteString(string(detail.Kind))
		builder.WriteString(")")
	}
	if msg := strings.TrimSpace(detail.Message); msg != "" {
		builder.WriteString(": ")
		builder.WriteString(msg)
	}
	return n.send(ctx, payload{
		title:   "IVG - Job Failed",
		message: builder.String(),
		tags:    []string{"ivg", "job", "failed"},
	})
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

func (noopService) NotifyBreakerOpened(context.Context, string, time.Duration) error { return nil }
func (noopService) NotifyBreakerClosed(context.Context, string) error                { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, faults.Detail) error {
	return nil
}
