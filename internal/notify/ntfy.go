package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"dispatchmon/internal/config"
	"dispatchmon/internal/retry"
)

// NtfySink publishes notifications to an ntfy topic via HTTP POST. Rate
// limiting (HTTP 429) is retried with capped exponential backoff; any other
// failure is reported after a single attempt.
type NtfySink struct {
	httpClient *http.Client
	topicURL   string
	priority   string
	tags       string
	token      string
}

func NewNtfySink(topic string, cfg config.NtfyConfig) *NtfySink {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://ntfy.sh"
	}
	return &NtfySink{
		httpClient: &http.Client{Timeout: timeout},
		topicURL:   baseURL + "/" + topic,
		priority:   cfg.Priority,
		tags:       cfg.Tags,
		token:      cfg.Token,
	}
}

func (s *NtfySink) Send(ctx context.Context, n Notification) error {
	err := retry.Do(ctx, retry.Config{
		Attempts:  5,
		BaseDelay: 2 * time.Second,
		MaxDelay:  64 * time.Second,
		Jitter:    250 * time.Millisecond,
	}, func() error {
		return s.post(ctx, n)
	})
	if err == nil {
		return nil
	}
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		return &DeliveryError{Sink: "ntfy", StatusCode: delivery.StatusCode, Err: err}
	}
	return &DeliveryError{Sink: "ntfy", Err: err}
}

func (s *NtfySink) post(ctx context.Context, n Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.topicURL, strings.NewReader(n.Body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Title", n.Title)
	req.Header.Set("Priority", firstNonEmpty(n.Priority, s.priority, "default"))
	if tags := firstNonEmpty(n.Tags, s.tags); tags != "" {
		req.Header.Set("Tags", tags)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return retry.Permanent(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		// The only retryable failure: back off and try again.
		return &DeliveryError{Sink: "ntfy", StatusCode: resp.StatusCode}
	default:
		return retry.Permanent(&DeliveryError{Sink: "ntfy", StatusCode: resp.StatusCode})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
