package notify

import (
	"context"
	"fmt"
	"log/slog"

	"dispatchmon/internal/config"
)

// Notification is one human-readable push message. Priority and Tags are
// optional; sinks fall back to their configured defaults.
type Notification struct {
	Title    string
	Body     string
	Priority string
	Tags     string
}

// Notifier delivers a notification, best-effort. One Send is one delivery
// attempt from the caller's point of view; whatever internal retrying a
// sink does (the ntfy sink backs off on rate limits) is invisible to it.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// DeliveryError reports a failed delivery attempt. Recoverable: the poll
// loop logs it and carries on.
type DeliveryError struct {
	Sink       string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s delivery failed with status %d", e.Sink, e.StatusCode)
	}
	return fmt.Sprintf("%s delivery failed: %v", e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// New builds the sink selected by the configuration.
func New(cfg config.Config, logger *slog.Logger) (Notifier, error) {
	switch cfg.Notify.Sink {
	case "ntfy", "":
		return NewNtfySink(cfg.Topic, cfg.Notify.Ntfy), nil
	case "email":
		return NewEmailSink(cfg.Notify.Email)
	case "none":
		return &NopSink{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown notify sink %q", cfg.Notify.Sink)
	}
}

// NopSink logs and drops every notification. Useful for dry runs.
type NopSink struct {
	logger *slog.Logger
}

func (s *NopSink) Send(ctx context.Context, n Notification) error {
	_ = ctx
	if s.logger != nil {
		s.logger.Info("notification dropped (sink disabled)", "title", n.Title)
	}
	return nil
}
