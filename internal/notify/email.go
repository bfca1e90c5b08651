package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	mail "github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"dispatchmon/internal/config"
)

// EmailSink delivers notifications as HTML email over SMTP. The body is
// treated as markdown and rendered to HTML before sending.
type EmailSink struct {
	cfg       config.EmailConfig
	converter goldmark.Markdown
}

func NewEmailSink(cfg config.EmailConfig) (*EmailSink, error) {
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("email sink requires from and to addresses")
	}
	if cfg.SMTP.Host == "" || cfg.SMTP.Port <= 0 {
		return nil, fmt.Errorf("email sink requires smtp host and port")
	}
	return &EmailSink{
		cfg:       cfg,
		converter: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

func (s *EmailSink) Send(ctx context.Context, n Notification) error {
	html, err := s.renderBody(n.Body)
	if err != nil {
		return &DeliveryError{Sink: "email", Err: err}
	}

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return &DeliveryError{Sink: "email", Err: fmt.Errorf("invalid from address: %w", err)}
	}
	if err := m.ToFromString(s.cfg.To); err != nil {
		return &DeliveryError{Sink: "email", Err: fmt.Errorf("invalid to address: %w", err)}
	}
	subject := n.Title
	if s.cfg.SubjectPrefix != "" {
		subject = s.cfg.SubjectPrefix + " " + subject
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, html)

	client, err := s.newClient()
	if err != nil {
		return &DeliveryError{Sink: "email", Err: err}
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return &DeliveryError{Sink: "email", Err: err}
	}
	return nil
}

// renderBody converts the markdown notification body into an HTML document
// fragment. Newlines become hard breaks so the line-per-field message
// layout survives rendering.
func (s *EmailSink) renderBody(body string) (string, error) {
	markdown := strings.ReplaceAll(body, "\n", "  \n")
	var buf bytes.Buffer
	if err := s.converter.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render body: %w", err)
	}
	return buf.String(), nil
}

func (s *EmailSink) newClient() (*mail.Client, error) {
	smtp := s.cfg.SMTP
	opts := []mail.Option{
		mail.WithPort(smtp.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName: smtp.Host,
			MinVersion: tls.VersionTLS12,
		}),
	}

	switch strings.ToLower(strings.TrimSpace(smtp.TLSMode)) {
	case "", "auto":
		if smtp.Port == 465 {
			opts = append(opts, mail.WithSSL())
		} else {
			opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
		}
	case "disabled", "off", "none":
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case "starttls":
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case "implicit":
		opts = append(opts, mail.WithSSL())
	default:
		return nil, fmt.Errorf("invalid smtp tls mode %q", smtp.TLSMode)
	}

	if smtp.User != "" {
		opts = append(opts,
			mail.WithUsername(smtp.User),
			mail.WithPassword(smtp.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	return mail.NewClient(smtp.Host, opts...)
}
