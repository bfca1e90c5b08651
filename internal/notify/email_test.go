package notify

import (
	"strings"
	"testing"

	"dispatchmon/internal/config"
)

func testEmailConfig() config.EmailConfig {
	return config.EmailConfig{
		From: "monitor@example.com",
		To:   "ops@example.com",
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587},
	}
}

func TestNewEmailSinkValidatesConfig(t *testing.T) {
	if _, err := NewEmailSink(config.EmailConfig{}); err == nil {
		t.Fatal("expected error for missing addresses")
	}
	cfg := testEmailConfig()
	cfg.SMTP.Port = 0
	if _, err := NewEmailSink(cfg); err == nil {
		t.Fatal("expected error for missing smtp port")
	}
	if _, err := NewEmailSink(testEmailConfig()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestEmailSinkRendersBodyAsHTML(t *testing.T) {
	sink, err := NewEmailSink(testEmailConfig())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	html, err := sink.renderBody("Time: 2/4/2026 4:58 PM\nType: **HOMELESS COMPLAINT**")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "<strong>HOMELESS COMPLAINT</strong>") {
		t.Errorf("markdown not rendered: %s", html)
	}
	if !strings.Contains(html, "<br") {
		t.Errorf("newlines must become hard breaks: %s", html)
	}
}

func TestEmailSinkRejectsBadTLSMode(t *testing.T) {
	cfg := testEmailConfig()
	cfg.SMTP.TLSMode = "sometimes"
	sink, err := NewEmailSink(cfg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if _, err := sink.newClient(); err == nil {
		t.Fatal("expected error for invalid tls mode")
	}
}
