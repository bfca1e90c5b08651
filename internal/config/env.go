package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overlays environment variables onto cfg. The names match the
// deployment surface: NTFY_* and CHECK_INTERVAL are the operator-facing
// knobs, SMTP_* and OTEL_* carry credentials and endpoints that should not
// live in the YAML document.
func ApplyEnv(cfg *Config) {
	if v := envString("NTFY_TOPIC", ""); v != "" {
		cfg.Topic = v
	}
	if v := envString("NTFY_BASE_URL", ""); v != "" {
		cfg.Notify.Ntfy.BaseURL = v
	}
	if v := envString("NTFY_TOKEN", ""); v != "" {
		cfg.Notify.Ntfy.Token = v
	}
	if v := envInt("CHECK_INTERVAL", 0); v > 0 {
		cfg.PollInterval = Duration{time.Duration(v) * time.Second}
	}
	if v := envString("STATE_PATH", ""); v != "" {
		cfg.State.Path = v
	}
	if v := envString("STATE_DRIVER", ""); v != "" {
		cfg.State.Driver = v
	}
	if v := envString("DATASET_ID", ""); v != "" {
		cfg.Source.Dataset = v
	}
	if v := envString("DATASET_BASE_URL", ""); v != "" {
		cfg.Source.BaseURL = v
	}

	if v := envString("SMTP_HOST", ""); v != "" {
		cfg.Notify.Email.SMTP.Host = v
	}
	if v := envInt("SMTP_PORT", 0); v > 0 {
		cfg.Notify.Email.SMTP.Port = v
	}
	if v := envString("SMTP_USER", ""); v != "" {
		cfg.Notify.Email.SMTP.User = v
	}
	if v := envString("SMTP_PASSWORD", ""); v != "" {
		cfg.Notify.Email.SMTP.Password = v
	}

	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.OTel.Enabled = envBool("OTEL_ENABLED", false)
	}
	if v := envString("OTEL_SERVICE_NAME", ""); v != "" {
		cfg.OTel.ServiceName = v
	}
	if v := envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""); v != "" {
		cfg.OTel.Endpoint = v
	}
	if v := envString("OTEL_EXPORTER_OTLP_PROTOCOL", ""); v != "" {
		cfg.OTel.Protocol = strings.ToLower(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		cfg.OTel.Insecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	}
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
