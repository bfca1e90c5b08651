package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level structure of a dispatchmon.yaml document.
type Config struct {
	Topic        string       `yaml:"topic"`
	PollInterval Duration     `yaml:"poll_interval"`
	Schedule     string       `yaml:"schedule,omitempty"`
	SeedFirstRun bool         `yaml:"seed_first_run,omitempty"`
	State        StateConfig  `yaml:"state"`
	Source       SourceConfig `yaml:"source"`
	Filter       FilterConfig `yaml:"filter"`
	Notify       NotifyConfig `yaml:"notify"`
	OTel         OTelConfig   `yaml:"otel,omitempty"`
}

// StateConfig selects and locates the durable seen-set store.
type StateConfig struct {
	Driver  string `yaml:"driver"` // "file" or "sqlite"
	Path    string `yaml:"path"`
	MaxSeen int    `yaml:"max_seen"` // 0 disables eviction
}

// SourceConfig describes the upstream Socrata dataset endpoint.
type SourceConfig struct {
	BaseURL       string   `yaml:"base_url"`
	Dataset       string   `yaml:"dataset"`
	Limit         int      `yaml:"limit,omitempty"`
	Timeout       Duration `yaml:"timeout,omitempty"`
	UserAgent     string   `yaml:"user_agent,omitempty"`
	MetadataCheck *bool    `yaml:"metadata_check,omitempty"`
}

// FilterConfig holds the notification-worthiness policy. A record matches
// when it carries OutreachFlag or its call type is in CallTypes; Rule, when
// set, is an additional expr predicate AND-ed with that base policy.
type FilterConfig struct {
	OutreachFlag string   `yaml:"outreach_flag"`
	CallTypes    []string `yaml:"call_types"`
	Rule         string   `yaml:"rule,omitempty"`
}

type NotifyConfig struct {
	Sink        string      `yaml:"sink"` // "ntfy", "email" or "none"
	TitlePrefix string      `yaml:"title_prefix,omitempty"`
	SendDelay   Duration    `yaml:"send_delay,omitempty"`
	Ntfy        NtfyConfig  `yaml:"ntfy,omitempty"`
	Email       EmailConfig `yaml:"email,omitempty"`
}

type NtfyConfig struct {
	BaseURL  string   `yaml:"base_url,omitempty"`
	Priority string   `yaml:"priority,omitempty"`
	Tags     string   `yaml:"tags,omitempty"`
	Token    string   `yaml:"token,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
}

type EmailConfig struct {
	From          string     `yaml:"from"`
	To            string     `yaml:"to"`
	SubjectPrefix string     `yaml:"subject_prefix,omitempty"`
	SMTP          SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	TLSMode  string `yaml:"tls_mode,omitempty"`
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Protocol    string  `yaml:"protocol,omitempty"` // "grpc" or "http/protobuf"
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty"`
}

// Default returns the built-in configuration, matching the public SF
// dispatched-calls dataset. Everything here is overridable via the YAML
// document and the environment.
func Default() Config {
	return Config{
		Topic:        "sf-dispatch-alerts",
		PollInterval: Duration{5 * time.Minute},
		State: StateConfig{
			Driver:  "file",
			Path:    ".dispatchmon.state.json",
			MaxSeen: 10000,
		},
		Source: SourceConfig{
			BaseURL: "https://data.sfgov.org",
			Dataset: "gnap-fj3t",
			Limit:   200,
			Timeout: Duration{30 * time.Second},
		},
		Filter: FilterConfig{
			OutreachFlag: "HSOC",
			CallTypes: []string{
				"SIT/LIE ENFORCEMENT",
				"HOMELESS COMPLAINT",
				"MEET W/CITY EMPLOYEE",
			},
		},
		Notify: NotifyConfig{
			Sink:        "ntfy",
			TitlePrefix: "SF Dispatch",
			SendDelay:   Duration{time.Second},
			Ntfy: NtfyConfig{
				BaseURL:  "https://ntfy.sh",
				Priority: "default",
				Tags:     "rotating_light",
				Timeout:  Duration{15 * time.Second},
			},
		},
		OTel: OTelConfig{
			ServiceName: "dispatchmon",
			Protocol:    "grpc",
			SampleRatio: 1.0,
		},
	}
}

// Load reads the YAML document at path over the defaults. A missing file is
// only an error when required is true (i.e. the operator named the path
// explicitly instead of relying on the default location).
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the invariants that would otherwise surface as confusing
// runtime failures. Any error here is fatal at startup.
func (c *Config) Validate() error {
	if c.Schedule == "" && c.PollInterval.Duration <= 0 {
		return fmt.Errorf("poll_interval must be positive when no schedule is set")
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}

	switch c.State.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown state driver %q (expected file or sqlite)", c.State.Driver)
	}
	if strings.TrimSpace(c.State.Path) == "" {
		return fmt.Errorf("state path is required")
	}
	if c.State.MaxSeen < 0 {
		return fmt.Errorf("state max_seen must be >= 0")
	}

	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source base_url is required")
	}
	if strings.TrimSpace(c.Source.Dataset) == "" {
		return fmt.Errorf("source dataset is required")
	}
	if c.Source.Limit <= 0 {
		return fmt.Errorf("source limit must be positive")
	}

	if c.Filter.OutreachFlag == "" && len(c.Filter.CallTypes) == 0 {
		return fmt.Errorf("filter needs an outreach_flag or at least one call type")
	}

	switch c.Notify.Sink {
	case "ntfy":
		if strings.TrimSpace(c.Topic) == "" {
			return fmt.Errorf("topic is required for the ntfy sink")
		}
		if strings.TrimSpace(c.Notify.Ntfy.BaseURL) == "" {
			return fmt.Errorf("ntfy base_url is required")
		}
	case "email":
		e := c.Notify.Email
		if e.From == "" || e.To == "" {
			return fmt.Errorf("email sink requires from and to addresses")
		}
		if e.SMTP.Host == "" || e.SMTP.Port <= 0 {
			return fmt.Errorf("email sink requires smtp host and port")
		}
	case "none":
	default:
		return fmt.Errorf("unknown notify sink %q (expected ntfy, email or none)", c.Notify.Sink)
	}

	return nil
}
