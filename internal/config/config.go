package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the engine recognizes. Values come from
// defaults, then an optional YAML file, then environment variables, in that
// order of increasing precedence.
type Config struct {
	// Domain is the organization's email domain (e.g. "co.com"). Attendees
	// whose address ends in "@"+Domain are internal. Required.
	Domain string `yaml:"domain"`

	// DefaultRate is the flat hourly billing rate applied to every attendee.
	DefaultRate float64 `yaml:"defaultRate"`

	// CostTag is the literal that begins the annotation line in event
	// descriptions.
	CostTag string `yaml:"costTag"`

	// InternalOnly skips meetings that mix internal and external attendees.
	InternalOnly bool `yaml:"internalOnly"`

	// ExcludeDeclined removes declined attendees before the solo-meeting
	// check.
	ExcludeDeclined bool `yaml:"excludeDeclined"`

	// MaxMembers caps how many directory members one run will process.
	MaxMembers int `yaml:"maxMembers"`

	// WindowDays bounds the look-back/look-ahead full fetch used when a
	// member has no usable sync cursor.
	WindowDays int `yaml:"windowDays"`

	// LowThreshold and HighThreshold split effective cost into the three
	// severity bands (green <= low < orange <= high < red).
	LowThreshold  int `yaml:"lowThreshold"`
	HighThreshold int `yaml:"highThreshold"`

	// Concurrency bounds how many members are processed in parallel.
	Concurrency int `yaml:"concurrency"`

	// RatePerSecond throttles Calendar API calls across all members.
	RatePerSecond float64 `yaml:"ratePerSecond"`

	// AdminSubject is the workspace admin impersonated for Directory API
	// access. When empty the service account's own identity is used.
	AdminSubject string `yaml:"adminSubject"`

	// CredentialsPath points at the service-account JSON key file.
	CredentialsPath string `yaml:"credentialsPath"`

	// CursorDBPath is the sqlite file holding per-member sync cursors.
	CursorDBPath string `yaml:"cursorDB"`

	// ListenAddr, APIKey and Schedule configure the serve command. An empty
	// APIKey disables request authentication; an empty Schedule disables the
	// built-in cron trigger.
	ListenAddr string `yaml:"listenAddr"`
	APIKey     string `yaml:"apiKey"`
	Schedule   string `yaml:"schedule"`

	// CredentialsJSON is the loaded key material. Populated by Load, never
	// read from YAML.
	CredentialsJSON []byte `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		DefaultRate:   125,
		CostTag:       "[[MEETING_COST]]",
		InternalOnly:  true,
		MaxMembers:    10000,
		WindowDays:    35,
		LowThreshold:  500,
		HighThreshold: 1000,
		Concurrency:   4,
		RatePerSecond: 5,
		CursorDBPath:  "meetcost.db",
		ListenAddr:    ":8080",
	}
}

// Load builds the effective configuration. path may be empty; when set it
// names a YAML file applied over the defaults before the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.loadCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	setStr(&c.Domain, "DOMAIN")
	setStr(&c.CostTag, "COST_TAG")
	setStr(&c.AdminSubject, "ADMIN_SUBJECT")
	setStr(&c.CredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	setStr(&c.CursorDBPath, "CURSOR_DB")
	setStr(&c.ListenAddr, "LISTEN_ADDR")
	setStr(&c.APIKey, "API_KEY")
	setStr(&c.Schedule, "SCHEDULE")

	for _, f := range []struct {
		key string
		set func(string) error
	}{
		{"DEFAULT_RATE", func(v string) error { return parseFloat(v, &c.DefaultRate) }},
		{"RATE_PER_SECOND", func(v string) error { return parseFloat(v, &c.RatePerSecond) }},
		{"INTERNAL_ONLY", func(v string) error { return parseBool(v, &c.InternalOnly) }},
		{"EXCLUDE_DECLINED", func(v string) error { return parseBool(v, &c.ExcludeDeclined) }},
		{"MAX_USERS", func(v string) error { return parseInt(v, &c.MaxMembers) }},
		{"WINDOW_DAYS", func(v string) error { return parseInt(v, &c.WindowDays) }},
		{"LOW_THRESHOLD", func(v string) error { return parseInt(v, &c.LowThreshold) }},
		{"HIGH_THRESHOLD", func(v string) error { return parseInt(v, &c.HighThreshold) }},
		{"CONCURRENCY", func(v string) error { return parseInt(v, &c.Concurrency) }},
	} {
		if v := os.Getenv(f.key); v != "" {
			if err := f.set(v); err != nil {
				return fmt.Errorf("invalid %s: %w", f.key, err)
			}
		}
	}
	return nil
}

// loadCredentials resolves the service-account key, preferring a file path
// over inline JSON in the environment.
func (c *Config) loadCredentials() error {
	if c.CredentialsPath != "" {
		data, err := os.ReadFile(c.CredentialsPath)
		if err != nil {
			return fmt.Errorf("failed to read credentials file: %w", err)
		}
		c.CredentialsJSON = data
		return nil
	}
	if v := os.Getenv("GOOGLE_CREDENTIALS_JSON"); v != "" {
		c.CredentialsJSON = []byte(v)
	}
	return nil
}

// Validate rejects configurations that must not start a run. Called once at
// startup; no partial run is attempted on failure.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: DOMAIN is required")
	}
	if c.DefaultRate <= 0 {
		return fmt.Errorf("config: default rate must be positive, got %v", c.DefaultRate)
	}
	if c.CostTag == "" {
		return fmt.Errorf("config: cost tag must not be empty")
	}
	if c.MaxMembers <= 0 {
		return fmt.Errorf("config: max members must be positive, got %d", c.MaxMembers)
	}
	if c.WindowDays <= 0 {
		return fmt.Errorf("config: window days must be positive, got %d", c.WindowDays)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.Concurrency)
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("config: rate limit must be positive, got %v", c.RatePerSecond)
	}
	if c.LowThreshold <= 0 || c.HighThreshold <= c.LowThreshold {
		return fmt.Errorf("config: thresholds must be ascending positive, got %d/%d", c.LowThreshold, c.HighThreshold)
	}
	if len(c.CredentialsJSON) == 0 {
		return fmt.Errorf("config: Google credentials not found; set GOOGLE_CREDENTIALS_PATH or GOOGLE_CREDENTIALS_JSON")
	}
	return nil
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
