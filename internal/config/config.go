// Package config loads and validates sourcewatch's YAML configuration file,
// following the teacher's split of viper for CLI-flag bootstrap and
// gopkg.in/yaml.v3 for the structured file itself.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
var credentialsPattern = regexp.MustCompile(`://[^/]+:[^/]+@`)

const supportedVersion = "1"

// AgentConfig carries agent identity and logging settings.
type AgentConfig struct {
	ID        string `yaml:"id"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StorageConfig selects and locates the state store backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// FreshnessConfig configures staleness and collection-gap detection for one source.
type FreshnessConfig struct {
	MaxAgeHours *float64 `yaml:"max_age_hours"`
	Factor      float64  `yaml:"factor"`
}

// VolumeConfig configures row-count anomaly detection for one source.
type VolumeConfig struct {
	MinRowCount     *int64  `yaml:"min_row_count"`
	DeviationFactor float64 `yaml:"deviation_factor"`
}

// SourceConfig describes one monitored data source.
type SourceConfig struct {
	Name        string          `yaml:"name"`
	Type        string          `yaml:"type"`
	Dialect     string          `yaml:"dialect"`
	Connection  string          `yaml:"connection"`
	Query       string          `yaml:"query"`
	Schedule    string          `yaml:"schedule"`
	Freshness   FreshnessConfig `yaml:"freshness"`
	Volume      VolumeConfig    `yaml:"volume"`
	SchemaDrift bool            `yaml:"schema_drift"`
	Enabled     bool            `yaml:"enabled"`
}

// WebhookConfig describes one alert delivery target.
type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// HasEvent reports whether the target is subscribed to the given event type.
func (w WebhookConfig) HasEvent(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// AlertingConfig configures cooldown and the set of webhook targets.
type AlertingConfig struct {
	CooldownMinutes int             `yaml:"cooldown_minutes"`
	Webhooks        []WebhookConfig `yaml:"webhooks"`
}

// RetentionConfig configures how long snapshots and delivery logs are kept.
type RetentionConfig struct {
	Days         int `yaml:"days"`
	MinSnapshots int `yaml:"min_snapshots"`
}

// BaselineConfig configures the baseline computer's history window.
type BaselineConfig struct {
	WindowSize int `yaml:"window_size"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// Config is the root sourcewatch configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Agent     AgentConfig     `yaml:"agent"`
	Storage   StorageConfig   `yaml:"storage"`
	Sources   []SourceConfig  `yaml:"sources"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Retention RetentionConfig `yaml:"retention"`
	Baseline  BaselineConfig  `yaml:"baseline"`
}

// Default returns a Config with the same defaults as the example file in
// SPEC_FULL.md's §6.1, before YAML overrides are applied.
func Default() Config {
	return Config{
		Version: supportedVersion,
		Agent:   AgentConfig{ID: "sourcewatch-agent", LogLevel: "info", LogFormat: "text"},
		Storage: StorageConfig{Backend: "sqlite", Path: "./sourcewatch.db"},
		Alerting: AlertingConfig{
			CooldownMinutes: 60,
		},
		Retention: RetentionConfig{Days: 30, MinSnapshots: 10},
		Baseline:  BaselineConfig{WindowSize: 20, MaxAgeDays: 30},
	}
}

// Load reads and validates configuration from a YAML file at path.
func Load(path string) (*Config, error) {
	// #nosec G304 - path is an operator-supplied CLI flag / env var, not untrusted input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applySourceDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applySourceDefaults(cfg *Config) {
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Type == "" {
			s.Type = "sql"
		}
		if s.Dialect == "" {
			s.Dialect = "postgres"
		}
		if s.Schedule == "" {
			s.Schedule = "*/15 * * * *"
		}
		if s.Freshness.Factor == 0 {
			s.Freshness.Factor = 2.0
		}
		if s.Volume.DeviationFactor == 0 {
			s.Volume.DeviationFactor = 3.0
		}
	}
	for i := range cfg.Alerting.Webhooks {
		w := &cfg.Alerting.Webhooks[i]
		if len(w.Events) == 0 {
			w.Events = []string{"anomaly", "recovery"}
		}
		if w.TimeoutSeconds == 0 {
			w.TimeoutSeconds = 10
		}
	}
}

// Validate checks a loaded config for the invariants SPEC_FULL.md §6.1 requires:
// a supported version, and no bare credentials in connection strings or
// webhook URLs that aren't routed through ${VAR} interpolation.
func Validate(cfg *Config) error {
	if cfg.Version != supportedVersion {
		return fmt.Errorf("unsupported config version: %q (expected %q)", cfg.Version, supportedVersion)
	}

	seen := make(map[string]bool, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("source config missing name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name: %s", s.Name)
		}
		seen[s.Name] = true

		if hasBareCredentials(s.Connection) {
			return fmt.Errorf("source %s: connection string appears to contain credentials; use ${VAR} interpolation", s.Name)
		}
	}

	webhookNames := make(map[string]bool, len(cfg.Alerting.Webhooks))
	for _, w := range cfg.Alerting.Webhooks {
		if w.Name == "" {
			return fmt.Errorf("webhook config missing name")
		}
		if webhookNames[w.Name] {
			return fmt.Errorf("duplicate webhook name: %s", w.Name)
		}
		webhookNames[w.Name] = true

		if hasBareCredentials(w.URL) {
			return fmt.Errorf("webhook %s: URL appears to contain credentials; use ${VAR} interpolation", w.Name)
		}
	}

	return nil
}

func hasBareCredentials(s string) bool {
	return credentialsPattern.MatchString(s) && !strings.Contains(s, "${")
}

// ResolveEnvVars expands ${NAME} placeholders in value using environment
// variables, failing loudly (rather than substituting an empty string) when
// a referenced variable is unset.
func ResolveEnvVars(value string) (string, error) {
	var firstErr error
	resolved := envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("environment variable not set: %s", name)
			}
			return match
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return resolved, nil
}

// MaskSecrets redacts the userinfo portion of a connection-string-like value
// for safe logging.
func MaskSecrets(value string) string {
	return regexp.MustCompile(`://([^:/]+):([^@/]+)@`).ReplaceAllString(value, "://$1:***@")
}
