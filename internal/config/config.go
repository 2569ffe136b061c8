// Package config provides configuration management for the sync tooling.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config holds the complete application configuration loaded from environment variables.
type Config struct {
	AWS     AWSConfig     `envPrefix:"AWS_"`
	DB      DBConfig      `envPrefix:"DB_"`
	Slack   SlackConfig   `envPrefix:"SLACK_"`
	Report  ReportConfig  `envPrefix:"REPORT_"`
	Logging LoggingConfig `envPrefix:"LOG_"`
}

// AWSConfig contains the regions the tooling talks to. Destination buckets
// and queues live in the Cape Town region; upstream providers publish from
// us-west-2.
type AWSConfig struct {
	Region       string `env:"DEFAULT_REGION" envDefault:"af-south-1"`
	SourceRegion string `env:"SOURCE_REGION" envDefault:"us-west-2"`
}

// DBConfig contains the ODC index database connection settings.
type DBConfig struct {
	Hostname string `env:"HOSTNAME" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	Username string `env:"USERNAME" envDefault:"odc"`
	Password string `env:"PASSWORD" envDefault:""`
	Database string `env:"DATABASE" envDefault:"odc"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

// SlackConfig contains notification settings. An empty webhook URL disables
// notifications.
type SlackConfig struct {
	WebhookURL string `env:"WEBHOOK_URL" envDefault:""`
}

// ReportConfig contains gap report thresholds.
type ReportConfig struct {
	// MaxScenes is the largest gap a fresh report may record before the
	// run is treated as a failure needing investigation.
	MaxScenes int `env:"MAX_SCENES" envDefault:"200"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses configuration from environment variables.
// It returns an error if required fields are missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}

	opts := env.Options{
		RequiredIfNoDef: true,
	}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.AWS.Region == "" {
		return fmt.Errorf("AWS default region is required")
	}

	if c.AWS.SourceRegion == "" {
		return fmt.Errorf("AWS source region is required")
	}

	if c.DB.Port < 1 || c.DB.Port > 65535 {
		return fmt.Errorf("database port must be between 1 and 65535, got %d", c.DB.Port)
	}

	if c.Report.MaxScenes < 1 {
		return fmt.Errorf("report scene threshold must be at least 1, got %d", c.Report.MaxScenes)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, text", c.Logging.Format)
	}

	return nil
}

// DSN returns the ODC database connection string in libpq keyword form.
func (d *DBConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", d.Hostname),
		fmt.Sprintf("port=%d", d.Port),
		fmt.Sprintf("user=%s", d.Username),
		fmt.Sprintf("dbname=%s", d.Database),
		fmt.Sprintf("sslmode=%s", d.SSLMode),
	}
	if d.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", d.Password))
	}
	return strings.Join(parts, " ")
}
