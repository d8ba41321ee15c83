// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/adc-ops/grantwatch/internal/grant"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Keywords KeywordsConfig `mapstructure:"keywords"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Sources  []SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects and configures the grant store backend.
type StorageConfig struct {
	// Provider is one of "memory", "postgres", "sqlite".
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for the optional Pub/Sub alert bridge.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// IngestConfig governs the ingestion pipeline.
type IngestConfig struct {
	// FetchTimeoutSeconds bounds every source fetch; a slow source fails
	// soft instead of stalling its cadence group.
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	AlertThreshold      int    `mapstructure:"alert_threshold"`
	UserAgent           string `mapstructure:"user_agent"`
}

// MonitorConfig governs the deadline monitor.
type MonitorConfig struct {
	UrgencyWindowDays int `mapstructure:"urgency_window_days"`
}

// KeywordsConfig carries the relevance keyword sets. Domain keywords gate
// admission and score +10 each; secondary keywords score +2 each.
// International keywords pre-filter the English-language structured sources.
type KeywordsConfig struct {
	Domain        []string `mapstructure:"domain"`
	Secondary     []string `mapstructure:"secondary"`
	International []string `mapstructure:"international"`
}

// ScheduleConfig maps cadence groups to cron specs, plus the deadline sweep.
type ScheduleConfig struct {
	Groups map[string]string `mapstructure:"groups"`
	Sweep  string            `mapstructure:"sweep"`
}

// SourceConfig describes one configured external source.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	// IssuingBody is the default issuing body for records from this source,
	// used when a listing does not name one itself.
	IssuingBody string `mapstructure:"issuing_body"`
	Scope       string `mapstructure:"scope"`
	URL         string `mapstructure:"url"`
	// Kind is one of "structured", "heuristic", "feed".
	Kind  string `mapstructure:"kind"`
	Group string `mapstructure:"group"`
}

// Source adapter kinds.
const (
	KindStructured = "structured"
	KindHeuristic  = "heuristic"
	KindFeed       = "feed"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRANTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.max_open_conns", 8)
	v.SetDefault("logging.development", true)
	v.SetDefault("ingest.fetch_timeout_seconds", 30)
	v.SetDefault("ingest.alert_threshold", 70)
	v.SetDefault("ingest.user_agent", "grantwatch-bot/0.1")
	v.SetDefault("monitor.urgency_window_days", 15)

	// Cadences mirror how often each class of source actually publishes:
	// broad daily, regional a few times a week, foundations weekly, and a
	// frequent deadline sweep independent of any fetch.
	v.SetDefault("schedule.groups", map[string]string{
		"broad":    "0 6 * * *",
		"regional": "0 7 * * 1,3,5",
		"private":  "0 8 * * 1",
	})
	v.SetDefault("schedule.sweep", "0 */4 * * *")

	v.SetDefault("keywords.domain", []string{
		"protección civil", "emergencias", "voluntariado", "emergencia",
		"catástrofe", "prevención", "seguridad ciudadana", "rescate",
		"bomberos", "sanitario", "ambulancia", "equipamiento", "formación",
		"coordinación", "comunicaciones", "drones", "teleasistencia",
		"rural", "despoblación", "mayores", "social", "ong", "asociación",
		"tercer sector", "acción social",
	})
	v.SetDefault("keywords.secondary", []string{
		"ayuda", "financiación", "dotación", "presupuesto", "entidad",
	})
	v.SetDefault("keywords.international", []string{
		"civil protection", "emergency", "disaster", "volunteer",
		"rescue", "safety", "prevention", "coordination",
	})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Ingest.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("ingest.fetch_timeout_seconds must be > 0")
	}
	if c.Ingest.AlertThreshold < 0 || c.Ingest.AlertThreshold > 100 {
		return fmt.Errorf("ingest.alert_threshold must be in [0,100]")
	}
	if c.Monitor.UrgencyWindowDays <= 0 {
		return fmt.Errorf("monitor.urgency_window_days must be > 0")
	}
	if len(c.Keywords.Domain) == 0 {
		return fmt.Errorf("keywords.domain must not be empty")
	}
	switch c.Storage.Provider {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres provider")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set for the sqlite provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return c.validateSources()
}

func (c Config) validateSources() error {
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name is required", i)
		}
		if src.URL == "" {
			return fmt.Errorf("source %q: url is required", src.Name)
		}
		if src.IssuingBody == "" {
			return fmt.Errorf("source %q: issuing_body is required", src.Name)
		}
		if _, ok := grant.ParseScope(src.Scope); !ok {
			return fmt.Errorf("source %q: unknown scope %q", src.Name, src.Scope)
		}
		switch src.Kind {
		case KindStructured, KindHeuristic, KindFeed:
		default:
			return fmt.Errorf("source %q: unknown kind %q", src.Name, src.Kind)
		}
		if _, ok := c.Schedule.Groups[src.Group]; !ok {
			return fmt.Errorf("source %q: no schedule for cadence group %q", src.Name, src.Group)
		}
	}
	return nil
}

// FetchTimeout converts the fetch timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Ingest.FetchTimeoutSeconds) * time.Second
}

// UrgencyWindow converts the urgency window config into a duration.
func (c Config) UrgencyWindow() time.Duration {
	return time.Duration(c.Monitor.UrgencyWindowDays) * 24 * time.Hour
}
