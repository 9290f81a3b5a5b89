package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Uploads    UploadsConfig    `yaml:"uploads" mapstructure:"uploads"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Drops      DropsConfig      `yaml:"drops" mapstructure:"drops"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// UploadsConfig configures upload intake and processing.
type UploadsConfig struct {
	Dir           string `yaml:"dir" mapstructure:"dir"`
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	BudgetSecs    int    `yaml:"budget_secs" mapstructure:"budget_secs"`
}

// PipelineConfig configures promotion and linking behavior.
type PipelineConfig struct {
	BackfillHorizonDays int     `yaml:"backfill_horizon_days" mapstructure:"backfill_horizon_days"`
	MatchLimit          int     `yaml:"match_limit" mapstructure:"match_limit"`
	MatchMinConfidence  float64 `yaml:"match_min_confidence" mapstructure:"match_min_confidence"`
}

// GeocodeConfig configures the external geocoding trigger.
type GeocodeConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Token       string `yaml:"token" mapstructure:"token"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DropsConfig configures scheduled export-drop fetching.
type DropsConfig struct {
	ManifestPath string         `yaml:"manifest_path" mapstructure:"manifest_path"`
	TimeoutSecs  int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Locations    []DropLocation `yaml:"locations" mapstructure:"locations"`
}

// DropLocation names one remote export location to poll.
type DropLocation struct {
	System string `yaml:"system" mapstructure:"system"`
	Table  string `yaml:"table" mapstructure:"table"`
	URL    string `yaml:"url" mapstructure:"url"`
	User   string `yaml:"user" mapstructure:"user"`
	Pass   string `yaml:"pass" mapstructure:"pass"`
}

// MonitoringConfig configures pipeline health checks and alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StuckProcessingMins  int     `yaml:"stuck_processing_mins" mapstructure:"stuck_processing_mins"`
	StaleSourceDays      int     `yaml:"stale_source_days" mapstructure:"stale_source_days"`
	NoteQueueMax         int     `yaml:"note_queue_max" mapstructure:"note_queue_max"`
}

// ServerConfig configures the upload HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("uploads.dir", "data/uploads")
	v.SetDefault("uploads.max_concurrent", 2)
	v.SetDefault("uploads.budget_secs", 600)
	v.SetDefault("pipeline.backfill_horizon_days", 30)
	v.SetDefault("pipeline.match_limit", 1000)
	v.SetDefault("pipeline.match_min_confidence", 0.40)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("drops.manifest_path", "data/drops.db")
	v.SetDefault("drops.timeout_secs", 120)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stuck_processing_mins", 30)
	v.SetDefault("monitoring.stale_source_days", 14)
	v.SetDefault("monitoring.note_queue_max", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required for the given mode are set.
// Modes: "serve", "process", "ingest", "fetch", "migrate", "status",
// "matchgen", "backfill".
func (c *Config) Validate(mode string) error {
	var problems []string

	needDB := func() {
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required")
		}
	}

	switch mode {
	case "migrate", "process", "ingest", "status", "matchgen", "backfill":
		needDB()
	case "fetch":
		needDB()
		if len(c.Drops.Locations) == 0 {
			problems = append(problems, "drops.locations is required for fetch")
		}
	case "serve":
		needDB()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Uploads.MaxConcurrent < 1 || c.Uploads.MaxConcurrent > 16 {
		problems = append(problems, "uploads.max_concurrent must be between 1 and 16")
	}
	if c.Uploads.BudgetSecs < 1 {
		problems = append(problems, "uploads.budget_secs must be > 0")
	}
	if c.Pipeline.BackfillHorizonDays < 0 {
		problems = append(problems, "pipeline.backfill_horizon_days must be >= 0")
	}
	if c.Pipeline.MatchMinConfidence < 0 || c.Pipeline.MatchMinConfidence > 1 {
		problems = append(problems, "pipeline.match_min_confidence must be between 0 and 1")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		problems = append(problems, "monitoring.failure_rate_threshold must be between 0 and 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
