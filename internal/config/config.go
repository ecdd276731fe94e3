// Package config loads application configuration from file and environment.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Sources  SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SourcesConfig locates the input extracts and optional download mirrors.
type SourcesConfig struct {
	DataDir        string `yaml:"data_dir" mapstructure:"data_dir"`
	RegistryURL    string `yaml:"registry_url" mapstructure:"registry_url"`
	ClaimsFile     string `yaml:"claims_file" mapstructure:"claims_file"`
	GeographyFile  string `yaml:"geography_file" mapstructure:"geography_file"`
	DownloadJitter bool   `yaml:"download_jitter" mapstructure:"download_jitter"`
	HTTPTimeout    int    `yaml:"http_timeout_secs" mapstructure:"http_timeout_secs"`
	UserAgent      string `yaml:"user_agent" mapstructure:"user_agent"`
}

// PipelineConfig configures ingest behavior.
type PipelineConfig struct {
	BatchSize              int  `yaml:"batch_size" mapstructure:"batch_size"`
	MultiLocationThreshold int  `yaml:"multi_location_threshold" mapstructure:"multi_location_threshold"`
	EmitDeactivations      bool `yaml:"emit_deactivations" mapstructure:"emit_deactivations"`
}

// ClassifyConfig allows overriding the built-in classification pattern tables.
type ClassifyConfig struct {
	PatternsFile string `yaml:"patterns_file" mapstructure:"patterns_file"`
}

// ScoringConfig selects the scoring weight profile.
type ScoringConfig struct {
	Profile      string `yaml:"profile" mapstructure:"profile"`
	ProfilesFile string `yaml:"profiles_file" mapstructure:"profiles_file"`
}

// ExportConfig configures export output.
type ExportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("PHARMINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pharmacies.db")
	v.SetDefault("sources.data_dir", "data")
	v.SetDefault("sources.claims_file", "cms_partd.csv")
	v.SetDefault("sources.geography_file", "zip_demographics.csv")
	v.SetDefault("sources.http_timeout_secs", 120)
	v.SetDefault("sources.user_agent", "pharmacy-intel/1.0")
	v.SetDefault("pipeline.batch_size", 5000)
	v.SetDefault("pipeline.multi_location_threshold", 10)
	v.SetDefault("pipeline.emit_deactivations", false)
	v.SetDefault("scoring.profile", "market")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("server.port", 8080)
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

// Validate checks that the configuration is sufficient for the given mode
// ("pipeline", "serve", or "query").
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(cond bool, msg string) {
		if cond {
			missing = append(missing, msg)
		}
	}

	check(c.Store.Driver != "postgres" && c.Store.Driver != "sqlite",
		"store.driver must be postgres or sqlite")
	check(c.Store.DatabaseURL == "", "store.database_url is required")

	switch mode {
	case "pipeline":
		check(c.Sources.DataDir == "", "sources.data_dir is required")
		check(c.Pipeline.BatchSize <= 0, "pipeline.batch_size must be > 0")
		check(c.Pipeline.MultiLocationThreshold < 2,
			"pipeline.multi_location_threshold must be >= 2")
	case "serve":
		check(c.Server.Port <= 0, "server.port must be > 0")
	case "query":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(missing, "; "))
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
