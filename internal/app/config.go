package app

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// BootPaths are boot files or directories of boot files.
	BootPaths []string `mapstructure:"boot" validate:"dive,required"`
	// RulesDir holds extra transformer rule files; empty means none.
	RulesDir string `mapstructure:"rules-dir"`

	LogFormat string `mapstructure:"log-format" validate:"omitempty,oneof=text json"`
	LogLevel  string `mapstructure:"log-level" validate:"omitempty,oneof=debug info warn error"`
	// HTTPPort serves /health and /metrics; 0 disables the server.
	HTTPPort int `mapstructure:"http-port" validate:"gte=0,lte=65535"`

	TraceExporter   string  `mapstructure:"trace-exporter" validate:"omitempty,oneof=none stdout"`
	TraceSampleRate float64 `mapstructure:"trace-sample-rate" validate:"gte=0,lte=1"`
	QueueDepth      int     `mapstructure:"queue-depth" validate:"gte=0"`

	// Properties are system properties for expression resolution. They
	// override the properties of boot files.
	Properties map[string]string `mapstructure:"properties" validate:"dive,keys,required,excludes=:,endkeys"`
	// PropertyEnvPrefix selects environment variables that become system
	// properties; empty disables the lookup.
	PropertyEnvPrefix string `mapstructure:"property-env-prefix"`
}

// configValidate checks the struct tags of Config.
var configValidate = validator.New()

// NewConfig validates cfg and returns a copy with defaults applied.
func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.BootPaths) == 0 {
		return nil, fmt.Errorf("BootPaths is a required configuration field and cannot be empty")
	}
	if err := configValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = "none"
	}
	return &cfg, nil
}
