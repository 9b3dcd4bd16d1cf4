// Package config loads service settings from defaults, an optional
// config.yaml and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	Port            string        `mapstructure:"port" validate:"required,numeric"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// Storage and events
	DatabaseURL  string `mapstructure:"database_url"`
	RedisURL     string `mapstructure:"redis_url"`
	RedisChannel string `mapstructure:"redis_channel"`
	SeedTasks    string `mapstructure:"seed_tasks"`

	// Routing provider (OSRM)
	RoutingURL         string        `mapstructure:"routing_url" validate:"omitempty,url"`
	RoutingProfile     string        `mapstructure:"routing_profile" validate:"required"`
	RoutingRatePerSec  float64       `mapstructure:"routing_rate_per_sec" validate:"gte=0"`
	RoutingBurst       int           `mapstructure:"routing_burst" validate:"gte=0"`
	RoutingMaxAttempts int           `mapstructure:"routing_max_attempts" validate:"gte=1,lte=10"`
	MatrixTimeout      time.Duration `mapstructure:"matrix_timeout" validate:"gt=0"`

	// Solver
	SolverURL     string        `mapstructure:"solver_url" validate:"omitempty,url"`
	SolverTimeout time.Duration `mapstructure:"solver_timeout" validate:"gt=0"`

	AverageSpeedKmph float64 `mapstructure:"average_speed_kmph" validate:"gte=10,lte=150"`

	// Webhooks
	WebhookURL         string `mapstructure:"webhook_url" validate:"omitempty,url"`
	WebhookSecret      string `mapstructure:"webhook_secret"`
	WebhookMaxAttempts int    `mapstructure:"webhook_max_attempts" validate:"gte=1"`

	// Tracing
	OTLPEndpoint string `mapstructure:"otel_exporter_otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otel_exporter_otlp_insecure"`
}

var defaults = map[string]any{
	"port":                        "8080",
	"shutdown_timeout":            10 * time.Second,
	"log_level":                   "info",
	"database_url":                "",
	"redis_url":                   "",
	"redis_channel":               "route-plans",
	"seed_tasks":                  "",
	"routing_url":                 "",
	"routing_profile":             "driving",
	"routing_rate_per_sec":        10.0,
	"routing_burst":               5,
	"routing_max_attempts":        3,
	"matrix_timeout":              10 * time.Second,
	"solver_url":                  "",
	"solver_timeout":              30 * time.Second,
	"average_speed_kmph":          40.0,
	"webhook_url":                 "",
	"webhook_secret":              "",
	"webhook_max_attempts":        5,
	"otel_exporter_otlp_endpoint": "",
	"otel_exporter_otlp_insecure": false,
}

// Load reads config.yaml from the working directory or ./config when
// present; environment variables named after the keys in upper case win.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return load(v)
}

// LoadFile reads settings from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Addr() string { return ":" + c.Port }
