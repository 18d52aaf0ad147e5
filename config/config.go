// Package config loads server configuration from an optional YAML file and
// the environment, with env vars taking precedence. A local .env file is
// loaded first for development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Addr        string `mapstructure:"addr"`
	DatabaseURL string `mapstructure:"database_url"`
	Env         string `mapstructure:"env"`

	// AdminSecret authorizes the rollup endpoint and the scheduled job.
	// Empty disables both; the endpoint then answers not_configured.
	AdminSecret string `mapstructure:"admin_secret"`

	// AdminPassword and SessionSecret gate the browser admin surface.
	// Empty AdminPassword leaves the admin routes unregistered.
	AdminPassword string `mapstructure:"admin_password"`
	SessionSecret string `mapstructure:"session_secret"`
	CookieSecure  bool   `mapstructure:"cookie_secure"`

	RetentionDays    int `mapstructure:"retention_days"`
	RollupBufferDays int `mapstructure:"rollup_buffer_days"`
	CollectRateLimit int `mapstructure:"collect_rate_limit"`

	// RollupSchedule is a cron expression for the in-process rollup job,
	// e.g. "30 2 * * *". Empty disables the scheduler.
	RollupSchedule string `mapstructure:"rollup_schedule"`
}

// Load reads config/config.yaml when present and overlays environment
// variables on top.
func Load() (*Config, error) {
	// Local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("addr", ":8090")
	v.SetDefault("database_url", "data/analytics.db")
	v.SetDefault("env", "production")
	v.SetDefault("retention_days", 90)
	v.SetDefault("rollup_buffer_days", 1)
	v.SetDefault("collect_rate_limit", 60)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Unmarshal only sees env vars that were bound explicitly.
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("addr", "ADDR")
	v.BindEnv("database_url", "DATABASE_URL")
	v.BindEnv("env", "APP_ENV")
	v.BindEnv("admin_secret", "ADMIN_SECRET")
	v.BindEnv("admin_password", "ADMIN_PASSWORD")
	v.BindEnv("session_secret", "SESSION_SECRET")
	v.BindEnv("cookie_secure", "COOKIE_SECURE")
	v.BindEnv("retention_days", "RETENTION_DAYS")
	v.BindEnv("rollup_buffer_days", "ROLLUP_BUFFER_DAYS")
	v.BindEnv("collect_rate_limit", "COLLECT_RATE_LIMIT")
	v.BindEnv("rollup_schedule", "ROLLUP_SCHEDULE")
}
