package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvProduction = "production"

// Config mirrors config/config.yaml; every key can be overridden from the
// environment (server.port -> SERVER_PORT).
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Contests  ContestsConfig  `mapstructure:"contests"`
	R2        R2Config        `mapstructure:"r2"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LogLevel  string          `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	Env            string `mapstructure:"env"` // development | production
	AllowedOrigins string `mapstructure:"allowed_origins"`
	GatewayToken   string `mapstructure:"gateway_token"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SchedulerConfig struct {
	FinalizeInterval time.Duration `mapstructure:"finalize_interval"`
}

type LimitsConfig struct {
	VotesPerMinute  int `mapstructure:"votes_per_minute"`
	ContestsPerHour int `mapstructure:"contests_per_hour"`
}

type ContestsConfig struct {
	DefaultDurationHours int  `mapstructure:"default_duration_hours"`
	AllowVoteChange      bool `mapstructure:"allow_vote_change"`
}

// R2Config points at the bucket holding design previews.
type R2Config struct {
	AccountID       string        `mapstructure:"account_id"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	AccessKeySecret string        `mapstructure:"access_key_secret"`
	Bucket          string        `mapstructure:"bucket"`
	CDNBaseURL      string        `mapstructure:"cdn_base_url"`
	PresignTTL      time.Duration `mapstructure:"presign_ttl"`
}

type SyncConfig struct {
	ItemsURL     string        `mapstructure:"items_url"`
	ItemsPath    string        `mapstructure:"items_path"`
	ServiceToken string        `mapstructure:"service_token"`
	Interval     time.Duration `mapstructure:"interval"`
}

type AuthConfig struct {
	ServiceURL   string `mapstructure:"service_url"`
	ServiceToken string `mapstructure:"service_token"`
}

// IsProduction reports whether internal error detail must be hidden.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, EnvProduction)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5200)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.allowed_origins", "http://localhost:3000")
	v.SetDefault("server.gateway_token", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.url", "")
	v.SetDefault("scheduler.finalize_interval", time.Minute)
	v.SetDefault("limits.votes_per_minute", 20)
	v.SetDefault("limits.contests_per_hour", 5)
	v.SetDefault("contests.default_duration_hours", 24)
	v.SetDefault("contests.allow_vote_change", true)
	v.SetDefault("r2.account_id", "")
	v.SetDefault("r2.access_key_id", "")
	v.SetDefault("r2.access_key_secret", "")
	v.SetDefault("r2.bucket", "")
	v.SetDefault("r2.cdn_base_url", "")
	v.SetDefault("r2.presign_ttl", 15*time.Minute)
	v.SetDefault("sync.items_url", "")
	v.SetDefault("sync.items_path", "/api/v1/public/designs")
	v.SetDefault("sync.service_token", "")
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("auth.service_url", "")
	v.SetDefault("auth.service_token", "")
	v.SetDefault("log_level", "info")
}

// Load reads .env (if present), then config/config.yaml (if present), then the
// environment. The environment always wins.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New(), "./config")
}

func load(v *viper.Viper, configDir string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.gateway_token", "SERVER_GATEWAY_TOKEN", "GATEWAY_SERVICE_TOKEN")
	_ = v.BindEnv("server.env", "SERVER_ENV", "APP_ENV")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Limits.VotesPerMinute <= 0 || c.Limits.ContestsPerHour <= 0 {
		return fmt.Errorf("limits must be positive (votes_per_minute=%d, contests_per_hour=%d)",
			c.Limits.VotesPerMinute, c.Limits.ContestsPerHour)
	}
	if c.Contests.DefaultDurationHours <= 0 {
		return fmt.Errorf("contests.default_duration_hours must be positive, got %d", c.Contests.DefaultDurationHours)
	}
	if c.Scheduler.FinalizeInterval <= 0 {
		return fmt.Errorf("scheduler.finalize_interval must be positive")
	}
	if c.IsProduction() && c.Server.GatewayToken == "" {
		return fmt.Errorf("server.gateway_token is required in production")
	}
	return nil
}
