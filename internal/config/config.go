package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode   string `mapstructure:"mode"`
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	// AllowedOrigins lists browser origins admitted by CORS. Empty means
	// allow any origin (dev only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// GuestTokenTTL bounds how long a guest invite token stays valid.
	GuestTokenTTL time.Duration `mapstructure:"guest_token_ttl"`

	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	PongTimeout time.Duration `mapstructure:"pong_timeout"`

	// SignalingDelivery selects how offer/answer frames travel: "directed"
	// (to the named target only) or "broadcast" (whole room except sender,
	// acceptable only for small rooms).
	SignalingDelivery string `mapstructure:"signaling_delivery"`

	MaxChatLen     int           `mapstructure:"max_chat_len"`
	ChatRateLimit  int           `mapstructure:"chat_rate_limit"`
	ChatRateWindow time.Duration `mapstructure:"chat_rate_window"`

	DatabaseDSN string `mapstructure:"database_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me-in-production")
	v.SetDefault("guest_token_ttl", "168h")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_timeout", "60s")
	v.SetDefault("signaling_delivery", "directed")
	v.SetDefault("max_chat_len", 2000)
	v.SetDefault("chat_rate_limit", 20)
	v.SetDefault("chat_rate_window", "10s")
	v.SetDefault("database_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_db", 0)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
