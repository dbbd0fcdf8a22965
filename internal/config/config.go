// Package config loads the server's recognized options via viper: a
// config.yaml file overlaid by CHAT_-prefixed environment variables,
// plus the one variable read outside viper's normal prefix scheme,
// JWT_SIGNING_KEY.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	EventsTopic   string   `mapstructure:"events_topic"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type HubConfig struct {
	MaxInflightMessages int           `mapstructure:"max_inflight_messages"`
	MaxInflightResults  int           `mapstructure:"max_inflight_results"`
	WorkerTimeout       time.Duration `mapstructure:"worker_timeout"`
	MailboxCapacity     int           `mapstructure:"mailbox_capacity"`
	MessageRateLimit    float64       `mapstructure:"message_rate_limit"`
	MessageRateBurst    int           `mapstructure:"message_rate_burst"`
}

type OutboxConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type AuthConfig struct {
	Backend    string        `mapstructure:"backend"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type CaptchaConfig struct {
	Backend string `mapstructure:"backend"`
}

type UserConfig struct {
	Backend string `mapstructure:"backend"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Hub      HubConfig      `mapstructure:"hub"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	User     UserConfig     `mapstructure:"user"`
	LogLevel string         `mapstructure:"log_filter"`

	// JWTSigningKey is read from the environment, not viper's CHAT_
	// namespace, matching the auth-service convention this module
	// inherits. The same key signs (TokenIssuer) and verifies
	// (JWTVerifier) access tokens.
	JWTSigningKey string

	usedDevSigningKey bool
}

const devSigningKeyDefault = "dev-insecure-signing-key-do-not-use-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("kafka.events_topic", "chat.events")
	v.SetDefault("kafka.consumer_group", "chat-fanout")
	v.SetDefault("auth.backend", "real")
	v.SetDefault("auth.access_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_ttl", 720*time.Hour)
	v.SetDefault("captcha.backend", "fake")
	v.SetDefault("user.backend", "real")
	v.SetDefault("hub.max_inflight_messages", 64)
	v.SetDefault("hub.max_inflight_results", 1024)
	v.SetDefault("hub.worker_timeout", time.Second)
	v.SetDefault("hub.mailbox_capacity", 256)
	v.SetDefault("hub.message_rate_limit", 50)
	v.SetDefault("hub.message_rate_burst", 100)
	v.SetDefault("outbox.batch_size", 256)
	v.SetDefault("outbox.poll_interval", 200*time.Millisecond)
	v.SetDefault("outbox.retry_backoff", 2*time.Second)
	v.SetDefault("log_filter", "info")
}

// Load reads config.yaml from configPath (if present) overlaid by
// CHAT_-prefixed environment variables. A missing file is not an
// error; the defaults plus the environment are a complete config.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.JWTSigningKey = os.Getenv("JWT_SIGNING_KEY")
	cfg.usedDevSigningKey = cfg.JWTSigningKey == ""
	if cfg.usedDevSigningKey {
		cfg.JWTSigningKey = devSigningKeyDefault
	}

	return cfg, nil
}

// UsedDevSigningKey reports whether JWT_SIGNING_KEY was absent and the
// development default was substituted; callers log a warning when true.
func (c Config) UsedDevSigningKey() bool { return c.usedDevSigningKey }
