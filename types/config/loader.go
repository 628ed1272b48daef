package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// env keys that override secrets from the TOML file
const (
	EnvInstance          = "INSTANCE_NAME"
	EnvPanelAPIKey       = "PT_APP_API_KEY"
	EnvPanelURL          = "PT_PANEL_URL"
	EnvInternalSecret    = "INTERNAL_SECRET"
	EnvTokenSecret       = "TOKEN_SECRET"
	EnvDiscordWebhookURL = "DISCORD_WEBHOOK_URL"
	EnvSlackWebhookURL   = "SLACK_WEBHOOK_URL"
	EnvPostgresURL       = "POSTGRES_URL"
	EnvRedisURL          = "REDIS_URL"
	EnvRabbitMQURL       = "RABBITMQ_URL"
	EnvBotURL            = "BOT_URL"
)

// LoadConfig reads the TOML file at path over the defaults, applies .env and
// process environment overrides, then validates the result.
func LoadConfig(path string) (*ClaimConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	hostname, _ := os.Hostname()
	cfg, err := NewClaimConfig(hostname)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	if err = toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.normalize()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClaimConfig) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Instance, EnvInstance)
	set(&c.Panel.APIKey, EnvPanelAPIKey)
	set(&c.Panel.URL, EnvPanelURL)
	set(&c.Bot.URL, EnvBotURL)
	set(&c.Security.InternalSecret, EnvInternalSecret)
	set(&c.Security.TokenSecret, EnvTokenSecret)
	set(&c.Notifier.DiscordWebhookURL, EnvDiscordWebhookURL)
	set(&c.Notifier.SlackWebhookURL, EnvSlackWebhookURL)
	set(&c.PostgresConfig.ConnectionUrl, EnvPostgresURL)
	set(&c.RedisConfig.Address, EnvRedisURL)
	if c.RabbitMQConfig == nil {
		c.RabbitMQConfig = &RabbitMQConfig{}
	}
	set(&c.RabbitMQConfig.URL, EnvRabbitMQURL)
}

func (c *ClaimConfig) normalize() {
	c.Panel.URL = strings.TrimRight(c.Panel.URL, "/")
	c.Bot.URL = strings.TrimRight(c.Bot.URL, "/")
	if c.UseEventQueue {
		c.MQDriver = RabbitMQ
	}
	if c.RabbitMQConfig.Queue == "" {
		c.RabbitMQConfig.Queue = DefaultRabbitMQQueue
	}
	if c.RabbitMQConfig.ContentType == "" {
		c.RabbitMQConfig.ContentType = DefaultRabbitMQContentType
	}
	for name, tpl := range c.Templates {
		tpl.Name = name
		tpl.Healthcheck = tpl.Healthcheck.WithDefaults()
		c.Templates[name] = tpl
	}
}

// NewLogger builds the process logger described by the [log] section.
func (l LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: l.AddSource}

	var handler slog.Handler
	switch strings.ToLower(l.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
