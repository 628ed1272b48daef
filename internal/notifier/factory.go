package notifier

import (
	"log/slog"

	"github.com/sitaurs/pterodactyl-claim/types/config"
)

// NewFromConfig prefers Discord, falls back to Slack, and logs only when neither is set.
func NewFromConfig(env string, cfg config.NotifierConfig) (*Notifier, error) {
	switch {
	case cfg.DiscordWebhookURL != "":
		ch, err := NewDiscordChannel(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, err
		}
		return New(env, ch), nil
	case cfg.SlackWebhookURL != "":
		return New(env, NewSlackChannel(cfg.SlackWebhookURL)), nil
	default:
		slog.Warn("no discord or slack webhook configured, alerts are log-only")
		return New(env, nil), nil
	}
}
