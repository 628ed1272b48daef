package notifier

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
)

type DiscordChannel struct {
	client webhook.Client
}

func NewDiscordChannel(webhookURL string) (*DiscordChannel, error) {
	client, err := webhook.NewWithURL(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("discord webhook: %w", err)
	}
	return &DiscordChannel{client: client}, nil
}

func (d *DiscordChannel) Name() string { return "discord" }

func (d *DiscordChannel) Send(ctx context.Context, msg Message) error {
	_, err := d.client.CreateEmbeds([]discord.Embed{toEmbed(msg)}, rest.WithCtx(ctx))
	return err
}

func (d *DiscordChannel) Close(ctx context.Context) {
	d.client.Close(ctx)
}

func toEmbed(msg Message) discord.Embed {
	builder := discord.NewEmbedBuilder().
		SetTitle(msg.Title).
		SetColor(msg.Color).
		SetTimestamp(msg.Timestamp).
		SetFooterText(footerText)
	for _, f := range msg.Fields {
		builder.AddField(f.Name, f.Value, f.Inline)
	}
	return builder.Build()
}
