package membership

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/types/config"
)

const secretHeader = "X-Internal-Secret"

type MemberStatus struct {
	IsMember bool   `json:"isMember"`
	GroupID  string `json:"groupId"`
}

// BotClient talks to the WhatsApp bot's internal RPC endpoints.
type BotClient struct {
	BaseURL string
	Secret  string
	Client  *http.Client
}

func NewBotClient(bot config.BotConfig, internalSecret string) *BotClient {
	timeout := time.Duration(bot.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(config.DefaultBotTimeoutSec) * time.Second
	}
	return &BotClient{
		BaseURL: bot.URL,
		Secret:  internalSecret,
		Client:  &http.Client{Timeout: timeout},
	}
}

// CheckMember asks the bot whether jid is in the target group. Every failure
// (transport, 404, 5xx, bad body) is reported as ErrBotTimeout.
func (c *BotClient) CheckMember(ctx context.Context, jid string) (MemberStatus, error) {
	var out MemberStatus
	if err := c.post(ctx, "/check-member", map[string]string{"wa_jid": jid}, &out); err != nil {
		slog.Error("bot member check failed", slog.String("wa_jid", MaskJID(jid)), slog.Any("error", err))
		return MemberStatus{}, err
	}
	slog.Info("member check completed",
		slog.String("wa_jid", MaskJID(jid)),
		slog.Bool("is_member", out.IsMember),
		slog.String("group_id", out.GroupID))
	return out, nil
}

func (c *BotClient) SendMessage(ctx context.Context, jid, message string) error {
	err := c.post(ctx, "/send-message", map[string]string{"wa_jid": jid, "message": message}, nil)
	if err != nil {
		return err
	}
	slog.Debug("message sent", slog.String("wa_jid", MaskJID(jid)))
	return nil
}

func (c *BotClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, c.Secret)

	res, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", custom_errors.ErrBotTimeout, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("%w: %s returned %d: %s", custom_errors.ErrBotTimeout, path, res.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", custom_errors.ErrBotTimeout, path, err)
	}
	return nil
}
