package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type SlackChannel struct {
	URL    string
	Client *http.Client
}

func NewSlackChannel(url string) *SlackChannel {
	return &SlackChannel{URL: url, Client: &http.Client{Timeout: sendTimeout}}
}

func (s *SlackChannel) Name() string { return "slack" }

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Ts     int64        `json:"ts"`
	Footer string       `json:"footer"`
}

func (s *SlackChannel) Send(ctx context.Context, msg Message) error {
	attachment := slackAttachment{
		Color:  "warning",
		Title:  msg.Title,
		Ts:     msg.Timestamp.Unix(),
		Footer: footerText,
	}
	if msg.Color == colorRed {
		attachment.Color = "danger"
	}
	for _, f := range msg.Fields {
		attachment.Fields = append(attachment.Fields, slackField{Title: f.Name, Value: f.Value, Short: f.Inline})
	}

	body, err := json.Marshal(map[string]any{"attachments": []slackAttachment{attachment}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook returned %d", res.StatusCode)
	}
	return nil
}
