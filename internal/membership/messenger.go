package membership

import (
	"context"
	"fmt"
	"time"
)

type Sender interface {
	SendMessage(ctx context.Context, jid, message string) error
}

type Credentials struct {
	ServerName string
	PanelURL   string
	Username   string
	Password   string
	Host       string
	Port       int
}

// Messenger renders the user-facing WhatsApp messages.
type Messenger struct {
	sender Sender
}

func NewMessenger(sender Sender) *Messenger {
	return &Messenger{sender: sender}
}

func (m *Messenger) SendCredentials(ctx context.Context, jid string, c Credentials) error {
	msg := fmt.Sprintf(`*Your server is ready!*

Server: %s
Panel: %s
Username: %s
Password: %s
Address: %s:%d

*IMPORTANT:* log in and change your password right away.
Do not share these credentials with anyone.`,
		c.ServerName, c.PanelURL, c.Username, c.Password, c.Host, c.Port)
	return m.sender.SendMessage(ctx, jid, msg)
}

func (m *Messenger) SendDeletionWarning(ctx context.Context, jid string, grace time.Duration, scheduledAt time.Time) error {
	msg := fmt.Sprintf(`*Server deletion warning*

You left the group. Your server will be deleted in %d hours unless you rejoin.

Scheduled deletion: %s

Rejoin the group to cancel the deletion.
Back up any important data from the server.`,
		int(grace.Hours()), scheduledAt.UTC().Format("2006-01-02 15:04 MST"))
	return m.sender.SendMessage(ctx, jid, msg)
}

func (m *Messenger) SendDeletionCancelled(ctx context.Context, jid string) error {
	msg := `*Server deletion cancelled*

Welcome back! The scheduled deletion was cancelled because you rejoined the group.

Your server is active again.`
	return m.sender.SendMessage(ctx, jid, msg)
}
