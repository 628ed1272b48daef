package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	colorRed        = 0xff0000
	colorOrange     = 0xff9900
	colorDarkOrange = 0xff6600
	colorYellow     = 0xffff00
	colorGreen      = 0x00ff00
	colorGray       = 0x999999

	footerText  = "Claim Alert System"
	sendTimeout = 10 * time.Second
)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is the channel-neutral alert payload.
type Message struct {
	Title     string
	Color     int
	Fields    []Field
	Timestamp time.Time
}

type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// FailureAlert describes a claim that ended up failed, or a deletion that errored.
type FailureAlert struct {
	ClaimID      string
	WAJID        string
	Template     string
	NodeID       int64
	AllocationID int64
	Code         custom_errors.FailureCode
	Reason       string
}

// Notifier delivers alerts in the background. Delivery errors are logged and
// never reach the caller.
type Notifier struct {
	env     string
	channel Channel
	now     func() time.Time
	wg      sync.WaitGroup
}

// New builds a notifier; a nil channel means alerts are only logged.
func New(env string, channel Channel) *Notifier {
	return &Notifier{env: env, channel: channel, now: time.Now}
}

func (n *Notifier) Notify(ctx context.Context, level Level, title, message string, fields map[string]string) {
	now := n.now().UTC()
	msg := Message{
		Title:     fmt.Sprintf("[%s] %s", n.env, title),
		Color:     levelColor(level),
		Timestamp: now,
		Fields: []Field{
			{Name: "Message", Value: message},
			{Name: "Environment", Value: n.env, Inline: true},
			{Name: "Timestamp", Value: now.Format(time.RFC3339), Inline: true},
		},
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg.Fields = append(msg.Fields, Field{Name: k, Value: fields[k], Inline: true})
	}
	n.dispatch(ctx, msg)
}

func (n *Notifier) NotifyFailure(ctx context.Context, alert FailureAlert) {
	now := n.now().UTC()
	msg := Message{
		Title:     fmt.Sprintf("[%s] Claim Failed (%s)", n.env, alert.Code),
		Color:     failureColor(alert.Code),
		Timestamp: now,
		Fields: []Field{
			{Name: "Claim ID", Value: alert.ClaimID, Inline: true},
			{Name: "WA JID", Value: membership.MaskJID(alert.WAJID), Inline: true},
			{Name: "Error Code", Value: alert.Code.String(), Inline: true},
			{Name: "Error Reason", Value: alert.Reason},
			{Name: "Timestamp", Value: now.Format(time.RFC3339), Inline: true},
		},
	}
	if alert.Template != "" {
		msg.Fields = append(msg.Fields, Field{Name: "Template", Value: alert.Template, Inline: true})
	}
	if alert.NodeID != 0 {
		msg.Fields = append(msg.Fields, Field{Name: "Node ID", Value: strconv.FormatInt(alert.NodeID, 10), Inline: true})
	}
	if alert.AllocationID != 0 {
		msg.Fields = append(msg.Fields, Field{Name: "Allocation ID", Value: strconv.FormatInt(alert.AllocationID, 10), Inline: true})
	}
	n.dispatch(ctx, msg)
}

func (n *Notifier) NotifyStartup(ctx context.Context, instance string, port int) {
	n.Notify(ctx, LevelInfo, "Service Started", "claim service has started", map[string]string{
		"Instance": instance,
		"Port":     strconv.Itoa(port),
	})
}

// Wait blocks until every in-flight alert has been delivered or dropped.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) dispatch(ctx context.Context, msg Message) {
	if n.channel == nil {
		slog.Warn("no alert channel configured", slog.String("title", msg.Title))
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := n.channel.Send(sendCtx, msg); err != nil {
			slog.Error("failed to send alert",
				slog.String("channel", n.channel.Name()),
				slog.String("title", msg.Title),
				slog.Any("error", err))
			return
		}
		slog.Info("alert sent", slog.String("channel", n.channel.Name()), slog.String("title", msg.Title))
	}()
}

func levelColor(level Level) int {
	switch level {
	case LevelError:
		return colorRed
	case LevelWarning:
		return colorOrange
	default:
		return colorGreen
	}
}

func failureColor(code custom_errors.FailureCode) int {
	switch code {
	case custom_errors.FailureNoAlloc:
		return colorOrange
	case custom_errors.FailureAPIDown, custom_errors.FailureBotTimeout:
		return colorRed
	case custom_errors.FailureEggInvalid:
		return colorYellow
	case custom_errors.FailureHealthcheckTimeout:
		return colorDarkOrange
	default:
		return colorGray
	}
}
