package membership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
)

type MemberChecker interface {
	CheckMember(ctx context.Context, jid string) (MemberStatus, error)
}

// RetryingChecker retries a failed membership lookup with a linear backoff
// and reports exhaustion as ErrMembershipUnavailable.
type RetryingChecker struct {
	next    MemberChecker
	retries int
	delay   time.Duration
}

func NewRetryingChecker(next MemberChecker, retries int, delay time.Duration) *RetryingChecker {
	if retries < 1 {
		retries = 1
	}
	return &RetryingChecker{next: next, retries: retries, delay: delay}
}

func (c *RetryingChecker) CheckMember(ctx context.Context, jid string) (MemberStatus, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		status, err := c.next.CheckMember(ctx, jid)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if attempt == c.retries {
			break
		}
		slog.Warn("membership check failed, retrying",
			slog.String("wa_jid", MaskJID(jid)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return MemberStatus{}, fmt.Errorf("%w: %w", custom_errors.ErrMembershipUnavailable, ctx.Err())
		case <-time.After(c.delay * time.Duration(attempt)):
		}
	}
	return MemberStatus{}, fmt.Errorf("%w: %w", custom_errors.ErrMembershipUnavailable, lastErr)
}
