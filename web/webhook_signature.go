package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// SignWebhook returns the hex HMAC-SHA256 of timestamp + "." + body.
func SignWebhook(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func isValidSignature(secret, timestamp string, body []byte, signature string) bool {
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	expected, _ := hex.DecodeString(SignWebhook(secret, timestamp, body))
	return hmac.Equal(given, expected)
}

// parseTimestamp accepts RFC 3339 or unix seconds.
func parseTimestamp(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

func (handler *RouteHandler) verifySignature() fiber.Handler {
	return func(c *fiber.Ctx) error {
		signature := c.Get("X-Signature")
		timestamp := c.Get("X-Timestamp")
		if signature == "" || timestamp == "" {
			slog.Warn("webhook without signature",
				slog.Bool("has_signature", signature != ""),
				slog.Bool("has_timestamp", timestamp != ""))
			return SendError(c, fiber.StatusUnauthorized, "MISSING_SIGNATURE", "Missing signature or timestamp headers", nil)
		}

		sent, ok := parseTimestamp(timestamp)
		if !ok || absDuration(handler.now().Sub(sent)) > handler.opts.WebhookTolerance {
			slog.Warn("webhook timestamp outside window", slog.String("timestamp", timestamp))
			return SendError(c, fiber.StatusUnauthorized, "INVALID_TIMESTAMP", "Request timestamp is outside allowed window", nil)
		}

		if !isValidSignature(handler.opts.WebhookSecret, timestamp, c.Body(), signature) {
			slog.Warn("webhook signature mismatch", slog.String("timestamp", timestamp))
			return SendError(c, fiber.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid request signature", nil)
		}
		return c.Next()
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
