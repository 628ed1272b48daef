package web

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/ratelimit"
)

// LoggingMiddleware logs every request with its status and duration.
func LoggingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			// write the error response now so the logged status is the real one
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		logger := slog.With(
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("ip", c.IP()),
		)
		if err != nil {
			logger = logger.With(slog.String("error", err.Error()))
		}
		logger.Log(c.UserContext(), level, "HTTP request processed")
		return nil
	}
}

func (handler *RouteHandler) limitByIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if handler.deps.IPLimiter == nil {
			return c.Next()
		}
		ip := c.IP()
		ok, err := handler.allow(c, handler.deps.IPLimiter, ip, "RATE_LIMIT_IP",
			"Too many requests from this IP, please try again later.")
		if !ok {
			slog.Warn("ip rate limit exceeded", slog.String("ip", ip), slog.String("path", c.Path()))
			return err
		}
		return c.Next()
	}
}

// allow consults limiter for key. When the request is over the limit it writes
// the 429 response and reports false. A limiter error lets the request through.
func (handler *RouteHandler) allow(c *fiber.Ctx, limiter ratelimit.Limiter, key, code, message string) (bool, error) {
	decision, err := limiter.Allow(c.UserContext(), key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", slog.String("code", code), slog.Any("error", err))
		return true, nil
	}
	if decision.Allowed {
		return true, nil
	}
	resetAt := decision.ResetAt.UTC()
	return false, c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
		Error:   message,
		Code:    code,
		ResetAt: &resetAt,
	})
}

// requireClaimToken enforces the status token when configured. The token comes
// from the X-Claim-Token header or the token query parameter.
func (handler *RouteHandler) requireClaimToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !handler.opts.RequireStatusToken {
			return c.Next()
		}
		token := c.Get("X-Claim-Token")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return SendError(c, fiber.StatusUnauthorized, "MISSING_CLAIM_TOKEN", "Missing claim token", nil)
		}
		if handler.deps.Tokens == nil {
			return custom_errors.ErrInvalidToken
		}
		if err := handler.deps.Tokens.Verify(token, c.Params("id")); err != nil {
			slog.Warn("claim token rejected", slog.String("claim_id", c.Params("id")), slog.Any("error", err))
			return err
		}
		return c.Next()
	}
}
