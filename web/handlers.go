package web

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/orchestrator"
)

// handleSubmitClaim answers 202 with the claim id and token; the server itself
// is created by the queue worker.
func (handler *RouteHandler) handleSubmitClaim(c *fiber.Ctx) error {
	var body claimRequestBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if handler.deps.JIDLimiter != nil && body.WANumberE164 != "" {
		if jid := membership.NormalizeJID(body.WANumberE164); jid != "" {
			ok, err := handler.allow(c, handler.deps.JIDLimiter, jid, "RATE_LIMIT_JID",
				"Too many requests for this WhatsApp number, please try again later.")
			if !ok {
				slog.Warn("jid rate limit exceeded", slog.String("wa_jid", membership.MaskJID(jid)))
				return err
			}
		}
	}

	if err := handler.validate.Struct(body); err != nil {
		return err
	}

	// the password is only checked for shape: the panel account gets a generated one
	result, err := handler.deps.Claims.Submit(c.UserContext(), orchestrator.ClaimRequest{
		WANumber: body.WANumberE164,
		Username: body.Username,
		Template: body.Template,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(result)
}

func (handler *RouteHandler) handleClaimStatus(c *fiber.Ctx) error {
	claimID := c.Params("id")
	if _, err := uuid.Parse(claimID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid claim ID format")
	}

	view, err := handler.deps.Claims.GetStatus(c.UserContext(), claimID)
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (handler *RouteHandler) handleWebhook(c *fiber.Ctx) error {
	event, err := membership.DecodeEvent(c.Body())
	if err != nil {
		slog.Warn("invalid webhook payload", slog.Any("error", err))
		return fiber.NewError(fiber.StatusBadRequest, "Invalid webhook payload")
	}

	ctx := c.UserContext()
	if handler.deps.Publisher != nil {
		if err := handler.deps.Publisher.Publish(ctx, event); err != nil {
			slog.Error("could not queue membership event", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "Event queue unavailable")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}

	if err := handler.deps.Claims.OnMembershipEvent(ctx, event); err != nil {
		if errors.Is(err, custom_errors.ErrValidation) {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid webhook payload")
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (handler *RouteHandler) handleHealth(c *fiber.Ctx) error {
	stats, err := handler.deps.Claims.Stats(c.UserContext())
	if err != nil {
		slog.Error("health check failed", slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": handler.now().UTC().Format(time.RFC3339),
		"stats":     stats,
	})
}
