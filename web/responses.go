package web

import (
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
	ResetAt *time.Time        `json:"reset_at,omitempty"`
}

func SendError(c *fiber.Ctx, status int, code, message string, details map[string]string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message, Code: code, Details: details})
}

// ErrorHandler turns handler errors into the JSON error body. Claim errors map
// onto their HTTP status; anything unrecognised is logged and hidden behind a 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return SendError(c, fe.Code, codeForStatus(fe.Code), fe.Message, nil)
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return SendError(c, fiber.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid request data", fieldErrors(ve))
	}

	switch {
	case errors.Is(err, custom_errors.ErrValidation):
		return SendError(c, fiber.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, custom_errors.ErrNotAMember):
		return SendError(c, fiber.StatusForbidden, "NOT_A_MEMBER",
			"Your WhatsApp number was not found in the group required to claim a server.", nil)
	case errors.Is(err, custom_errors.ErrDuplicateActiveClaim):
		return SendError(c, fiber.StatusConflict, "DUPLICATE_CLAIM", "You already have an active server claim.", nil)
	case errors.Is(err, custom_errors.ErrMembershipUnavailable):
		return SendError(c, fiber.StatusServiceUnavailable, "MEMBERSHIP_UNAVAILABLE",
			"Group membership could not be verified. Please try again.", nil)
	case errors.Is(err, custom_errors.ErrClaimNotFound):
		return SendError(c, fiber.StatusNotFound, "CLAIM_NOT_FOUND", "Claim not found.", nil)
	case errors.Is(err, custom_errors.ErrInvalidToken):
		return SendError(c, fiber.StatusUnauthorized, "INVALID_CLAIM_TOKEN", "Invalid claim token.", nil)
	}

	slog.Error("unhandled request error",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Any("error", err))
	return SendError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		if status >= 500 {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
