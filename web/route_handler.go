package web

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/orchestrator"
	"github.com/sitaurs/pterodactyl-claim/internal/ratelimit"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
)

// ClaimService is implemented by orchestrator.Orchestrator.
type ClaimService interface {
	Submit(ctx context.Context, req orchestrator.ClaimRequest) (*orchestrator.SubmitResult, error)
	GetStatus(ctx context.Context, claimID string) (*orchestrator.StatusView, error)
	OnMembershipEvent(ctx context.Context, e membership.Event) error
	Stats(ctx context.Context) (map[state.ClaimStatus]int, error)
}

type TokenVerifier interface {
	Verify(raw, claimID string) error
}

// EventPublisher hands webhook events to the broker instead of applying them inline.
type EventPublisher interface {
	Publish(ctx context.Context, e membership.Event) error
}

type Dependencies struct {
	Claims     ClaimService
	Tokens     TokenVerifier  // required when RequireStatusToken is set
	Publisher  EventPublisher // optional
	IPLimiter  ratelimit.Limiter
	JIDLimiter ratelimit.Limiter
}

type Options struct {
	Port               int
	CORSOrigins        []string
	TemplateNames      []string
	RequireStatusToken bool
	WebhookSecret      string
	WebhookTolerance   time.Duration
	// ProxyHeader names the header carrying the client IP behind a reverse proxy.
	ProxyHeader string
}

type RouteHandler struct {
	app      *fiber.App
	deps     Dependencies
	opts     Options
	validate *claimValidator
	now      func() time.Time
}

func NewRouteHandler(deps Dependencies, opts Options) *RouteHandler {
	handler := &RouteHandler{
		deps:     deps,
		opts:     opts,
		validate: newClaimValidator(opts.TemplateNames),
		now:      time.Now,
	}
	handler.app = fiber.New(fiber.Config{
		AppName:               "pterodactyl-claim",
		ErrorHandler:          ErrorHandler,
		ProxyHeader:           opts.ProxyHeader,
		DisableStartupMessage: true,
	})

	origins := "*"
	if len(opts.CORSOrigins) > 0 {
		origins = strings.Join(opts.CORSOrigins, ",")
	}
	handler.app.Use(LoggingMiddleware())
	handler.app.Use(recover.New())
	handler.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Claim-Token,X-Signature,X-Timestamp",
	}))

	api := handler.app.Group("/api")
	api.Post("/claim", handler.limitByIP(), handler.handleSubmitClaim)
	api.Get("/claim/:id/status", handler.requireClaimToken(), handler.handleClaimStatus)
	api.Post("/whatsapp-webhook", handler.verifySignature(), handler.handleWebhook)
	api.Get("/health", handler.handleHealth)

	return handler
}

// App exposes the fiber app, mostly for app.Test in tests.
func (handler *RouteHandler) App() *fiber.App {
	return handler.app
}

func (handler *RouteHandler) Listen() error {
	addr := fmt.Sprintf(":%d", handler.opts.Port)
	slog.Info("http server listening", slog.String("address", addr))
	return handler.app.Listen(addr)
}

func (handler *RouteHandler) Shutdown(ctx context.Context) error {
	return handler.app.ShutdownWithContext(ctx)
}
