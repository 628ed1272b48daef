package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sitaurs/pterodactyl-claim/client"
	"github.com/sitaurs/pterodactyl-claim/internal/db"
	"github.com/sitaurs/pterodactyl-claim/internal/healthprobe"
	"github.com/sitaurs/pterodactyl-claim/internal/hosting"
	"github.com/sitaurs/pterodactyl-claim/internal/lock"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/message_broaker"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/orchestrator"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/internal/token"
	"github.com/sitaurs/pterodactyl-claim/types/config"
	"github.com/sitaurs/pterodactyl-claim/web"
)

// Container holds all application dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.ClaimConfig

	// Storage connections (created once, shared by all stores)
	DB    *sql.DB
	Redis *redis.Client

	Claims store.ClaimStore
	Jobs   store.EnqueuedJobStore

	LockManager   lock.DistributedLockManager
	MessageBroker message_broaker.MessageBroker
	Notifier      *notifier.Notifier

	Orchestrator *orchestrator.Orchestrator
	JobHandler   *config.JobHandler
	JobsManager  *client.EnqueueJobsManager
	Maintenance  *client.MaintenanceScheduler
	Consumer     *membership.EventConsumer
	Routes       *web.RouteHandler
}

// NewContainer creates and wires all dependencies. Single entry point for DI.
// Pass WithDB, WithRedis or WithBroker to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.ClaimConfig, opts ...ContainerOption) (_ *Container, err error) {
	opt := &containerConfig{}
	for _, o := range opts {
		o(opt)
	}

	c := &Container{Config: cfg, DB: opt.db, Redis: opt.redis, MessageBroker: opt.broker}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if cfg.StorageDriver == config.Postgres && c.DB == nil {
		if c.DB, err = openPostgresDB(cfg.PostgresConfig.ConnectionUrl); err != nil {
			return nil, err
		}
	}
	if cfg.RateLimitDriver == config.RateLimitRedis && c.Redis == nil {
		if c.Redis, err = openRedis(cfg.RedisConfig); err != nil {
			return nil, err
		}
	}

	c.LockManager = createDistributedLockManager(cfg.StorageDriver, c.DB)
	if c.DB != nil {
		if err = db.Init(ctx, c.DB, c.LockManager); err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
	}

	if c.Claims, c.Jobs, err = createStores(cfg, c.DB); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if c.Notifier, err = notifier.NewFromConfig(cfg.Environment, cfg.Notifier); err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	if cfg.UseEventQueue && c.MessageBroker == nil {
		mq := cfg.RabbitMQConfig
		if c.MessageBroker, err = message_broaker.NewRabbitMQ(mq.URL, mq.Exchange, mq.Queue, mq.RoutingKey, mq.ContentType); err != nil {
			return nil, fmt.Errorf("init rabbitmq: %w", err)
		}
	}

	c.JobHandler = config.NewJobHandler()
	c.JobsManager = client.NewEnqueueJobsManager(c.Jobs, c.LockManager, c.JobHandler, cfg.Instance, cfg.StaleLockTimeout())

	bot := membership.NewBotClient(cfg.Bot, cfg.Security.InternalSecret)
	checker := membership.NewRetryingChecker(bot, cfg.Membership.CheckRetries,
		time.Duration(cfg.Membership.CheckDelayMs)*time.Millisecond)
	admins := membership.NewAllowList(cfg.Membership.AdminJIDs)

	deps := orchestrator.Dependencies{
		Store:      c.Claims,
		Membership: checker,
		Hosting:    hosting.NewService(hosting.NewPterodactylClient(cfg.Panel), cfg.Templates, cfg.NodeIDs(), cfg.Panel.EmailDomain),
		Prober:     healthprobe.NewProber(),
		Queue:      client.NewClaimJobQueue(c.JobsManager),
		Messenger:  membership.NewMessenger(bot),
		Notifier:   c.Notifier,
		Privileged: admins.IsPrivileged,
	}

	var signer *token.Signer
	if cfg.Security.TokenSecret != "" {
		if signer, err = token.NewSigner(cfg.Security.TokenSecret, cfg.TokenTTL()); err != nil {
			return nil, err
		}
		deps.Tokens = signer
	}

	c.Orchestrator = orchestrator.New(deps, orchestrator.Options{
		GracePeriod:     cfg.GracePeriod(),
		PanelURL:        cfg.Panel.URL,
		HealthcheckHost: cfg.HealthcheckHost,
		TargetGroupID:   cfg.Membership.TargetGroupID,
	})
	if err = client.RegisterClaimHandlers(c.JobHandler, c.Orchestrator); err != nil {
		return nil, fmt.Errorf("register claim handlers: %w", err)
	}

	c.Maintenance = client.NewMaintenanceScheduler(c.Claims, c.Jobs, c.LockManager, c.Notifier,
		cfg.Maintenance, cfg.Notifier.DeadJobAlertLimit)

	ipLimiter, jidLimiter, err := createLimiters(cfg, c.Redis)
	if err != nil {
		return nil, err
	}
	routeDeps := web.Dependencies{
		Claims:     c.Orchestrator,
		IPLimiter:  ipLimiter,
		JIDLimiter: jidLimiter,
	}
	if signer != nil {
		routeDeps.Tokens = signer
	}
	if c.MessageBroker != nil {
		routeDeps.Publisher = membership.NewEventPublisher(c.MessageBroker, cfg.RabbitMQConfig.Queue)
		c.Consumer = membership.NewEventConsumer(c.MessageBroker, cfg.RabbitMQConfig.Queue, c.Orchestrator)
	}

	c.Routes = web.NewRouteHandler(routeDeps, web.Options{
		Port:               cfg.Server.Port,
		CORSOrigins:        cfg.Server.CORSOrigins,
		TemplateNames:      cfg.TemplateNames(),
		RequireStatusToken: cfg.Security.ClaimStatusRequireToken,
		WebhookSecret:      cfg.Security.InternalSecret,
		WebhookTolerance:   time.Duration(cfg.Security.WebhookToleranceSec) * time.Second,
		ProxyHeader:        cfg.Server.TrustProxyHeader,
	})

	slog.Info("container ready",
		slog.String("instance", cfg.Instance),
		slog.String("storage", cfg.StorageDriver.String()),
		slog.String("rate_limit", cfg.RateLimitDriver.String()),
		slog.Bool("event_queue", c.MessageBroker != nil),
		slog.Any("templates", cfg.TemplateNames()))
	return c, nil
}

// Close releases every connection the container opened. Safe on a partly
// built container.
func (c *Container) Close() {
	var errs []error
	if c.MessageBroker != nil {
		errs = append(errs, c.MessageBroker.Close())
	}
	if c.Jobs != nil {
		errs = append(errs, c.Jobs.Close())
	}
	if c.Claims != nil {
		errs = append(errs, c.Claims.Close())
	}
	if c.Redis != nil {
		errs = append(errs, c.Redis.Close())
	}
	if c.DB != nil {
		// the postgres stores share this handle; a second Close is a no-op
		errs = append(errs, c.DB.Close())
	}
	if c.Notifier != nil {
		c.Notifier.Wait()
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("error while closing container", slog.Any("error", err))
	}
}
