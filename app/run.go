package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sitaurs/pterodactyl-claim/client"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Run starts the job workers, the maintenance cron, the membership event
// consumer and the HTTP server, and blocks until ctx is cancelled or one of
// them fails. In-flight jobs finish before Run returns.
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		interval := time.Duration(c.Config.Queue.EnqueueInterval) * time.Second
		return ignoreCancel(c.JobsManager.Start(ctx, interval, c.Config.Queue.BatchSize, client.Queues(c.Config.Queue)...))
	})
	g.Go(func() error {
		return ignoreCancel(c.Maintenance.Start(ctx))
	})
	if c.Consumer != nil {
		g.Go(func() error {
			return c.Consumer.Run(ctx)
		})
	}
	g.Go(func() error {
		return c.Routes.Listen()
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return c.Routes.Shutdown(shutdownCtx)
	})

	c.Notifier.NotifyStartup(ctx, c.Config.Instance, c.Config.Server.Port)
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
