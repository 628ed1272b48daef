package client

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/lock"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/types/config"
)

// Alerter is the part of the notifier the maintenance jobs use.
type Alerter interface {
	Notify(ctx context.Context, level notifier.Level, title, message string, fields map[string]string)
}

// MaintenanceScheduler runs the housekeeping jobs on cron schedules. Each run
// takes MaintenanceLock first so only one instance does the work per tick.
type MaintenanceScheduler struct {
	cron      *cron.Cron
	claims    store.ClaimStore
	jobs      store.EnqueuedJobStore
	lock      lock.DistributedLockManager
	alerter   Alerter
	cfg       config.MaintenanceConfig
	deadLimit int
	now       func() time.Time
}

func NewMaintenanceScheduler(claims store.ClaimStore, jobs store.EnqueuedJobStore, lock lock.DistributedLockManager, alerter Alerter, cfg config.MaintenanceConfig, deadLimit int) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cron:      cron.New(),
		claims:    claims,
		jobs:      jobs,
		lock:      lock,
		alerter:   alerter,
		cfg:       cfg,
		deadLimit: deadLimit,
		now:       time.Now,
	}
}

// Start registers the schedules and runs them until ctx is done.
func (m *MaintenanceScheduler) Start(ctx context.Context) error {
	if _, err := m.cron.AddFunc(m.cfg.PurgeSchedule, func() { m.locked(ctx, "purge", m.Purge) }); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", m.cfg.PurgeSchedule, err)
	}
	if _, err := m.cron.AddFunc(m.cfg.QueueMetricsSchedule, func() { m.locked(ctx, "queue metrics", m.CheckQueueMetrics) }); err != nil {
		return fmt.Errorf("invalid queue metrics schedule %q: %w", m.cfg.QueueMetricsSchedule, err)
	}

	m.cron.Start()
	slog.Info("maintenance scheduler started",
		slog.String("purge_schedule", m.cfg.PurgeSchedule),
		slog.String("queue_metrics_schedule", m.cfg.QueueMetricsSchedule))

	<-ctx.Done()
	<-m.cron.Stop().Done()
	return ctx.Err()
}

func (m *MaintenanceScheduler) locked(ctx context.Context, name string, fn func(ctx context.Context) error) {
	held, err := m.lock.TryAcquire(constants.MaintenanceLock)
	if err != nil {
		slog.Error("maintenance lock error", slog.String("task", name), slog.Any("error", err))
		return
	}
	if !held {
		slog.Debug("maintenance running elsewhere", slog.String("task", name))
		return
	}
	defer func() {
		if err := m.lock.Release(constants.MaintenanceLock); err != nil {
			slog.Error("release maintenance lock", slog.Any("error", err))
		}
	}()

	if err := fn(ctx); err != nil {
		slog.Error("maintenance task failed", slog.String("task", name), slog.Any("error", err))
	}
}

// Purge drops terminal claims past claim retention and finished jobs past job retention.
func (m *MaintenanceScheduler) Purge(ctx context.Context) error {
	now := m.now()

	claimCutoff := now.AddDate(0, 0, -m.cfg.ClaimRetentionDays)
	claims, err := m.claims.PurgeTerminal(ctx, claimCutoff)
	if err != nil {
		return fmt.Errorf("purge claims: %w", err)
	}

	jobCutoff := now.Add(-time.Duration(m.cfg.JobRetentionHours) * time.Hour)
	jobs, err := m.jobs.PurgeFinished(ctx, jobCutoff)
	if err != nil {
		return fmt.Errorf("purge jobs: %w", err)
	}

	slog.Info("maintenance purge done", slog.Int("claims_removed", claims), slog.Int("jobs_removed", jobs))
	return nil
}

// CheckQueueMetrics warns when a queue has collected more dead jobs than the limit.
func (m *MaintenanceScheduler) CheckQueueMetrics(ctx context.Context) error {
	for _, name := range []string{constants.CreateClaimJob, constants.DeleteServerJob} {
		counts, err := m.jobs.CountAllJobsGroupedByStatus(ctx, name)
		if err != nil {
			return fmt.Errorf("count %s jobs: %w", name, err)
		}
		dead := counts[state.StatusDead]
		slog.Info("queue metrics",
			slog.String("queue", name),
			slog.Int("queued", counts[state.StatusQueued]),
			slog.Int("processing", counts[state.StatusProcessing]),
			slog.Int("failed", counts[state.StatusFailed]),
			slog.Int("dead", dead))

		if m.deadLimit > 0 && dead > m.deadLimit {
			m.alerter.Notify(ctx, notifier.LevelWarning, "Queue Metrics Alert",
				fmt.Sprintf("queue %s has %d dead jobs", name, dead),
				map[string]string{
					"Queue":      name,
					"Dead":       strconv.Itoa(dead),
					"Failed":     strconv.Itoa(counts[state.StatusFailed]),
					"Processing": strconv.Itoa(counts[state.StatusProcessing]),
				})
		}
	}
	return nil
}
