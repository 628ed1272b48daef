package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/client/test/mocks"
	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store/memory"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/sitaurs/pterodactyl-claim/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alert struct {
	level  notifier.Level
	title  string
	fields map[string]string
}

type fakeAlerter struct {
	alerts []alert
}

func (f *fakeAlerter) Notify(ctx context.Context, level notifier.Level, title, message string, fields map[string]string) {
	f.alerts = append(f.alerts, alert{level, title, fields})
}

var testMaintenance = config.MaintenanceConfig{
	ClaimRetentionDays:   30,
	JobRetentionHours:    24,
	PurgeSchedule:        "@every 1h",
	QueueMetricsSchedule: "@every 15m",
}

func TestMaintenanceScheduler_Purge(t *testing.T) {
	ctx := context.Background()
	claims := memory.NewMemoryClaimStore()
	jobs := memory.NewMemoryEnqueuedJobStore()

	failed, err := claims.Create(ctx, types.NewClaimInput{WAJID: "a@s.whatsapp.net", Template: "nodejs"})
	require.NoError(t, err)
	_, err = claims.Update(ctx, failed.ClaimID, func(c *types.ClaimRecord) error { return c.Fail("NO_ALLOC") })
	require.NoError(t, err)
	_, err = claims.Create(ctx, types.NewClaimInput{WAJID: "b@s.whatsapp.net", Template: "nodejs"})
	require.NoError(t, err)

	id, _, err := jobs.Insert(ctx, types.Job{JobKey: "done", Name: constants.CreateClaimJob, ScheduledAt: time.Now()})
	require.NoError(t, err)
	_, err = jobs.LockJob(ctx, id, "w")
	require.NoError(t, err)
	require.NoError(t, jobs.MarkSuccess(ctx, id))

	m := NewMaintenanceScheduler(claims, jobs, &mocks.MockDistributedLockManager{}, &fakeAlerter{}, testMaintenance, 10)
	m.now = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	require.NoError(t, m.Purge(ctx))

	gone, err := claims.FindByID(ctx, failed.ClaimID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	active, err := claims.FindActiveByJID(ctx, "b@s.whatsapp.net")
	require.NoError(t, err)
	assert.NotNil(t, active, "active claims are never purged")

	_, err = jobs.FindByID(ctx, id)
	assert.Error(t, err)
}

func TestMaintenanceScheduler_CheckQueueMetrics(t *testing.T) {
	ctx := context.Background()
	jobs := &mocks.MockEnqueuedJobStore{
		CountAllJobsGroupedByStatusFunc: func(ctx context.Context, name string) (map[state.JobStatus]int, error) {
			if name == constants.DeleteServerJob {
				return map[state.JobStatus]int{state.StatusDead: 11, state.StatusFailed: 2}, nil
			}
			return map[state.JobStatus]int{state.StatusDead: 10}, nil
		},
	}
	alerter := &fakeAlerter{}
	m := NewMaintenanceScheduler(memory.NewMemoryClaimStore(), jobs, &mocks.MockDistributedLockManager{}, alerter, testMaintenance, 10)

	require.NoError(t, m.CheckQueueMetrics(ctx))

	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, notifier.LevelWarning, alerter.alerts[0].level)
	assert.Equal(t, constants.DeleteServerJob, alerter.alerts[0].fields["Queue"])
	assert.Equal(t, "11", alerter.alerts[0].fields["Dead"])
}

func TestMaintenanceScheduler_LockedSkipsWhenHeldElsewhere(t *testing.T) {
	ran := false
	released := false
	lockMgr := &mocks.MockDistributedLockManager{
		TryAcquireFunc: func(lockID int) (bool, error) {
			assert.Equal(t, constants.MaintenanceLock, lockID)
			return false, nil
		},
		ReleaseFunc: func(lockID int) error {
			released = true
			return nil
		},
	}
	m := NewMaintenanceScheduler(memory.NewMemoryClaimStore(), memory.NewMemoryEnqueuedJobStore(), lockMgr, &fakeAlerter{}, testMaintenance, 10)

	m.locked(context.Background(), "test", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ran)
	assert.False(t, released)

	lockMgr.TryAcquireFunc = func(lockID int) (bool, error) { return true, nil }
	m.locked(context.Background(), "test", func(ctx context.Context) error {
		ran = true
		return errors.New("ignored")
	})
	assert.True(t, ran)
	assert.True(t, released)
}

func TestMaintenanceScheduler_StartRejectsBadSchedule(t *testing.T) {
	cfg := testMaintenance
	cfg.PurgeSchedule = "every now and then"
	m := NewMaintenanceScheduler(memory.NewMemoryClaimStore(), memory.NewMemoryEnqueuedJobStore(), &mocks.MockDistributedLockManager{}, &fakeAlerter{}, cfg, 10)

	err := m.Start(context.Background())
	assert.ErrorContains(t, err, "invalid purge schedule")
}

func TestMaintenanceScheduler_StartStopsOnCancel(t *testing.T) {
	m := NewMaintenanceScheduler(memory.NewMemoryClaimStore(), memory.NewMemoryEnqueuedJobStore(), &mocks.MockDistributedLockManager{}, &fakeAlerter{}, testMaintenance, 10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
