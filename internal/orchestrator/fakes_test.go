package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sitaurs/pterodactyl-claim/client"
	"github.com/sitaurs/pterodactyl-claim/client/test/mocks"
	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/internal/healthprobe"
	"github.com/sitaurs/pterodactyl-claim/internal/hosting"
	"github.com/sitaurs/pterodactyl-claim/internal/membership"
	"github.com/sitaurs/pterodactyl-claim/internal/notifier"
	"github.com/sitaurs/pterodactyl-claim/internal/state"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/internal/store/memory"
	"github.com/sitaurs/pterodactyl-claim/internal/token"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/sitaurs/pterodactyl-claim/types/config"
	"github.com/stretchr/testify/require"
)

const (
	testNumber = "+6281234567890"
	testJID    = "6281234567890@s.whatsapp.net"
	testGroup  = "120363000000000000@g.us"
)

type fakeMembership struct {
	member bool
	err    error
	calls  atomic.Int32
}

func (f *fakeMembership) CheckMember(ctx context.Context, jid string) (membership.MemberStatus, error) {
	f.calls.Add(1)
	if f.err != nil {
		return membership.MemberStatus{}, f.err
	}
	return membership.MemberStatus{IsMember: f.member, GroupID: testGroup}, nil
}

type fakeHosting struct {
	mu          sync.Mutex
	templates   map[string]types.Template
	allocateErr error
	allocations int
	statuses    []hosting.ServerStatus
	statusCalls int
	statusHook  func()
	rotated     []int64
	deleteErr   error
	accountErr  error
	servers     []int64
	accounts    []int64
}

func newFakeHosting() *fakeHosting {
	return &fakeHosting{
		templates: map[string]types.Template{
			"nodejs": {Name: "nodejs", EggID: 15, Healthcheck: types.HealthcheckConfig{TimeoutSec: 5, Retries: 3, RetryDelaySec: 2}},
		},
		statuses: []hosting.ServerStatus{{Status: "installing", Installing: true}, {Status: "offline"}},
	}
}

func (f *fakeHosting) Template(name string) (types.Template, bool) {
	tpl, ok := f.templates[name]
	return tpl, ok
}

func (f *fakeHosting) AllocateWithFallback(ctx context.Context, req hosting.AllocationRequest) (*hosting.AllocationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocateErr != nil {
		return nil, f.allocateErr
	}
	f.allocations++
	return &hosting.AllocationResult{
		Account:    hosting.Account{ID: 7, Username: req.Username},
		Server:     hosting.Server{ID: 100 + int64(f.allocations), Name: req.ServerName},
		Allocation: hosting.Allocation{ID: 55, IP: "10.0.0.3", Alias: "node3.example.com", Port: 25565},
		Password:   "generated-password",
		NodeID:     3,
	}, nil
}

func (f *fakeHosting) RotatePassword(ctx context.Context, userID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotated = append(f.rotated, userID)
	return "rotated-password", nil
}

func (f *fakeHosting) GetServerStatus(ctx context.Context, serverID int64) (hosting.ServerStatus, error) {
	f.mu.Lock()
	i := f.statusCalls
	f.statusCalls++
	hook := f.statusHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeHosting) DeleteServer(ctx context.Context, serverID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.servers = append(f.servers, serverID)
	return nil
}

func (f *fakeHosting) DeleteAccountIfEmpty(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountErr != nil {
		return f.accountErr
	}
	f.accounts = append(f.accounts, userID)
	return nil
}

type fakeProber struct {
	result healthprobe.Result
	hosts  []string
}

func (f *fakeProber) CheckTCP(ctx context.Context, host string, port, timeoutSec, retries, retryDelaySec int) healthprobe.Result {
	f.hosts = append(f.hosts, host)
	return f.result
}

type fakeMessenger struct {
	mu          sync.Mutex
	credentials []membership.Credentials
	warnings    []time.Time
	cancelled   int
	err         error
}

func (f *fakeMessenger) SendCredentials(ctx context.Context, jid string, c membership.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credentials = append(f.credentials, c)
	return f.err
}

func (f *fakeMessenger) SendDeletionWarning(ctx context.Context, jid string, grace time.Duration, scheduledAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warnings = append(f.warnings, scheduledAt)
	return f.err
}

func (f *fakeMessenger) SendDeletionCancelled(ctx context.Context, jid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []notifier.FailureAlert
}

func (f *fakeNotifier) NotifyFailure(ctx context.Context, alert notifier.FailureAlert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}

// conflictOnActivate rejects any update that would make a claim active.
type conflictOnActivate struct {
	*memory.MemoryClaimStore
}

func (s *conflictOnActivate) Update(ctx context.Context, id string, fn store.MutateFunc) (*types.ClaimRecord, error) {
	return s.MemoryClaimStore.Update(ctx, id, func(c *types.ClaimRecord) error {
		if err := fn(c); err != nil {
			return err
		}
		if c.Status == state.ClaimActive {
			return custom_errors.ErrConflict
		}
		return nil
	})
}

type failingDeleteQueue struct {
	JobQueue
}

func (q *failingDeleteQueue) EnqueueDelete(ctx context.Context, claimID string, delay time.Duration) (string, time.Time, error) {
	return "", time.Time{}, errors.New("queue unavailable")
}

type harness struct {
	o          *Orchestrator
	claims     *memory.MemoryClaimStore
	jobs       *memory.MemoryEnqueuedJobStore
	membership *fakeMembership
	hosting    *fakeHosting
	prober     *fakeProber
	messenger  *fakeMessenger
	notifier   *fakeNotifier
	signer     *token.Signer
	sleeps     []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		claims:     memory.NewMemoryClaimStore(),
		jobs:       memory.NewMemoryEnqueuedJobStore(),
		membership: &fakeMembership{member: true},
		hosting:    newFakeHosting(),
		prober:     &fakeProber{result: healthprobe.Result{Success: true, Attempts: 1, Message: "TCP connection successful on attempt 1"}},
		messenger:  &fakeMessenger{},
		notifier:   &fakeNotifier{},
	}
	signer, err := token.NewSigner("test-secret", time.Hour)
	require.NoError(t, err)
	h.signer = signer

	manager := client.NewEnqueueJobsManager(h.jobs, &mocks.MockDistributedLockManager{}, config.NewJobHandler(), "test", time.Minute)
	admins := membership.NewAllowList([]string{"+62800000001"})

	h.o = New(Dependencies{
		Store:      h.claims,
		Membership: h.membership,
		Hosting:    h.hosting,
		Prober:     h.prober,
		Queue:      client.NewClaimJobQueue(manager),
		Messenger:  h.messenger,
		Notifier:   h.notifier,
		Tokens:     signer,
		Privileged: admins.IsPrivileged,
	}, Options{
		GracePeriod:    4 * time.Hour,
		PanelURL:       "https://panel.example.com",
		TargetGroupID:  testGroup,
		PollInterval:   30 * time.Second,
		InstallTimeout: 10 * time.Minute,
	})
	h.o.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *harness) submit(t *testing.T) string {
	t.Helper()
	res, err := h.o.Submit(context.Background(), ClaimRequest{WANumber: testNumber, Username: "Alice", Template: "nodejs"})
	require.NoError(t, err)
	return res.ClaimID
}

// activeClaim runs a claim all the way to active.
func (h *harness) activeClaim(t *testing.T) string {
	t.Helper()
	id := h.submit(t)
	require.NoError(t, h.o.ProcessCreate(context.Background(), id))
	return id
}

func (h *harness) claim(t *testing.T, id string) *types.ClaimRecord {
	t.Helper()
	c, err := h.claims.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}
