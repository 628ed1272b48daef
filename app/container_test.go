package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sitaurs/pterodactyl-claim/client/test/mocks"
	"github.com/sitaurs/pterodactyl-claim/internal/constants"
	"github.com/sitaurs/pterodactyl-claim/internal/lock"
	"github.com/sitaurs/pterodactyl-claim/internal/ratelimit"
	"github.com/sitaurs/pterodactyl-claim/internal/store/bolt"
	"github.com/sitaurs/pterodactyl-claim/internal/store/memory"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/sitaurs/pterodactyl-claim/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, opts ...config.ConfigOption) *config.ClaimConfig {
	t.Helper()
	base := []config.ConfigOption{
		config.WithPanel("http://panel.invalid", "ptla_test", 1),
		config.WithBot("http://bot.invalid"),
		config.WithSecrets("internal", "token-secret"),
		config.WithTemplate(types.Template{Name: "nodejs", EggID: 15}),
	}
	cfg, err := config.NewClaimConfig("test-instance", append(base, opts...)...)
	require.NoError(t, err)
	cfg.StorageDriver = config.Memory
	return cfg
}

func TestNewContainer_MemoryDriver(t *testing.T) {
	cfg := testConfig(t)

	c, err := NewContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &memory.MemoryClaimStore{}, c.Claims)
	assert.IsType(t, &memory.MemoryEnqueuedJobStore{}, c.Jobs)
	assert.IsType(t, &lock.LocalLockManager{}, c.LockManager)
	assert.Nil(t, c.MessageBroker)
	assert.Nil(t, c.Consumer)
	assert.True(t, c.JobHandler.Exists(constants.CreateClaimJob))
	assert.True(t, c.JobHandler.Exists(constants.DeleteServerJob))

	res, err := c.Routes.App().Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestNewContainer_EventQueueUsesInjectedBroker(t *testing.T) {
	cfg := testConfig(t, config.UseEventQueue(true))
	var queues []string
	closed := false
	broker := &mocks.MockMessageBroker{
		PublishFunc: func(ctx context.Context, queue string, message []byte) error {
			queues = append(queues, queue)
			return nil
		},
		CloseFunc: func() error {
			closed = true
			return nil
		},
	}

	c, err := NewContainer(context.Background(), cfg, WithBroker(broker))
	require.NoError(t, err)
	require.NotNil(t, c.Consumer)
	assert.Same(t, broker, c.MessageBroker)

	c.Close()
	assert.True(t, closed)
	assert.Empty(t, queues)
}

func TestCreateStores_Bolt(t *testing.T) {
	cfg := testConfig(t, config.WithBoltConfig(config.BoltConfig{Path: filepath.Join(t.TempDir(), "claims.db")}))
	cfg.StorageDriver = config.Bolt

	claims, jobs, err := createStores(cfg, nil)
	require.NoError(t, err)
	defer claims.Close()
	defer jobs.Close()

	assert.IsType(t, &bolt.BoltClaimStore{}, claims)
	assert.IsType(t, &bolt.BoltEnqueuedJobStore{}, jobs)
}

func TestCreateStores_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDriver = config.StorageDriver(42)

	_, _, err := createStores(cfg, nil)
	assert.Error(t, err)
}

func TestCreateLimiters(t *testing.T) {
	cfg := testConfig(t)

	ip, jid, err := createLimiters(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.MemoryLimiter{}, ip)
	assert.IsType(t, &ratelimit.MemoryLimiter{}, jid)

	cfg.Server.IPRateLimit = 0
	_, _, err = createLimiters(cfg, nil)
	assert.Error(t, err)
}

func TestOpenRedis(t *testing.T) {
	rdb, err := openRedis(config.RedisConfig{Address: "redis://:secret@localhost:6380/2"})
	require.NoError(t, err)
	defer rdb.Close()
	assert.Equal(t, "localhost:6380", rdb.Options().Addr)
	assert.Equal(t, 2, rdb.Options().DB)

	rdb, err = openRedis(config.RedisConfig{Address: "localhost:6379", DB: 1})
	require.NoError(t, err)
	defer rdb.Close()
	assert.Equal(t, "localhost:6379", rdb.Options().Addr)
	assert.Equal(t, 1, rdb.Options().DB)
}
