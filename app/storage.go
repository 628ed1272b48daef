package app

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sitaurs/pterodactyl-claim/internal/lock"
	"github.com/sitaurs/pterodactyl-claim/internal/ratelimit"
	"github.com/sitaurs/pterodactyl-claim/internal/store"
	"github.com/sitaurs/pterodactyl-claim/internal/store/bolt"
	"github.com/sitaurs/pterodactyl-claim/internal/store/memory"
	"github.com/sitaurs/pterodactyl-claim/internal/store/postgres"
	"github.com/sitaurs/pterodactyl-claim/types/config"
)

const (
	limiterWindow  = time.Minute
	limiterMaxKeys = 10000
)

func openPostgresDB(connectionURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// openRedis accepts either host:port or a redis:// URL.
func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if strings.HasPrefix(cfg.Address, "redis://") || strings.HasPrefix(cfg.Address, "rediss://") {
		opts, err := redis.ParseURL(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// createStores returns the claim and job stores for the configured driver.
func createStores(cfg *config.ClaimConfig, db *sql.DB) (store.ClaimStore, store.EnqueuedJobStore, error) {
	switch cfg.StorageDriver {
	case config.Postgres:
		return postgres.NewPostgresClaimStore(db), postgres.NewPostgresEnqueuedJobStore(db), nil
	case config.Bolt:
		claims, err := bolt.NewBoltClaimStore(cfg.BoltConfig.Path)
		if err != nil {
			return nil, nil, err
		}
		jobs, err := bolt.NewBoltEnqueuedJobStore(bolt.JobsPath(cfg.BoltConfig.Path))
		if err != nil {
			_ = claims.Close()
			return nil, nil, err
		}
		return claims, jobs, nil
	case config.Memory:
		return memory.NewMemoryClaimStore(), memory.NewMemoryEnqueuedJobStore(), nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %v", cfg.StorageDriver)
	}
}

// createDistributedLockManager uses advisory locks when several instances share
// postgres. File and memory stores are single-process, so a local lock is enough.
func createDistributedLockManager(driver config.StorageDriver, db *sql.DB) lock.DistributedLockManager {
	if driver == config.Postgres {
		return lock.NewPostgresDistributedLockManager(db)
	}
	return lock.NewLocalLockManager()
}

func createLimiters(cfg *config.ClaimConfig, rdb *redis.Client) (ip, jid ratelimit.Limiter, err error) {
	if cfg.RateLimitDriver == config.RateLimitRedis {
		prefix := cfg.RedisConfig.KeyPrefix
		ip = ratelimit.NewRedisLimiter(rdb, prefix+":ip:", cfg.Server.IPRateLimit, limiterWindow, nil)
		jid = ratelimit.NewRedisLimiter(rdb, prefix+":jid:", cfg.Server.JIDRateLimit, limiterWindow, nil)
		return ip, jid, nil
	}

	ipLimiter, err := ratelimit.NewMemoryLimiter(cfg.Server.IPRateLimit, limiterWindow, nil, limiterMaxKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("ip limiter: %w", err)
	}
	jidLimiter, err := ratelimit.NewMemoryLimiter(cfg.Server.JIDRateLimit, limiterWindow, nil, limiterMaxKeys)
	if err != nil {
		return nil, nil, fmt.Errorf("jid limiter: %w", err)
	}
	return ipLimiter, jidLimiter, nil
}
