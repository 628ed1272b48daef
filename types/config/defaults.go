package config

const (
	DefaultEnvironment          = "production"
	DefaultStorageDriver        = Postgres
	DefaultRateLimitDriver      = RateLimitMemory
	DefaultHTTPPort             = 3000
	DefaultEnqueueInterval      = 2
	DefaultBatchSize            = 50
	DefaultCreateConcurrency    = 2
	DefaultDeleteConcurrency    = 1
	DefaultStaleLockTimeoutSec  = 900
	DefaultGracePeriodHours     = 4
	DefaultPanelTimeoutSec      = 30
	DefaultBotTimeoutSec        = 10
	DefaultMemberCheckRetries   = 3
	DefaultMemberCheckDelayMs   = 500
	DefaultTokenTTLHours        = 24 * 7
	DefaultWebhookToleranceSec  = 60
	DefaultIPRateLimit          = 20
	DefaultJIDRateLimit         = 5
	DefaultClaimRetentionDays   = 30
	DefaultJobRetentionHours    = 24
	DefaultDeadJobAlertLimit    = 10
	DefaultMaintenanceSchedule  = "@every 1h"
	DefaultQueueMetricsSchedule = "@every 15m"
	DefaultEmailDomain          = "claim.example.com"
	DefaultBoltPath             = "data/claims.db"
	DefaultRedisKeyPrefix       = "claim:rl"
	DefaultRabbitMQQueue        = "membership-events"
	DefaultRabbitMQContentType  = "application/json"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	PanelAPIKeyPrefix           = "ptla_"
)

// DefaultResources mirrors the limits applied to every claimed server unless overridden.
var DefaultResources = ResourceConfig{
	Memory:      1024,
	Swap:        0,
	Disk:        10240,
	IO:          500,
	CPU:         100,
	Databases:   2,
	Allocations: 1,
	Backups:     5,
}
