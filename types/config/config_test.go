package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sitaurs/pterodactyl-claim/custom_errors"
	"github.com/sitaurs/pterodactyl-claim/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageDriver_String(t *testing.T) {
	tests := []struct {
		name     string
		driver   StorageDriver
		expected string
	}{
		{name: "Postgres driver", driver: Postgres, expected: "postgres"},
		{name: "Bolt driver", driver: Bolt, expected: "bolt"},
		{name: "Memory driver", driver: Memory, expected: "memory"},
		{name: "Unknown driver", driver: StorageDriver(999), expected: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.driver.String(); result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestNewClaimConfig_Defaults(t *testing.T) {
	cfg, err := NewClaimConfig("test-instance")
	require.NoError(t, err)

	assert.Equal(t, "test-instance", cfg.Instance)
	assert.Equal(t, DefaultStorageDriver, cfg.StorageDriver)
	assert.Equal(t, 2, cfg.Queue.CreateConcurrency)
	assert.Equal(t, 1, cfg.Queue.DeleteConcurrency)
	assert.Equal(t, DefaultGracePeriodHours, cfg.GracePeriodHours)
	assert.Equal(t, DefaultResources, cfg.Panel.Resources)
	assert.Equal(t, 1024, cfg.Panel.Resources.Memory)
	assert.Equal(t, 10240, cfg.Panel.Resources.Disk)
}

func TestNewClaimConfig_AggregatesOptionErrors(t *testing.T) {
	cfg, err := NewClaimConfig("x",
		WithWorkerCounts(0, 1),
		WithPanel("http://panel", "bad-key", 1),
		WithBatchSize(0),
	)
	require.Error(t, err)
	assert.Nil(t, cfg)

	var vErr *custom_errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Len(t, vErr.Errors, 3)
	assert.ErrorIs(t, err, custom_errors.ErrValidation)
}

func TestNodeIDs_PrimaryFirstWithoutDuplicates(t *testing.T) {
	cfg, err := NewClaimConfig("x", WithPanel("http://panel/", "ptla_abc", 2, 3, 2, 5))
	require.NoError(t, err)

	assert.Equal(t, []int64{2, 3, 5}, cfg.NodeIDs())
	assert.Equal(t, "http://panel", cfg.Panel.URL)
}

func TestWithTemplate_FillsHealthcheckDefaults(t *testing.T) {
	cfg, err := NewClaimConfig("x", WithTemplate(types.Template{Name: "nodejs", EggID: 15}))
	require.NoError(t, err)

	tpl := cfg.Templates["nodejs"]
	assert.Equal(t, 5, tpl.Healthcheck.TimeoutSec)
	assert.Equal(t, 3, tpl.Healthcheck.Retries)
	assert.Equal(t, 2, tpl.Healthcheck.RetryDelaySec)
	assert.Equal(t, []string{"nodejs"}, cfg.TemplateNames())
}

func TestValidate_ReportsMissingRequiredFields(t *testing.T) {
	cfg, err := NewClaimConfig("x")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panel.url is required")
	assert.Contains(t, err.Error(), "security.internal_secret is required")
	assert.Contains(t, err.Error(), "postgres.connection_url is required")
	assert.Contains(t, err.Error(), "at least one template is required")
}

const sampleConfig = `
instance = "claimd-1"
environment = "staging"
storage_driver = "bolt"
grace_period_hours = 6

[bolt]
path = "claims.db"

[panel]
url = "https://panel.example.com/"
api_key = "ptla_fromfile"
primary_node_id = 1
fallback_node_ids = [2, 3]

[panel.resources]
memory = 2048

[bot]
url = "http://bot:4000"

[security]
internal_secret = "file-secret"

[templates.nodejs]
egg_id = 15
docker_image = "ghcr.io/parkervcp/yolks:nodejs_18"
startup = "npm start"

[templates.nodejs.environment]
MAIN_FILE = "index.js"

[templates.nodejs.healthcheck]
timeout_sec = 8
`

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claimd.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))
	t.Setenv(EnvPanelAPIKey, "ptla_fromenv")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "claimd-1", cfg.Instance)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, Bolt, cfg.StorageDriver)
	assert.Equal(t, "https://panel.example.com", cfg.Panel.URL)
	assert.Equal(t, "ptla_fromenv", cfg.Panel.APIKey)
	assert.Equal(t, []int64{1, 2, 3}, cfg.NodeIDs())
	assert.Equal(t, 2048, cfg.Panel.Resources.Memory)
	assert.Equal(t, 6, cfg.GracePeriodHours)

	tpl := cfg.Templates["nodejs"]
	assert.Equal(t, "nodejs", tpl.Name)
	assert.Equal(t, int64(15), tpl.EggID)
	assert.Equal(t, "index.js", tpl.Environment["MAIN_FILE"])
	assert.Equal(t, 8, tpl.Healthcheck.TimeoutSec)
	assert.Equal(t, 3, tpl.Healthcheck.Retries)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open config")
}
