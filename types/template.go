package types

// Template is a named server image: the egg to install and how to probe it afterwards.
type Template struct {
	Name        string            `toml:"-" json:"name"`
	EggID       int64             `toml:"egg_id" json:"egg_id"`
	DockerImage string            `toml:"docker_image" json:"docker_image"`
	Startup     string            `toml:"startup" json:"startup"`
	Environment map[string]string `toml:"environment" json:"environment"`
	Healthcheck HealthcheckConfig `toml:"healthcheck" json:"healthcheck"`
}

type HealthcheckConfig struct {
	TimeoutSec    int `toml:"timeout_sec" json:"timeout_sec"`
	Retries       int `toml:"retries" json:"retries"`
	RetryDelaySec int `toml:"retry_delay_sec" json:"retry_delay_sec"`
}

const (
	DefaultHealthcheckTimeoutSec    = 5
	DefaultHealthcheckRetries       = 3
	DefaultHealthcheckRetryDelaySec = 2
)

// WithDefaults fills unset probe parameters.
func (h HealthcheckConfig) WithDefaults() HealthcheckConfig {
	if h.TimeoutSec <= 0 {
		h.TimeoutSec = DefaultHealthcheckTimeoutSec
	}
	if h.Retries <= 0 {
		h.Retries = DefaultHealthcheckRetries
	}
	if h.RetryDelaySec <= 0 {
		h.RetryDelaySec = DefaultHealthcheckRetryDelaySec
	}
	return h
}
