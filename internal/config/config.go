package config

import (
	"encoding/json"
	"os"
	"strconv"

	"slackline/internal/constants"
	"slackline/internal/models"
)

var (
	ErrMissingIdentityURL  = models.ConfigError{Message: "missing identity service base URL"}
	ErrMissingWorkspaceURL = models.ConfigError{Message: "missing workspace API base URL"}
	ErrMissingDBPath       = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Identity.BaseURL == "" {
		return ErrMissingIdentityURL
	}
	if c.Workspace.BaseURL == "" {
		return ErrMissingWorkspaceURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Scheduler.MaxAttempts < 0 {
		return models.ConfigError{Message: "scheduler maxAttempts must not be negative"}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sampleRate must be between 0 and 1"}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Identity.TimeoutSec == 0 {
		c.Identity.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Workspace.TimeoutSec == 0 {
		c.Workspace.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Assist.TimeoutSec == 0 {
		c.Assist.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Scheduler.MaxAttempts == 0 {
		c.Scheduler.MaxAttempts = constants.DefaultDeliveryMaxAttempts
	}
	if c.Scheduler.DeliveryTimeoutSec == 0 {
		c.Scheduler.DeliveryTimeoutSec = constants.DefaultDeliveryTimeoutSec
	}
	if c.Scheduler.ClaimBatchSize == 0 {
		c.Scheduler.ClaimBatchSize = constants.DefaultClaimBatchSize
	}
	if c.Scheduler.IdleParkSec == 0 {
		c.Scheduler.IdleParkSec = constants.DefaultIdleParkSec
	}
	if c.Retry.InitialBackoffMs == 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs == 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if c.Auth.SessionTTLMinutes == 0 {
		c.Auth.SessionTTLMinutes = constants.DefaultSessionTTLMinutes
	}
}

// applyEnvironmentOverrides lets deployments override the file without
// editing it. Secrets only ever come from the environment.
func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("SLACKLINE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("SLACKLINE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("SLACKLINE_IDENTITY_URL"); v != "" {
		c.Identity.BaseURL = v
	}
	if v := os.Getenv("SLACKLINE_WORKSPACE_URL"); v != "" {
		c.Workspace.BaseURL = v
	}
	if v := os.Getenv("SLACKLINE_ASSIST_URL"); v != "" {
		c.Assist.BaseURL = v
	}
	if v := os.Getenv("SLACKLINE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.Server.Port = port
		}
	}
}
