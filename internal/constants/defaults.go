package constants

import "time"

// Scheduling defaults
const (
	// MinScheduleLeadTime is the minimum interval between the time a
	// schedule request is accepted and its target delivery time.
	MinScheduleLeadTime = 2 * time.Minute

	DefaultDeliveryMaxAttempts = 3
	DefaultDeliveryTimeoutSec  = 10
	DefaultClaimBatchSize      = 16
	DefaultIdleParkSec         = 60
)

// Retry and backoff defaults
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultDatabaseRetryAttempts = 3
)

// Auth defaults
const (
	DefaultSessionTTLMinutes  = 30
	DefaultChannelCacheSec    = 300
	MinEncryptionSecretLength = 16
)

// Server defaults
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultHTTPTimeoutSec        = 30
	ServerErrorChannelSize       = 1
	MaxRequestBodyBytes          = 1 << 20
)
