package models

import "fmt"

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Message)
}

type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type ServiceConfig struct {
	BaseURL    string `json:"baseUrl"`
	TimeoutSec int    `json:"timeoutSec"`
}

type AssistConfig struct {
	BaseURL    string `json:"baseUrl"`
	TimeoutSec int    `json:"timeoutSec"`
	Enabled    bool   `json:"enabled"`
}

type SchedulerConfig struct {
	MaxAttempts        int `json:"maxAttempts"`
	DeliveryTimeoutSec int `json:"deliveryTimeoutSec"`
	ClaimBatchSize     int `json:"claimBatchSize"`
	IdleParkSec        int `json:"idleParkSec"`
}

type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type AuthConfig struct {
	SessionTTLMinutes int `json:"sessionTtlMinutes"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type Config struct {
	LogLevel  string          `json:"logLevel"`
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Identity  ServiceConfig   `json:"identity"`
	Workspace ServiceConfig   `json:"workspace"`
	Assist    AssistConfig    `json:"assist"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry"`
	Auth      AuthConfig      `json:"auth"`
	Tracing   TracingConfig   `json:"tracing"`
}
