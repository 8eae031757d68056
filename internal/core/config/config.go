package config

import (
	"time"

	"github.com/robinmin/ccbridge/internal/core/domain"
	"github.com/robinmin/ccbridge/internal/dispatch/recovery"
	"github.com/robinmin/ccbridge/internal/dispatch/tracker"
	redisclient "github.com/robinmin/ccbridge/internal/infra/redis"
	"github.com/robinmin/ccbridge/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Backend  BackendConfig      `yaml:"backend"`
	IPC      IPCConfig          `yaml:"ipc"`
	Tracker  tracker.Config     `yaml:"tracker"`
	Recovery recovery.Config    `yaml:"recovery"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// BackendConfig describes where the command-execution agent runs.
type BackendConfig struct {
	Kind         domain.BackendKind `yaml:"kind"` // container, host, remote
	ContainerID  string             `yaml:"container_id"`
	InstanceName string             `yaml:"instance_name"`
	Host         string             `yaml:"host"`
	Port         int                `yaml:"port"`
	SocketPath   string             `yaml:"socket_path"`
	URL          string             `yaml:"url"`
	APIKey       string             `yaml:"api_key"`
}

// Backend converts the config block into the domain description.
func (c BackendConfig) Backend() domain.Backend {
	return domain.Backend{
		Kind:         c.Kind,
		ContainerID:  c.ContainerID,
		InstanceName: c.InstanceName,
		Host:         c.Host,
		Port:         c.Port,
		SocketPath:   c.SocketPath,
		URL:          c.URL,
		APIKey:       c.APIKey,
	}
}

// IPCConfig holds transport selection and timing settings.
type IPCConfig struct {
	// Preference picks a transport, or "auto" to probe.
	Preference string `yaml:"preference"`

	// RequestTimeout bounds a single dispatch.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}
