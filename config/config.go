// Package config holds the environment configuration of the board services
// and the board CLI.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage modes accepted by STORAGE_MODE.
const (
	StorageMemory = "memory"
	StorageTable  = "table"
)

// Auth selects how bearer tokens are verified. AUTH0_TEST_MODE switches to
// HS256 tokens signed with TEST_JWT_SECRET.
type Auth struct {
	Domain      string        `env:"AUTH0_DOMAIN"`
	Audience    string        `env:"AUTH0_AUDIENCE"`
	TestMode    bool          `env:"AUTH0_TEST_MODE"`
	TestSecret  string        `env:"TEST_JWT_SECRET"`
	KeyCacheTTL time.Duration `env:"JWKS_KEY_CACHE_TTL" envDefault:"15m"`
}

func (a Auth) Validate() error {
	if a.TestMode {
		if a.TestSecret == "" {
			return errors.New("missing TEST_JWT_SECRET")
		}
		return nil
	}
	if a.Domain == "" || a.Audience == "" {
		return errors.New("missing Auth0 config")
	}
	return nil
}

// JWKSURL is the Auth0 key set endpoint for Domain.
func (a Auth) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain)
}

// Issuer is the expected iss claim for Domain.
func (a Auth) Issuer() string {
	return "https://" + a.Domain + "/"
}

// API configures cmd/task-api.
type API struct {
	Debug         bool          `env:"DEBUG"`
	Port          string        `env:"FUNCTIONS_CUSTOMHANDLER_PORT" envDefault:"8080"`
	StorageMode   string        `env:"STORAGE_MODE" envDefault:"memory"`
	ConnString    string        `env:"STORAGE_CONNECTION_STRING"`
	TasksTable    string        `env:"TASKS_TABLE" envDefault:"Tasks"`
	EventsQueue   string        `env:"EVENTS_QUEUE"`
	RedisConn     string        `env:"REDIS_CONNECTION_STRING"`
	CacheTTL      time.Duration `env:"TASKS_CACHE_TTL" envDefault:"30s"`
	DeduperTTL    time.Duration `env:"DEDUPER_TTL" envDefault:"24h"`
	ExportWorkers int           `env:"EXPORT_WORKERS" envDefault:"8"`
	ExportBuffer  int           `env:"EXPORT_BUFFER" envDefault:"1024"`
	AllowOrigins  []string      `env:"CORS_ALLOW_ORIGINS" envDefault:"*" envSeparator:","`
	Auth          Auth
}

func (c API) Validate() error {
	switch c.StorageMode {
	case StorageMemory:
	case StorageTable:
		if c.ConnString == "" || c.TasksTable == "" {
			return errors.New("missing storage config")
		}
	default:
		return fmt.Errorf("invalid STORAGE_MODE %q: must be %s or %s", c.StorageMode, StorageMemory, StorageTable)
	}
	if c.DeduperTTL <= 0 {
		return errors.New("invalid DEDUPER_TTL: must be greater than zero")
	}
	return c.Auth.Validate()
}

// Stream configures cmd/stream-service. With REDIS_CONNECTION_STRING set,
// instances share one channel over Redis pub/sub.
type Stream struct {
	Debug        bool          `env:"DEBUG"`
	Port         string        `env:"STREAM_SERVICE_PORT" envDefault:"9000"`
	RedisConn    string        `env:"REDIS_CONNECTION_STRING"`
	Channel      string        `env:"STREAM_CHANNEL" envDefault:"taskboard:events"`
	VersionsKey  string        `env:"STREAM_VERSIONS_KEY" envDefault:"taskboard:event-versions"`
	Heartbeat    time.Duration `env:"STREAM_HEARTBEAT" envDefault:"15s"`
	QueueSize    int           `env:"STREAM_QUEUE_SIZE" envDefault:"256"`
	AllowOrigins []string      `env:"CORS_ALLOW_ORIGINS" envDefault:"*" envSeparator:","`
	// With a connection string, published events are checked against the
	// task table before they are admitted.
	ConnString string `env:"STORAGE_CONNECTION_STRING"`
	TasksTable string `env:"TASKS_TABLE" envDefault:"Tasks"`
	Auth       Auth
}

func (c Stream) Validate() error {
	if c.Heartbeat <= 0 {
		return errors.New("invalid STREAM_HEARTBEAT: must be greater than zero")
	}
	return c.Auth.Validate()
}

// StorageInit configures cmd/storage-init.
type StorageInit struct {
	Debug       bool   `env:"DEBUG"`
	ConnString  string `env:"STORAGE_CONNECTION_STRING,required"`
	TasksTable  string `env:"TASKS_TABLE" envDefault:"Tasks"`
	EventsQueue string `env:"EVENTS_QUEUE"`
}

// Forwarder configures cmd/event-forwarder, which moves exported events from
// the Azure queue onto the shared Redis channel.
type Forwarder struct {
	Debug       bool          `env:"DEBUG"`
	ConnString  string        `env:"STORAGE_CONNECTION_STRING,required"`
	EventsQueue string        `env:"EVENTS_QUEUE,required"`
	RedisConn   string        `env:"REDIS_CONNECTION_STRING,required"`
	Channel     string        `env:"STREAM_CHANNEL" envDefault:"taskboard:events"`
	VersionsKey string        `env:"STREAM_VERSIONS_KEY" envDefault:"taskboard:event-versions"`
	IdleWait    time.Duration `env:"FORWARDER_IDLE_WAIT" envDefault:"1s"`
}
