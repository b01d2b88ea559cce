// Package config loads environment-driven configuration for both binaries:
// the clinicctl client and the portal stub server.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Client configures the SDK side: where the portal lives and where the
// session credentials are persisted.
type Client struct {
	BaseURL  string `env:"CLINIC_API_URL,   default=https://servicioucmc.online"`
	LogLevel string `env:"LOG_LEVEL,        default=info"`
	Pretty   bool   `env:"LOG_PRETTY,       default=true"`

	// StoreBackend selects the credential store: "file" (default) or
	// "redis" for shared-terminal deployments.
	StoreBackend string `env:"CLINIC_STORE,      default=file"`
	// StorePath overrides the credential file location. Empty means
	// <user config dir>/clinicctl/session.json.
	StorePath string `env:"CLINIC_STORE_PATH"`

	Redis Redis
}

// Stub configures the development stub server implementing the portal's
// auth contract.
type Stub struct {
	Port       string        `env:"PORT,               default=8080"`
	Env        string        `env:"ENV,                default=development"`
	LogLevel   string        `env:"LOG_LEVEL,          default=info"`
	JWTSecret  string        `env:"JWT_SECRET,         default=dev-only-secret"`
	AccessTTL  time.Duration `env:"ACCESS_TOKEN_TTL,   default=15m"`
	RefreshTTL time.Duration `env:"REFRESH_TOKEN_TTL,  default=720h"`

	// Mongo.URI empty keeps users in memory; set it to persist them.
	Mongo Mongo
	// Redis.Addr empty keeps recovery codes in memory.
	Redis Redis
}

type Mongo struct {
	URI      string `env:"MONGO_URI"`
	Database string `env:"MONGO_DB, default=clinic_portal"`
}

type Redis struct {
	Addr string `env:"REDIS_ADDR"`
	DB   int    `env:"REDIS_DB, default=0"`
}

// LoadClient reads the client configuration from the environment.
func LoadClient(ctx context.Context) (*Client, error) {
	var cfg Client
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

// LoadStub reads the stub-server configuration from the environment.
func LoadStub(ctx context.Context) (*Stub, error) {
	var cfg Stub
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
