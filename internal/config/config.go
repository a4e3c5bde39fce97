// Package config loads configuration of the subscription state service from
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// API is the configuration of the subscription state service.
type API struct {
	// Address to listen HTTP requests on.
	ListenAddr string `env:"SUBSCRIPTION_API_ADDR" envDefault:":8080"`

	// Neo RPC server endpoint.
	RPCEndpoint string `env:"SUBSCRIPTION_RPC_ENDPOINT,required"`

	// Subscription contract address, LE hash or Neo address.
	Contract string `env:"SUBSCRIPTION_CONTRACT,required"`

	// Network label reported to clients.
	Network string `env:"SUBSCRIPTION_NETWORK" envDefault:"testnet"`

	// Number of the latest blocks scanned for contract events.
	EventBlocks uint32 `env:"SUBSCRIPTION_EVENT_BLOCKS" envDefault:"100"`

	// Maximum number of events in the state response.
	EventLimit int `env:"SUBSCRIPTION_EVENT_LIMIT" envDefault:"50"`

	// Per-request limit of chain interaction.
	RequestTimeout time.Duration `env:"SUBSCRIPTION_REQUEST_TIMEOUT" envDefault:"20s"`

	// Limit of graceful shutdown.
	ShutdownTimeout time.Duration `env:"SUBSCRIPTION_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// CORS origins allowed to call the service.
	AllowedOrigins []string `env:"SUBSCRIPTION_CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	LogLevel zapcore.Level `env:"SUBSCRIPTION_LOG_LEVEL" envDefault:"info"`
}

// ErrInvalid is returned by Load for configurations which are parsed
// successfully but can't be used.
var ErrInvalid = errors.New("invalid configuration")

// Load reads API configuration from the environment. Variables from the given
// dotenv files are applied first without overriding already set ones. If no
// files are passed, optional .env file of the working directory is used.
func Load(dotenvFiles ...string) (API, error) {
	err := godotenv.Load(dotenvFiles...)
	if err != nil && (len(dotenvFiles) > 0 || !errors.Is(err, fs.ErrNotExist)) {
		return API{}, fmt.Errorf("load dotenv: %w", err)
	}

	cfg, err := env.ParseAs[API]()
	if err != nil {
		return API{}, fmt.Errorf("parse environment: %w", err)
	}

	switch {
	case cfg.EventLimit < 0:
		return API{}, fmt.Errorf("%w: negative event limit %d", ErrInvalid, cfg.EventLimit)
	case cfg.RequestTimeout <= 0:
		return API{}, fmt.Errorf("%w: non-positive request timeout %s", ErrInvalid, cfg.RequestTimeout)
	}

	return cfg, nil
}
