// Package config loads, defaults, and sanitises the runtime settings for the
// huddle gateway from the environment, an optional .env file, and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "HUDDLE_"

// Store drivers understood by the server command.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
	StoreSQLite = "sqlite"
)

// Handshake authentication modes.
const (
	AuthMetadata = "metadata"
	AuthToken    = "token"
)

const minVoiceSecretLength = 32

// RateLimitConfig defines the parameters for per-connection command rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// StoreConfig selects the message store backend.
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	Path   string `env:"STORE_PATH" envDefault:"huddle.db"`
}

// AuthConfig selects how the websocket handshake establishes identity.
type AuthConfig struct {
	Mode   string `env:"AUTH_MODE" envDefault:"metadata"`
	Secret string `env:"AUTH_SECRET"`
}

// VoiceConfig holds the media service credentials used to sign voice tokens.
type VoiceConfig struct {
	URL       string        `env:"LIVEKIT_URL" envDefault:"http://localhost:7880"`
	APIKey    string        `env:"LIVEKIT_API_KEY"`
	APISecret string        `env:"LIVEKIT_API_SECRET"`
	TokenTTL  time.Duration `env:"VOICE_TOKEN_TTL" envDefault:"1h"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// TelemetryConfig enables trace export. Tracing stays a no-op while
// Endpoint is empty.
type TelemetryConfig struct {
	Endpoint    string `env:"OTEL_ENDPOINT"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"huddle"`
}

// Config holds the gateway configuration including security controls.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173" envSeparator:","`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"32768"`
	SendBuffer      int           `env:"SEND_BUFFER" envDefault:"256"`
	PersistTimeout  time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimit       RateLimitConfig
	Store           StoreConfig
	Auth            AuthConfig
	Voice           VoiceConfig
	Log             LogConfig
	Telemetry       TelemetryConfig
}

// Default returns a Config populated only from the envDefault tags.
func Default() Config {
	cfg, err := parse(map[string]string{})
	if err != nil {
		// envDefault values are static; failing here is a programming error.
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Load reads the given .env files (or ./.env when present and none are
// given), then parses HUDDLE_* variables from the process environment.
func Load(envFiles ...string) (Config, error) {
	if err := loadDotEnv(envFiles); err != nil {
		return Config{}, err
	}
	cfg, err := parse(nil)
	if err != nil {
		return Config{}, err
	}
	return Sanitize(cfg), nil
}

func loadDotEnv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func parse(environment map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: envPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Sanitize replaces missing or non-positive values with defaults and trims
// list entries. It never fails; use Validate for cross-field checks.
func Sanitize(cfg Config) Config {
	def := Default()

	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Voice.TokenTTL <= 0 {
		cfg.Voice.TokenTTL = def.Voice.TokenTTL
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	cfg.Auth.Mode = strings.ToLower(strings.TrimSpace(cfg.Auth.Mode))
	if cfg.Auth.Mode == "" {
		cfg.Auth.Mode = def.Auth.Mode
	}

	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Telemetry.ServiceName = strings.TrimSpace(cfg.Telemetry.ServiceName)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// Validate reports settings that cannot be defaulted away.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case StoreMemory:
	case StoreBadger, StoreSQLite:
		if strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, fmt.Errorf("store path is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Auth.Mode {
	case AuthMetadata:
	case AuthToken:
		if c.Auth.Secret == "" {
			errs = append(errs, errors.New("auth secret is required in token mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", c.Auth.Mode))
	}

	if c.Voice.APISecret != "" && len(c.Voice.APISecret) < minVoiceSecretLength {
		errs = append(errs, fmt.Errorf("livekit api secret must be at least %d characters", minVoiceSecretLength))
	}

	return errors.Join(errs...)
}
