// Package config loads the orchestrator's environment-driven configuration:
// the landscape DSN, payload store backend selection, export signing key,
// and the ambient observability/messaging endpoints. Keeps the teacher's
// EnvConfig/Validator utility shape (config/config.go's GetString/GetInt/
// GetDuration + fluent Validator) and drops the generic Server/Registry/
// Auth/CORS loaders that had no role in a pipeline engine with no HTTP
// surface of its own (spec.md §1).
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig reads environment variables under an optional prefix, exactly
// as the teacher's version did.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a new environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GetString retrieves a string value from environment with optional default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetInt retrieves an integer value from environment with optional default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloat retrieves a float value from environment with optional default.
func (ec *EnvConfig) GetFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Validator accumulates configuration validation errors, same fluent shape
// as the teacher's Validator.
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a string field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid reports whether there are no validation errors.
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Validate returns an error summarizing every accumulated violation, or nil.
func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// PayloadBackend selects which payloadstore.Store implementation to open.
type PayloadBackend string

const (
	PayloadBackendFilesystem PayloadBackend = "filesystem"
	PayloadBackendBolt       PayloadBackend = "bolt"
	PayloadBackendS3         PayloadBackend = "s3"
)

// Config is the orchestrator's full environment-driven configuration.
type Config struct {
	// DatabaseURL is the Postgres DSN landscape.Open connects to.
	DatabaseURL string

	// PayloadBackend and PayloadRoot select and locate the payload store:
	// a directory for filesystem, a bbolt database file path for bolt, a
	// bucket name for s3.
	PayloadBackend PayloadBackend
	PayloadRoot    string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	// ExportSigningKey is the HMAC key landscape.NewExporter signs export
	// manifests with.
	ExportSigningKey []byte

	LogLevel string

	// RedisURL, if set, backs the orchestrator's aggregation buffer with
	// orchestrator.RedisAggregationBuffer instead of an in-memory one.
	RedisURL string

	// AMQPURL and AMQPQueue, if both set, enable lifecycle event
	// publishing via orchestrator.LifecycleEventPublisher.
	AMQPURL   string
	AMQPQueue string

	// WebsocketAddr, if set, serves the run-progress broadcaster on this
	// address (e.g. ":8089").
	WebsocketAddr string

	// CallRateLimit caps external calls per second, per node. Zero means
	// unlimited.
	CallRateLimit float64

	// CheckpointEvery is passed to orchestrator.Config.CheckpointEvery,
	// which the orchestrator does not read: no automatic checkpoints are
	// taken, whatever its value.
	CheckpointEvery int
}

// FromEnv loads a Config from environment variables, all read under the
// LANDSCAPE_ prefix:
//   - LANDSCAPE_DATABASE_URL (required)
//   - LANDSCAPE_PAYLOAD_BACKEND: filesystem|bolt|s3 (default filesystem)
//   - LANDSCAPE_PAYLOAD_ROOT: directory, bbolt file path, or bucket name
//   - LANDSCAPE_S3_REGION / _ENDPOINT / _ACCESS_KEY / _SECRET_KEY
//   - LANDSCAPE_EXPORT_SIGNING_KEY: hex-encoded HMAC key (required)
//   - LANDSCAPE_LOG_LEVEL (default info)
//   - LANDSCAPE_REDIS_URL (optional)
//   - LANDSCAPE_AMQP_URL / _AMQP_QUEUE (optional, both required together)
//   - LANDSCAPE_WEBSOCKET_ADDR (optional)
//   - LANDSCAPE_CALL_RATE_LIMIT (default 0, unlimited)
//   - LANDSCAPE_CHECKPOINT_EVERY (default 100)
func FromEnv() (*Config, error) {
	env := NewEnvConfig("LANDSCAPE")

	keyHex := env.GetString("EXPORT_SIGNING_KEY", "")
	var key []byte
	if keyHex != "" {
		decoded, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("LANDSCAPE_EXPORT_SIGNING_KEY is not valid hex: %w", err)
		}
		key = decoded
	}

	cfg := &Config{
		DatabaseURL:      env.GetString("DATABASE_URL", ""),
		PayloadBackend:   PayloadBackend(env.GetString("PAYLOAD_BACKEND", string(PayloadBackendFilesystem))),
		PayloadRoot:      env.GetString("PAYLOAD_ROOT", "./payloads"),
		S3Region:         env.GetString("S3_REGION", ""),
		S3Endpoint:       env.GetString("S3_ENDPOINT", ""),
		S3AccessKey:      env.GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:      env.GetString("S3_SECRET_KEY", ""),
		ExportSigningKey: key,
		LogLevel:         env.GetString("LOG_LEVEL", "info"),
		RedisURL:         env.GetString("REDIS_URL", ""),
		AMQPURL:          env.GetString("AMQP_URL", ""),
		AMQPQueue:        env.GetString("AMQP_QUEUE", ""),
		WebsocketAddr:    env.GetString("WEBSOCKET_ADDR", ""),
		CallRateLimit:    env.GetFloat("CALL_RATE_LIMIT", 0),
		CheckpointEvery:  env.GetInt("CHECKPOINT_EVERY", 100),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	v := NewValidator()
	v.RequireString("LANDSCAPE_DATABASE_URL", c.DatabaseURL)
	v.RequireOneOf("LANDSCAPE_PAYLOAD_BACKEND", string(c.PayloadBackend),
		[]string{string(PayloadBackendFilesystem), string(PayloadBackendBolt), string(PayloadBackendS3)})
	v.RequireOneOf("LANDSCAPE_LOG_LEVEL", c.LogLevel, []string{"debug", "info", "warn", "error"})
	if len(c.ExportSigningKey) == 0 {
		v.RequireString("LANDSCAPE_EXPORT_SIGNING_KEY", "")
	}
	return v.Validate()
}
