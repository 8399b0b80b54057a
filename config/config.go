// Package config loads callsignal settings from CALLSIGNAL_* environment variables,
// resolving credentials through a secrets.Source.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/callsignal/secrets"
	"go.viam.com/callsignal/session"
	"go.viam.com/callsignal/store"
	"go.viam.com/callsignal/transport"
)

// StoreType selects the signaling store backend.
type StoreType string

// The supported store backends.
const (
	StoreTypeMemory  = StoreType("memory")
	StoreTypeMongoDB = StoreType("mongodb")
	StoreTypeRedis   = StoreType("redis")
)

// Environment variables read by Load.
const (
	EnvStoreType            = "CALLSIGNAL_STORE"
	EnvSecretSource         = "CALLSIGNAL_SECRET_SOURCE"
	EnvMongoDBURI           = "CALLSIGNAL_MONGODB_URI"
	EnvRedisAddr            = "CALLSIGNAL_REDIS_ADDR"
	EnvRedisPassword        = "CALLSIGNAL_REDIS_PASSWORD"
	EnvRedisDB              = "CALLSIGNAL_REDIS_DB"
	EnvICEServers           = "CALLSIGNAL_ICE_SERVERS"
	EnvRingTimeout          = "CALLSIGNAL_RING_TIMEOUT"
	EnvMaxPendingCandidates = "CALLSIGNAL_MAX_PENDING_CANDIDATES"
	EnvRetention            = "CALLSIGNAL_RETENTION"
	EnvHTTPAddr             = "CALLSIGNAL_HTTP_ADDR"
	EnvAllowedOrigins       = "CALLSIGNAL_ALLOWED_ORIGINS"
	EnvDebug                = "CALLSIGNAL_DEBUG"
)

// Config is the complete runtime configuration.
type Config struct {
	StoreType StoreType
	MongoDB   MongoDBConfig
	Redis     RedisConfig

	ICEServers           []string
	RingTimeout          time.Duration
	MaxPendingCandidates int
	Retention            time.Duration

	HTTPAddr       string
	AllowedOrigins []string

	Debug bool
}

// MongoDBConfig locates the MongoDB deployment.
type MongoDBConfig struct {
	URI string
}

// RedisConfig locates the Redis server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads the configuration from the environment. Credentials are looked up in the
// secret source named by CALLSIGNAL_SECRET_SOURCE, the environment by default.
func Load(ctx context.Context) (*Config, error) {
	source, err := secrets.NewSource(ctx, secrets.SourceType(getEnv(EnvSecretSource, string(secrets.SourceTypeEnv))))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = secrets.Close(source)
	}()
	return LoadWithSecrets(ctx, source)
}

// LoadWithSecrets is Load with an explicit secret source.
func LoadWithSecrets(ctx context.Context, source secrets.Source) (*Config, error) {
	cfg := &Config{
		StoreType:      StoreType(strings.ToLower(getEnv(EnvStoreType, string(StoreTypeMemory)))),
		ICEServers:     splitList(getEnv(EnvICEServers, strings.Join(transport.DefaultICEServers, ","))),
		HTTPAddr:       getEnv(EnvHTTPAddr, "localhost:8080"),
		AllowedOrigins: splitList(getEnv(EnvAllowedOrigins, "*")),
		Redis: RedisConfig{
			Addr: getEnv(EnvRedisAddr, "localhost:6379"),
		},
	}

	var err error
	if cfg.RingTimeout, err = getDuration(EnvRingTimeout, session.DefaultRingTimeout); err != nil {
		return nil, err
	}
	if cfg.Retention, err = getDuration(EnvRetention, store.DefaultRetention); err != nil {
		return nil, err
	}
	if cfg.MaxPendingCandidates, err = getInt(EnvMaxPendingCandidates, session.DefaultMaxPendingCandidates); err != nil {
		return nil, err
	}
	if cfg.Redis.DB, err = getInt(EnvRedisDB, 0); err != nil {
		return nil, err
	}
	if cfg.Debug, err = getBool(EnvDebug, false); err != nil {
		return nil, err
	}

	if cfg.MongoDB.URI, err = secrets.GetOrDefault(ctx, source, EnvMongoDBURI, "mongodb://localhost:27017"); err != nil {
		return nil, err
	}
	if cfg.Redis.Password, err = secrets.GetOrDefault(ctx, source, EnvRedisPassword, ""); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.StoreType {
	case StoreTypeMemory, StoreTypeMongoDB, StoreTypeRedis:
	default:
		return errors.Errorf("unknown store type %q", c.StoreType)
	}
	if c.RingTimeout <= 0 {
		return errors.Errorf("%s must be positive", EnvRingTimeout)
	}
	if c.Retention <= 0 {
		return errors.Errorf("%s must be positive", EnvRetention)
	}
	if c.MaxPendingCandidates <= 0 {
		return errors.Errorf("%s must be positive", EnvMaxPendingCandidates)
	}
	return nil
}

// TransportConfig returns the transport settings for new sessions.
func (c *Config) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	if len(c.ICEServers) != 0 {
		cfg.ICEServers = c.ICEServers
	}
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return i, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, errors.Wrapf(err, "invalid %s", key)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
