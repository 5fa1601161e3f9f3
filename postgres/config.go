package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	defaultPoolSize       = 10
	defaultAcquireTimeout = 30 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultPingTimeout    = 3 * time.Second
)

// Config holds connection settings and pool limits. Prefer providing a DSN
// via ConnString; when empty, one is synthesized from the individual fields.
type Config struct {
	ConnString string `koanf:"conn_string"`
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	DBName     string `koanf:"dbname"`
	SSLMode    string `koanf:"sslmode"`

	// PoolSize is the fixed pool capacity.
	PoolSize int `koanf:"pool_size"`
	// AcquireTimeout bounds how long an exhausted-pool acquire waits before
	// failing with a pool timeout. Zero waits until the context is done.
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	PingTimeout    time.Duration `koanf:"ping_timeout"`
}

// DefaultConfig returns local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "localhost",
		Port:           "5432",
		User:           "postgres",
		DBName:         "postgres",
		SSLMode:        "disable",
		PoolSize:       defaultPoolSize,
		AcquireTimeout: defaultAcquireTimeout,
		ConnectTimeout: defaultConnectTimeout,
		PingTimeout:    defaultPingTimeout,
	}
}

// envPrefix namespaces the environment variables LoadConfig reads, e.g.
// SQLIFT_HOST, SQLIFT_POOL_SIZE, SQLIFT_CONN_STRING.
const envPrefix = "SQLIFT_"

// LoadConfig layers defaults, a .env file when present, and SQLIFT_*
// environment variables.
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("postgres: load default config: %w", err)
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("postgres: load env config: %w", err)
	}
	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal config: %w", err)
	}
	return cfg, nil
}

// DSN returns the connection string, synthesizing one from the field values
// when ConnString is unset.
func (c *Config) DSN() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
	if c.ConnectTimeout > 0 {
		dsn += fmt.Sprintf(" connect_timeout=%d", int(c.ConnectTimeout.Seconds()))
	}
	return dsn
}
