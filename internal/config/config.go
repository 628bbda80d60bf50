package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Neomon11/LibLocker/internal/presence"
	dbconfig "github.com/Neomon11/LibLocker/pkg/database"
	"github.com/Neomon11/LibLocker/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. LIBLOCKER_SERVER_PORT
const EnvPrefix = "LIBLOCKER"

// ServerConfig is the complete server configuration
// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator;
// components receive their own sub-struct and never read viper directly
type ServerConfig struct {
	Server    ListenConfig    `mapstructure:"server" yaml:"server"`
	Database  dbconfig.Config `mapstructure:"database" yaml:"database"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Tariff    TariffConfig    `mapstructure:"tariff" yaml:"tariff"`
	Presence  presence.Config `mapstructure:"presence" yaml:"presence"`
	Router    RouterConfig    `mapstructure:"router" yaml:"router"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// ListenConfig holds the three listeners of the server
type ListenConfig struct {
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	Port        int    `mapstructure:"port" yaml:"port"` // client channel, /ws
	AdminPort   int    `mapstructure:"admin_port" yaml:"admin_port"`
	MetricsPort int    `mapstructure:"metrics_port" yaml:"metrics_port"`
}

// FUNCTIONAL DISCOVERY: 30s pings with a 60s read deadline drop a dead PC
// within a minute without flapping on a busy LAN
type WebSocketConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	BufferSize      int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	RegisterTimeout time.Duration `mapstructure:"register_timeout" yaml:"register_timeout"`
}

type SessionConfig struct {
	ExpiryCheckInterval time.Duration `mapstructure:"expiry_check_interval" yaml:"expiry_check_interval"`
	AutoStopExpired     bool          `mapstructure:"auto_stop_expired" yaml:"auto_stop_expired"`
}

// TariffConfig is applied when an admin start request omits tariff fields
type TariffConfig struct {
	FreeMode   bool    `mapstructure:"free_mode" yaml:"free_mode"`
	HourlyRate float64 `mapstructure:"hourly_rate" yaml:"hourly_rate"`
}

type RouterConfig struct {
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	InboundBuffer      int `mapstructure:"inbound_buffer" yaml:"inbound_buffer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "json" or "text"
}

// Load reads the server configuration from configPath (optional), then
// LIBLOCKER_* environment variables, over built-in defaults.
func Load(configPath string) (*ServerConfig, error) {
	v := newViper(configPath, "liblocker", setServerDefaults)
	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Defaults returns the built-in server configuration without file or
// environment overrides
func Defaults() *ServerConfig {
	v := viper.New()
	setServerDefaults(v)

	var cfg ServerConfig
	// Defaults always decode; a failure here is a programming error
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

func newViper(configPath, name string, defaults func(*viper.Viper)) *viper.Viper {
	v := viper.New()
	defaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/liblocker")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// readConfig tolerates a missing file; defaults and environment still apply
func readConfig(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to read config file: %w", err)
}

func setServerDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.port", 8765)
	v.SetDefault("server.admin_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Database defaults
	db := dbconfig.DefaultConfig()
	v.SetDefault("database.path", "data/liblocker.db")
	v.SetDefault("database.timeout", db.WriteTimeout)
	v.SetDefault("database.max_connections", db.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", db.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", db.ConnMaxIdleTime)
	v.SetDefault("database.write_retry_delay", db.WriteRetryDelay)
	v.SetDefault("database.migrations_path", "")

	// WebSocket defaults
	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 5*time.Second)
	v.SetDefault("websocket.buffer_size", 100)
	v.SetDefault("websocket.register_timeout", 10*time.Second)

	// Session defaults
	v.SetDefault("session.expiry_check_interval", 5*time.Second)
	v.SetDefault("session.auto_stop_expired", false)

	// Tariff defaults
	v.SetDefault("tariff.free_mode", true)
	v.SetDefault("tariff.hourly_rate", 100.0)

	// Presence defaults
	v.SetDefault("presence.backend", "memory")
	v.SetDefault("presence.ttl", 15*time.Second)
	v.SetDefault("presence.cache_size", 1024)
	v.SetDefault("presence.redis.host", "localhost")
	v.SetDefault("presence.redis.port", 6379)
	v.SetDefault("presence.redis.password", "")
	v.SetDefault("presence.redis.db", 0)
	v.SetDefault("presence.redis.pool_size", 10)
	v.SetDefault("presence.redis.min_idle_conns", 2)
	v.SetDefault("presence.redis.dial_timeout", 5*time.Second)
	v.SetDefault("presence.redis.read_timeout", 3*time.Second)
	v.SetDefault("presence.redis.write_timeout", 3*time.Second)

	// Router defaults
	v.SetDefault("router.rate_limit_per_minute", 120)
	v.SetDefault("router.inbound_buffer", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the configuration and creates the database directory
// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *ServerConfig) Validate() error {
	ports := map[string]int{
		"server.port":         c.Server.Port,
		"server.admin_port":   c.Server.AdminPort,
		"server.metrics_port": c.Server.MetricsPort,
	}
	seen := make(map[int]string)
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s: %d", name, port)
		}
		if other, dup := seen[port]; dup {
			return fmt.Errorf("%s and %s share port %d", name, other, port)
		}
		seen[port] = name
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 || c.WebSocket.RegisterTimeout <= 0 {
		return errors.New("websocket timeouts must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return errors.New("websocket ping_interval must be shorter than read_timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("websocket buffer_size must be positive")
	}

	if c.Session.ExpiryCheckInterval <= 0 {
		return errors.New("session expiry_check_interval must be positive")
	}

	if err := types.ValidateTariff(c.Tariff.HourlyRate); err != nil {
		return fmt.Errorf("tariff hourly_rate: %w", err)
	}

	switch c.Presence.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown presence backend %q", c.Presence.Backend)
	}
	if c.Presence.TTL <= 0 {
		return errors.New("presence ttl must be positive")
	}

	if c.Router.RateLimitPerMinute <= 0 {
		return errors.New("router rate_limit_per_minute must be positive")
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}

	// Ensure database directory exists
	if dir := filepath.Dir(c.Database.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return nil
}

func (l LoggingConfig) validate() error {
	if _, err := zerolog.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "json", "text":
		return nil
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
}

// ListenAddr joins the bind address with port
func (c *ServerConfig) ListenAddr(port int) string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, port)
}
