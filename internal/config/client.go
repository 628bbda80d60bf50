package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/Neomon11/LibLocker/pkg/types"
)

// ClientConfig configures the locker agent running on each PC
type ClientConfig struct {
	Server        ClientServerConfig  `mapstructure:"server" yaml:"server"`
	Identity      IdentityConfig      `mapstructure:"identity" yaml:"identity"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
}

type ClientServerConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval" yaml:"reconnect_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`
}

// IdentityConfig is what the agent announces in CLIENT_REGISTER
type IdentityConfig struct {
	HardwareID string `mapstructure:"hwid" yaml:"hwid"`
	Name       string `mapstructure:"name" yaml:"name"`
	MACAddress string `mapstructure:"mac_address" yaml:"mac_address"`
}

type NotificationsConfig struct {
	WarningMinutes int `mapstructure:"warning_minutes" yaml:"warning_minutes"`
}

// LoadClient reads the agent configuration the same way Load does,
// searching for liblocker-client.* when no path is given
func LoadClient(configPath string) (*ClientConfig, error) {
	v := newViper(configPath, "liblocker-client", setClientDefaults)
	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setClientDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "liblocker-client"
	}

	v.SetDefault("server.url", "ws://localhost:8765/ws")
	v.SetDefault("server.reconnect_interval", 10*time.Second)
	v.SetDefault("server.heartbeat_interval", 5*time.Second)
	v.SetDefault("server.connection_timeout", 10*time.Second)

	v.SetDefault("identity.hwid", hostname)
	v.SetDefault("identity.name", hostname)
	v.SetDefault("identity.mac_address", firstHardwareAddr())

	v.SetDefault("notifications.warning_minutes", 5)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the agent configuration
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server url must use ws or wss, got %q", u.Scheme)
	}

	if c.Server.ReconnectInterval <= 0 || c.Server.HeartbeatInterval <= 0 || c.Server.ConnectionTimeout <= 0 {
		return errors.New("server intervals must be positive")
	}

	reg := types.Registration{HardwareID: c.Identity.HardwareID, Name: c.Identity.Name}
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}

	if c.Notifications.WarningMinutes < 0 {
		return errors.New("notifications warning_minutes cannot be negative")
	}

	return c.Logging.validate()
}

// Registration returns the identity announced to the server
func (c *ClientConfig) Registration() types.Registration {
	return types.Registration{
		HardwareID: c.Identity.HardwareID,
		Name:       c.Identity.Name,
		MACAddress: c.Identity.MACAddress,
	}
}

// firstHardwareAddr returns the MAC of the first up, non-loopback interface
func firstHardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
