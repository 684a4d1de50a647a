package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the config from disk. If the file doesn't exist, returns defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to disk.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyEnv overlays OVPNWG_* environment variables onto the config. File
// values lose to the environment so container deployments can run without
// a config file at all.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("OVPNWG_PUBLIC_HOST"); v != "" {
		c.PublicHost = v
	}
	if v := os.Getenv("OVPNWG_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OVPNWG_SUBNET"); v != "" {
		c.Network.Subnet = v
	}
	if v := os.Getenv("OVPNWG_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.OpenVPN.Port = p
		}
	}
	if v := os.Getenv("OVPNWG_PROTO"); v != "" {
		c.OpenVPN.Proto = v
	}
	if v := os.Getenv("OVPNWG_STRICT_FORWARD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Network.StrictForward = b
		}
	}
}

// reserved routing table ids: 0 unspec, 253 default, 254 main, 255 local.
func reservedTable(id int) bool {
	return id == 0 || id == 253 || id == 254 || id == 255
}

// Validate checks the config for values the startup sequence cannot work
// with. It runs before any kernel or filesystem state is touched.
func (c *Config) Validate() error {
	if c.PublicHost == "" {
		return fmt.Errorf("public host is not set: set OVPNWG_PUBLIC_HOST or public_host in the config file")
	}
	ip, _, err := net.ParseCIDR(c.Network.Subnet)
	if err != nil {
		return fmt.Errorf("invalid subnet %q: %w", c.Network.Subnet, err)
	}
	if ip.To4() == nil {
		return fmt.Errorf("subnet %q: only IPv4 pools are supported", c.Network.Subnet)
	}
	if c.OpenVPN.Port < 1 || c.OpenVPN.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.OpenVPN.Port)
	}
	if c.OpenVPN.Proto != "udp" && c.OpenVPN.Proto != "tcp" {
		return fmt.Errorf("invalid proto %q: must be udp or tcp", c.OpenVPN.Proto)
	}
	if c.OpenVPN.Device == "" {
		return fmt.Errorf("openvpn device is not set")
	}
	if len(c.OpenVPN.Peers) == 0 {
		return fmt.Errorf("at least one peer name is required")
	}
	if c.Routing.Mark == 0 {
		return fmt.Errorf("routing mark must be nonzero")
	}
	if c.Routing.Table < 0 || reservedTable(c.Routing.Table) {
		return fmt.Errorf("routing table %d is reserved", c.Routing.Table)
	}
	if c.Routing.TableName == "" {
		return fmt.Errorf("routing table name is not set")
	}
	return nil
}
