package config

// Config is the top-level gateway configuration.
type Config struct {
	Version  int    `yaml:"version"`
	LogLevel string `yaml:"log_level"`

	// PublicHost is the hostname or address clients use to reach the
	// gateway. It has no default: it must come from the config file or
	// from OVPNWG_PUBLIC_HOST.
	PublicHost string `yaml:"public_host"`

	Network   NetworkConfig   `yaml:"network"`
	OpenVPN   OpenVPNConfig   `yaml:"openvpn"`
	Routing   RoutingConfig   `yaml:"routing"`
	Preflight PreflightConfig `yaml:"preflight"`
}

// NetworkConfig holds downstream traffic settings.
type NetworkConfig struct {
	// Subnet is the address pool handed to downstream clients. Every
	// packet sourced from it is steered through the upstream tunnel.
	Subnet string `yaml:"subnet"`

	// StrictForward appends drop rules after the accept pair so forwarded
	// traffic outside the tunnel path is rejected regardless of the host's
	// default FORWARD policy.
	StrictForward bool `yaml:"strict_forward"`
}

// OpenVPNConfig holds downstream server settings.
type OpenVPNConfig struct {
	Port   int    `yaml:"port"`
	Proto  string `yaml:"proto"` // "udp" or "tcp"
	Device string `yaml:"device"`

	Cipher        string `yaml:"cipher"`
	Auth          string `yaml:"auth"`
	TLSMinVersion string `yaml:"tls_version_min"`

	PushDNS           []string `yaml:"push_dns"`
	KeepaliveInterval int      `yaml:"keepalive_interval"`
	KeepaliveTimeout  int      `yaml:"keepalive_timeout"`
	Verb              int      `yaml:"verb"`

	// Peers are the logical client names provisioned at startup. Each gets
	// an issued credential and an emitted connection profile.
	Peers []string `yaml:"peers"`

	// Binary is the server executable name or path.
	Binary string `yaml:"binary"`
}

// RoutingConfig holds the isolated routing domain settings.
type RoutingConfig struct {
	Mark         uint32 `yaml:"mark"`
	Table        int    `yaml:"table"`
	TableName    string `yaml:"table_name"`
	RulePriority int    `yaml:"rule_priority"`
}

// PreflightConfig holds settings used only by preflight checks.
type PreflightConfig struct {
	Resolver string `yaml:"resolver"` // DNS server, "host:port"
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Version:  1,
		LogLevel: "info",
		Network: NetworkConfig{
			Subnet: "10.8.0.0/24",
		},
		OpenVPN: OpenVPNConfig{
			Port:              1194,
			Proto:             "udp",
			Device:            "tun0",
			Cipher:            "AES-256-GCM",
			Auth:              "SHA256",
			TLSMinVersion:     "1.2",
			PushDNS:           []string{"1.1.1.1", "1.0.0.1"},
			KeepaliveInterval: 10,
			KeepaliveTimeout:  120,
			Verb:              3,
			Peers:             []string{"client1"},
			Binary:            "openvpn",
		},
		Routing: RoutingConfig{
			Mark:         0x50,
			Table:        100,
			TableName:    "ovpnwg",
			RulePriority: 100,
		},
		Preflight: PreflightConfig{
			Resolver: "1.1.1.1:53",
		},
	}
}
