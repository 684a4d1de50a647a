package platform

const (
	// Base directories.
	ConfigDir = "/etc/ovpnwg"
	StateDir  = "/var/lib/ovpnwg"

	// Config files.
	ConfigFile = ConfigDir + "/config.yaml"

	// Upstream tunnel descriptor. Mounted into the container; must be
	// writable once so the route-adoption directive can be injected.
	UpstreamConfFile = ConfigDir + "/wg0.conf"

	// Routing table registry.
	RTTablesFile = "/etc/iproute2/rt_tables"
)

// Paths holds the durable filesystem layout. Everything under StateDir must
// survive restarts: first-run versus steady-state behavior is decided purely
// by what exists on disk. Tests point the fields at temp directories.
type Paths struct {
	PKIDir         string // CA, issued certificates, private keys
	ServerConfFile string // rendered OpenVPN server config
	ProfileDir     string // emitted client profiles
	UpstreamConf   string // WireGuard descriptor
	RTTables       string // routing table registry
}

// DefaultPaths returns the standard host layout.
func DefaultPaths() Paths {
	return Paths{
		PKIDir:         StateDir + "/pki",
		ServerConfFile: StateDir + "/server.conf",
		ProfileDir:     StateDir + "/clients",
		UpstreamConf:   UpstreamConfFile,
		RTTables:       RTTablesFile,
	}
}
