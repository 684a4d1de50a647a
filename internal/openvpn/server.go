// Package openvpn renders the downstream server configuration and the
// self-contained peer profiles, and hands the process over to the server
// binary.
package openvpn

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ServerConf carries everything the server configuration render needs.
// Credential paths point into the store; the server reads them at startup.
type ServerConf struct {
	Port              int
	Proto             string
	Device            string
	Subnet            string
	CACertPath        string
	CertPath          string
	KeyPath           string
	TLSCryptPath      string
	Cipher            string
	Auth              string
	TLSMinVersion     string
	PushDNS           []string
	KeepaliveInterval int
	KeepaliveTimeout  int
	Verb              int
}

// WriteServerConf renders the server configuration to path, overwriting any
// previous render. The file is derived state: the YAML config and the
// credential store are the sources of truth, so a stale render must never
// survive a config change.
func WriteServerConf(path string, sc ServerConf) error {
	server, err := serverDirective(sc.Subnet)
	if err != nil {
		return err
	}

	lines := []string{
		fmt.Sprintf("port %d", sc.Port),
		"proto " + sc.Proto,
		"dev " + sc.Device,
		"topology subnet",
		server,
		"",
		"ca " + sc.CACertPath,
		"cert " + sc.CertPath,
		"key " + sc.KeyPath,
		"dh none",
		"ecdh-curve prime256v1",
		"tls-crypt " + sc.TLSCryptPath,
		"",
		"cipher " + sc.Cipher,
		"data-ciphers " + sc.Cipher,
		"auth " + sc.Auth,
		"tls-version-min " + sc.TLSMinVersion,
		"",
		`push "redirect-gateway def1 bypass-dhcp"`,
	}
	for _, dns := range sc.PushDNS {
		lines = append(lines, fmt.Sprintf(`push "dhcp-option DNS %s"`, dns))
	}
	lines = append(lines,
		fmt.Sprintf("keepalive %d %d", sc.KeepaliveInterval, sc.KeepaliveTimeout),
		"persist-key",
		"persist-tun",
		"user nobody",
		"group nogroup",
		fmt.Sprintf("verb %d", sc.Verb),
		"status /tmp/openvpn-status.log",
	)
	if sc.Proto == "udp" {
		lines = append(lines, "explicit-exit-notify 1")
	}

	content := strings.Join(lines, "\n") + "\n"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create server config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write server config: %w", err)
	}
	return nil
}

// serverDirective renders the subnet as the "server <network> <netmask>"
// directive, which makes the server hand out addresses from that pool.
func serverDirective(subnet string) (string, error) {
	_, ipnet, err := net.ParseCIDR(subnet)
	if err != nil {
		return "", fmt.Errorf("parse subnet %q: %w", subnet, err)
	}
	if ipnet.IP.To4() == nil {
		return "", fmt.Errorf("subnet %q is not IPv4", subnet)
	}
	return fmt.Sprintf("server %s %s", ipnet.IP, net.IP(ipnet.Mask)), nil
}
