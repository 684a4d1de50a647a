// Package wgtunnel brings up the upstream WireGuard interface from a
// wg-quick style descriptor file, without letting the tunnel adopt the
// host's default route.
package wgtunnel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Descriptor is the parsed form of a wg-quick configuration file. Keys the
// bring-up sequence does not need (DNS, PostUp and friends) are skipped.
type Descriptor struct {
	PrivateKey string
	Addresses  []string
	MTU        int
	Table      string
	Peers      []Peer
}

// Peer is one [Peer] section of a descriptor.
type Peer struct {
	PublicKey           string
	PresharedKey        string
	AllowedIPs          []string
	Endpoint            string
	PersistentKeepalive int
}

// InterfaceName derives the interface name from the descriptor file name,
// the same way wg-quick does: wg0.conf names the interface wg0.
func InterfaceName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".conf")
}

// Load reads and parses the descriptor at path.
func Load(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse reads a descriptor in INI form. Section and key names are matched
// case-insensitively, comment lines start with # or ;.
func Parse(r io.Reader) (*Descriptor, error) {
	d := &Descriptor{}
	var cur *Peer
	section := ""

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			switch section {
			case "interface":
				cur = nil
			case "peer":
				d.Peers = append(d.Peers, Peer{})
				cur = &d.Peers[len(d.Peers)-1]
			default:
				return nil, fmt.Errorf("line %d: unknown section %q", lineNo, line)
			}
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch section {
		case "interface":
			switch key {
			case "privatekey":
				d.PrivateKey = value
			case "address":
				d.Addresses = append(d.Addresses, splitList(value)...)
			case "mtu":
				mtu, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad MTU %q", lineNo, value)
				}
				d.MTU = mtu
			case "table":
				d.Table = value
			}
		case "peer":
			switch key {
			case "publickey":
				cur.PublicKey = value
			case "presharedkey":
				cur.PresharedKey = value
			case "allowedips":
				cur.AllowedIPs = append(cur.AllowedIPs, splitList(value)...)
			case "endpoint":
				cur.Endpoint = value
			case "persistentkeepalive":
				ka, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad PersistentKeepalive %q", lineNo, value)
				}
				cur.PersistentKeepalive = ka
			}
		default:
			return nil, fmt.Errorf("line %d: %q outside of a section", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks that the descriptor carries everything bring-up needs.
func (d *Descriptor) Validate() error {
	if d.PrivateKey == "" {
		return errors.New("descriptor is missing PrivateKey")
	}
	if _, err := wgtypes.ParseKey(d.PrivateKey); err != nil {
		return fmt.Errorf("bad PrivateKey: %w", err)
	}
	if len(d.Addresses) == 0 {
		return errors.New("descriptor has no Address")
	}
	for _, addr := range d.Addresses {
		if _, _, err := net.ParseCIDR(addr); err != nil {
			return fmt.Errorf("bad Address %q: %w", addr, err)
		}
	}
	if len(d.Peers) == 0 {
		return errors.New("descriptor has no [Peer] section")
	}
	for i, p := range d.Peers {
		if p.PublicKey == "" {
			return fmt.Errorf("peer %d is missing PublicKey", i+1)
		}
		if _, err := wgtypes.ParseKey(p.PublicKey); err != nil {
			return fmt.Errorf("peer %d: bad PublicKey: %w", i+1, err)
		}
		if p.PresharedKey != "" {
			if _, err := wgtypes.ParseKey(p.PresharedKey); err != nil {
				return fmt.Errorf("peer %d: bad PresharedKey: %w", i+1, err)
			}
		}
		for _, cidr := range p.AllowedIPs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("peer %d: bad AllowedIPs entry %q: %w", i+1, cidr, err)
			}
		}
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
