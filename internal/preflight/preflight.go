// Package preflight verifies the host can run the gateway before anything
// gets mutated: required binaries, the tun device, the upstream descriptor,
// DNS for the public host and tunnel endpoints, and a writable state
// directory.
package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"ovpnwg/internal/config"
	"ovpnwg/internal/platform"
	"ovpnwg/internal/wgtunnel"
)

// Check is a single preflight check outcome.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Run performs all checks and returns the results. It never mutates kernel
// or filesystem state.
func Run(ctx context.Context, cfg *config.Config, paths platform.Paths) []Check {
	resolver := NewResolver(cfg.Preflight.Resolver)

	checks := []Check{
		checkBinary(cfg.OpenVPN.Binary),
		checkBinary("iptables"),
		checkBinary("sysctl"),
		checkTunDevice(),
		checkDescriptor(paths.UpstreamConf),
		checkPublicHost(ctx, resolver, cfg.PublicHost),
		checkStateDir(paths),
	}
	checks = append(checks, checkEndpoints(ctx, resolver, paths.UpstreamConf)...)
	return checks
}

func checkBinary(name string) Check {
	c := Check{Name: name}
	path, err := exec.LookPath(name)
	if err != nil {
		c.Detail = "not found in PATH"
		return c
	}
	c.Passed = true
	c.Detail = path
	return c
}

func checkTunDevice() Check {
	c := Check{Name: "tun device"}
	if _, err := os.Stat("/dev/net/tun"); err != nil {
		c.Detail = "/dev/net/tun is missing"
		return c
	}
	c.Passed = true
	c.Detail = "/dev/net/tun"
	return c
}

func checkDescriptor(path string) Check {
	c := Check{Name: "upstream descriptor"}
	d, err := wgtunnel.Load(path)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	if err := d.Validate(); err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Passed = true
	c.Detail = fmt.Sprintf("%s: %d peer(s)", path, len(d.Peers))
	return c
}

func checkPublicHost(ctx context.Context, r *Resolver, host string) Check {
	c := Check{Name: "public host"}
	if host == "" {
		c.Detail = "OVPNWG_PUBLIC_HOST is not set"
		return c
	}
	ips, err := r.Resolve(ctx, host)
	if err != nil {
		c.Detail = err.Error()
		return c
	}
	c.Passed = true
	c.Detail = fmt.Sprintf("%s resolves to %s", host, ips[0])
	return c
}

// checkEndpoints resolves every peer endpoint in the descriptor. A load
// failure is not reported here; the descriptor check covers it.
func checkEndpoints(ctx context.Context, r *Resolver, path string) []Check {
	d, err := wgtunnel.Load(path)
	if err != nil {
		return nil
	}

	var checks []Check
	for i, peer := range d.Peers {
		if peer.Endpoint == "" {
			continue
		}
		c := Check{Name: fmt.Sprintf("peer %d endpoint", i+1)}
		host, _, err := net.SplitHostPort(peer.Endpoint)
		if err != nil {
			c.Detail = err.Error()
			checks = append(checks, c)
			continue
		}
		if _, err := r.Resolve(ctx, host); err != nil {
			c.Detail = err.Error()
			checks = append(checks, c)
			continue
		}
		c.Passed = true
		c.Detail = peer.Endpoint
		checks = append(checks, c)
	}
	return checks
}

func checkStateDir(paths platform.Paths) Check {
	c := Check{Name: "state dir"}
	dir := filepath.Dir(paths.ServerConfFile)

	// The directory usually does not exist before the first run; probe the
	// nearest existing parent instead.
	probe := dir
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	if err := unix.Access(probe, unix.W_OK); err != nil {
		c.Detail = fmt.Sprintf("%s is not writable", probe)
		return c
	}
	c.Passed = true
	c.Detail = dir
	return c
}
