package wgtunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ErrLinkNotFound is returned by Netlinker.LinkByName when no interface with
// the requested name exists.
var ErrLinkNotFound = errors.New("link not found")

// Netlinker is the slice of netlink the bring-up sequence needs.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	LinkAdd(link netlink.Link) error
	LinkDel(link netlink.Link) error
	LinkSetUp(link netlink.Link) error
	LinkSetMTU(link netlink.Link, mtu int) error
	AddrAdd(link netlink.Link, addr *netlink.Addr) error
}

// DeviceConfigurator pushes a WireGuard device configuration into the kernel.
type DeviceConfigurator interface {
	ConfigureDevice(name string, cfg wgtypes.Config) error
}

type realNetlink struct{}

func (realNetlink) LinkByName(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrLinkNotFound)
		}
		return nil, err
	}
	return link, nil
}

func (realNetlink) LinkAdd(link netlink.Link) error   { return netlink.LinkAdd(link) }
func (realNetlink) LinkDel(link netlink.Link) error   { return netlink.LinkDel(link) }
func (realNetlink) LinkSetUp(link netlink.Link) error { return netlink.LinkSetUp(link) }
func (realNetlink) LinkSetMTU(link netlink.Link, mtu int) error {
	return netlink.LinkSetMTU(link, mtu)
}
func (realNetlink) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	return netlink.AddrAdd(link, addr)
}

// wgctrlConfigurator opens a short-lived wgctrl client per call. Bring-up
// configures the device exactly once, so holding a client open buys nothing.
type wgctrlConfigurator struct{}

func (wgctrlConfigurator) ConfigureDevice(name string, cfg wgtypes.Config) error {
	client, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("open wireguard control socket: %w", err)
	}
	defer client.Close()
	return client.ConfigureDevice(name, cfg)
}

// Manager realizes upstream tunnel interfaces from descriptor files.
type Manager struct {
	log      *slog.Logger
	nl       Netlinker
	wg       DeviceConfigurator
	lookupIP func(ctx context.Context, host string) ([]net.IPAddr, error)
}

func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:      log,
		nl:       realNetlink{},
		wg:       wgctrlConfigurator{},
		lookupIP: net.DefaultResolver.LookupIPAddr,
	}
}

// NewManagerWithDeps wires explicit kernel seams, so the bring-up sequence
// can run against fakes.
func NewManagerWithDeps(log *slog.Logger, nl Netlinker, wg DeviceConfigurator, lookupIP func(context.Context, string) ([]net.IPAddr, error)) *Manager {
	return &Manager{log: log, nl: nl, wg: wg, lookupIP: lookupIP}
}

// BringUp realizes the interface described by the descriptor at confPath and
// returns its name. A stale interface with the same name is deleted first so
// the resulting device always matches the descriptor. The interface comes up
// addressed and configured but contributes no routes; route installation
// stays with the policy routing stage.
func (m *Manager) BringUp(ctx context.Context, confPath string) (string, error) {
	changed, err := EnsureTableOff(confPath)
	if err != nil {
		return "", err
	}
	if changed {
		m.log.Info("descriptor updated with Table = off", "path", confPath)
	}

	d, err := Load(confPath)
	if err != nil {
		return "", err
	}
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%s: %w", confPath, err)
	}

	name := InterfaceName(confPath)
	if err := m.deleteStale(name); err != nil {
		return "", err
	}

	if err := m.nl.LinkAdd(&netlink.Wireguard{LinkAttrs: netlink.LinkAttrs{Name: name}}); err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	// LinkAdd does not fill in the kernel-assigned attributes.
	link, err := m.nl.LinkByName(name)
	if err != nil {
		return "", fmt.Errorf("lookup %s after create: %w", name, err)
	}

	cfg, err := m.deviceConfig(ctx, d)
	if err != nil {
		return "", err
	}
	if err := m.wg.ConfigureDevice(name, cfg); err != nil {
		return "", fmt.Errorf("configure %s: %w", name, err)
	}

	// Address assignment is best effort per address: a v6 address can fail
	// on a v4-only host while the v4 address still carries traffic. Only a
	// fully unaddressed interface is useless.
	assigned := 0
	for _, cidr := range d.Addresses {
		addr, err := netlink.ParseAddr(cidr)
		if err != nil {
			return "", fmt.Errorf("parse address %q: %w", cidr, err)
		}
		err = m.nl.AddrAdd(link, addr)
		switch {
		case err == nil:
			assigned++
		case strings.Contains(err.Error(), "exists"):
			assigned++
		default:
			m.log.Warn("assign address failed", "interface", name, "address", cidr, "error", err)
		}
	}
	if assigned == 0 {
		return "", fmt.Errorf("no address could be assigned to %s", name)
	}

	if d.MTU > 0 {
		if err := m.nl.LinkSetMTU(link, d.MTU); err != nil {
			m.log.Warn("set mtu failed", "interface", name, "mtu", d.MTU, "error", err)
		}
	}

	if err := m.nl.LinkSetUp(link); err != nil {
		return "", fmt.Errorf("bring up %s: %w", name, err)
	}
	m.log.Info("upstream interface up", "interface", name, "peers", len(d.Peers))
	return name, nil
}

func (m *Manager) deleteStale(name string) error {
	link, err := m.nl.LinkByName(name)
	if errors.Is(err, ErrLinkNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	m.log.Info("deleting stale interface", "interface", name)
	if err := m.nl.LinkDel(link); err != nil {
		return fmt.Errorf("delete stale %s: %w", name, err)
	}
	return nil
}

func (m *Manager) deviceConfig(ctx context.Context, d *Descriptor) (wgtypes.Config, error) {
	key, err := wgtypes.ParseKey(d.PrivateKey)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("parse private key: %w", err)
	}
	cfg := wgtypes.Config{
		PrivateKey:   &key,
		ReplacePeers: true,
	}
	for i := range d.Peers {
		peer, err := m.peerConfig(ctx, &d.Peers[i])
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("peer %d: %w", i+1, err)
		}
		cfg.Peers = append(cfg.Peers, peer)
	}
	return cfg, nil
}

func (m *Manager) peerConfig(ctx context.Context, p *Peer) (wgtypes.PeerConfig, error) {
	pub, err := wgtypes.ParseKey(p.PublicKey)
	if err != nil {
		return wgtypes.PeerConfig{}, fmt.Errorf("parse public key: %w", err)
	}
	peer := wgtypes.PeerConfig{
		PublicKey:         pub,
		ReplaceAllowedIPs: true,
	}
	if p.PresharedKey != "" {
		psk, err := wgtypes.ParseKey(p.PresharedKey)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("parse preshared key: %w", err)
		}
		peer.PresharedKey = &psk
	}
	for _, cidr := range p.AllowedIPs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("parse AllowedIPs entry %q: %w", cidr, err)
		}
		peer.AllowedIPs = append(peer.AllowedIPs, *ipnet)
	}
	if p.Endpoint != "" {
		endpoint, err := m.resolveEndpoint(ctx, p.Endpoint)
		if err != nil {
			return wgtypes.PeerConfig{}, err
		}
		peer.Endpoint = endpoint
	}
	if p.PersistentKeepalive > 0 {
		keepalive := time.Duration(p.PersistentKeepalive) * time.Second
		peer.PersistentKeepaliveInterval = &keepalive
	}
	return peer, nil
}

func (m *Manager) resolveEndpoint(ctx context.Context, endpoint string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint port %q: %w", portStr, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		return &net.UDPAddr{IP: ip, Port: port}, nil
	}
	addrs, err := m.lookupIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve endpoint %s: no addresses", host)
	}
	return &net.UDPAddr{IP: addrs[0].IP, Port: port, Zone: addrs[0].Zone}, nil
}
