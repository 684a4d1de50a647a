package wgtunnel_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vishvananda/netlink"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"ovpnwg/internal/wgtunnel"
)

type fakeNetlink struct {
	links    map[string]netlink.Link
	nextIdx  int
	added    []string
	deleted  []string
	up       []string
	addrs    []string
	mtus     []int
	addrErrs map[string]error
	mtuErr   error
	upErr    error
}

func newFakeNetlink() *fakeNetlink {
	return &fakeNetlink{
		links:    map[string]netlink.Link{},
		addrErrs: map[string]error{},
	}
}

func (f *fakeNetlink) addLink(name string) {
	f.nextIdx++
	f.links[name] = &netlink.GenericLink{
		LinkAttrs: netlink.LinkAttrs{Name: name, Index: f.nextIdx},
		LinkType:  "wireguard",
	}
}

func (f *fakeNetlink) LinkByName(name string) (netlink.Link, error) {
	link, ok := f.links[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, wgtunnel.ErrLinkNotFound)
	}
	return link, nil
}

func (f *fakeNetlink) LinkAdd(link netlink.Link) error {
	name := link.Attrs().Name
	f.added = append(f.added, name)
	f.addLink(name)
	return nil
}

func (f *fakeNetlink) LinkDel(link netlink.Link) error {
	name := link.Attrs().Name
	f.deleted = append(f.deleted, name)
	delete(f.links, name)
	return nil
}

func (f *fakeNetlink) LinkSetUp(link netlink.Link) error {
	if f.upErr != nil {
		return f.upErr
	}
	f.up = append(f.up, link.Attrs().Name)
	return nil
}

func (f *fakeNetlink) LinkSetMTU(link netlink.Link, mtu int) error {
	if f.mtuErr != nil {
		return f.mtuErr
	}
	f.mtus = append(f.mtus, mtu)
	return nil
}

func (f *fakeNetlink) AddrAdd(link netlink.Link, addr *netlink.Addr) error {
	if err := f.addrErrs[addr.IPNet.String()]; err != nil {
		return err
	}
	f.addrs = append(f.addrs, addr.IPNet.String())
	return nil
}

type fakeWG struct {
	name string
	cfg  wgtypes.Config
	err  error
}

func (f *fakeWG) ConfigureDevice(name string, cfg wgtypes.Config) error {
	if f.err != nil {
		return f.err
	}
	f.name = name
	f.cfg = cfg
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noLookup(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nil, fmt.Errorf("unexpected lookup of %s", host)
}

func tunnelConf(t *testing.T, endpoint string) (string, wgtypes.Key, wgtypes.Key) {
	t.Helper()
	priv := genKey(t)
	pub := genKey(t).PublicKey()
	conf := fmt.Sprintf(`[Interface]
PrivateKey = %s
Address = 10.100.0.2/32
MTU = 1420
Table = off

[Peer]
PublicKey = %s
AllowedIPs = 0.0.0.0/0
Endpoint = %s
PersistentKeepalive = 25
`, priv, pub, endpoint)

	path := filepath.Join(t.TempDir(), "wg0.conf")
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}
	return path, priv, pub
}

func TestBringUp(t *testing.T) {
	path, priv, pub := tunnelConf(t, "203.0.113.7:51820")
	nl := newFakeNetlink()
	wg := &fakeWG{}
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, wg, noLookup)

	name, err := m.BringUp(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if name != "wg0" {
		t.Errorf("name = %q, want wg0", name)
	}
	if len(nl.added) != 1 || nl.added[0] != "wg0" {
		t.Errorf("added links = %v, want [wg0]", nl.added)
	}

	if wg.name != "wg0" {
		t.Errorf("configured device = %q, want wg0", wg.name)
	}
	if !wg.cfg.ReplacePeers {
		t.Error("ReplacePeers = false, want true")
	}
	if wg.cfg.PrivateKey == nil || *wg.cfg.PrivateKey != priv {
		t.Error("private key was not passed through")
	}
	if len(wg.cfg.Peers) != 1 {
		t.Fatalf("got %d peers, want 1", len(wg.cfg.Peers))
	}
	peer := wg.cfg.Peers[0]
	if peer.PublicKey != pub {
		t.Error("peer public key was not passed through")
	}
	if !peer.ReplaceAllowedIPs {
		t.Error("ReplaceAllowedIPs = false, want true")
	}
	if len(peer.AllowedIPs) != 1 || peer.AllowedIPs[0].String() != "0.0.0.0/0" {
		t.Errorf("allowed ips = %v", peer.AllowedIPs)
	}
	if peer.Endpoint == nil || peer.Endpoint.String() != "203.0.113.7:51820" {
		t.Errorf("endpoint = %v, want 203.0.113.7:51820", peer.Endpoint)
	}
	if peer.PersistentKeepaliveInterval == nil || *peer.PersistentKeepaliveInterval != 25*time.Second {
		t.Errorf("keepalive = %v, want 25s", peer.PersistentKeepaliveInterval)
	}

	if len(nl.addrs) != 1 || nl.addrs[0] != "10.100.0.2/32" {
		t.Errorf("addresses = %v, want [10.100.0.2/32]", nl.addrs)
	}
	if len(nl.mtus) != 1 || nl.mtus[0] != 1420 {
		t.Errorf("mtus = %v, want [1420]", nl.mtus)
	}
	if len(nl.up) != 1 || nl.up[0] != "wg0" {
		t.Errorf("up links = %v, want [wg0]", nl.up)
	}
}

func TestBringUpDeletesStaleInterface(t *testing.T) {
	path, _, _ := tunnelConf(t, "203.0.113.7:51820")
	nl := newFakeNetlink()
	nl.addLink("wg0")
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{}, noLookup)

	if _, err := m.BringUp(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if len(nl.deleted) != 1 || nl.deleted[0] != "wg0" {
		t.Errorf("deleted links = %v, want [wg0]", nl.deleted)
	}
	if len(nl.added) != 1 {
		t.Errorf("added links = %v, want one entry", nl.added)
	}
}

func TestBringUpResolvesHostnameEndpoint(t *testing.T) {
	path, _, _ := tunnelConf(t, "relay.example.net:51820")
	nl := newFakeNetlink()
	wg := &fakeWG{}
	lookup := func(ctx context.Context, host string) ([]net.IPAddr, error) {
		if host != "relay.example.net" {
			return nil, fmt.Errorf("unexpected host %q", host)
		}
		return []net.IPAddr{{IP: net.ParseIP("192.0.2.10")}}, nil
	}
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, wg, lookup)

	if _, err := m.BringUp(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	peer := wg.cfg.Peers[0]
	if peer.Endpoint == nil || peer.Endpoint.String() != "192.0.2.10:51820" {
		t.Errorf("endpoint = %v, want 192.0.2.10:51820", peer.Endpoint)
	}
}

func TestBringUpToleratesExistingAddress(t *testing.T) {
	path, _, _ := tunnelConf(t, "203.0.113.7:51820")
	nl := newFakeNetlink()
	nl.addrErrs["10.100.0.2/32"] = errors.New("file exists")
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{}, noLookup)

	if _, err := m.BringUp(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if len(nl.up) != 1 {
		t.Error("interface was not brought up")
	}
}

func TestBringUpAddressFailuresAreBestEffort(t *testing.T) {
	priv := genKey(t)
	pub := genKey(t).PublicKey()
	conf := fmt.Sprintf(`[Interface]
PrivateKey = %s
Address = 10.100.0.2/32, fd42::2/128
Table = off

[Peer]
PublicKey = %s
AllowedIPs = 0.0.0.0/0
Endpoint = 203.0.113.7:51820
`, priv, pub)
	path := filepath.Join(t.TempDir(), "wg0.conf")
	if err := os.WriteFile(path, []byte(conf), 0600); err != nil {
		t.Fatal(err)
	}

	nl := newFakeNetlink()
	nl.addrErrs["fd42::2/128"] = errors.New("permission denied")
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{}, noLookup)

	if _, err := m.BringUp(context.Background(), path); err != nil {
		t.Fatalf("single address failure became fatal: %v", err)
	}
	if len(nl.addrs) != 1 || nl.addrs[0] != "10.100.0.2/32" {
		t.Errorf("addresses = %v, want [10.100.0.2/32]", nl.addrs)
	}
	if len(nl.up) != 1 {
		t.Error("interface was not brought up")
	}
}

func TestBringUpFailsWhenNoAddressAssigned(t *testing.T) {
	path, _, _ := tunnelConf(t, "203.0.113.7:51820")
	nl := newFakeNetlink()
	nl.addrErrs["10.100.0.2/32"] = errors.New("permission denied")
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{}, noLookup)

	_, err := m.BringUp(context.Background(), path)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(nl.up) != 0 {
		t.Error("interface was brought up without any address")
	}
}

func TestBringUpMTUFailureIsNotFatal(t *testing.T) {
	path, _, _ := tunnelConf(t, "203.0.113.7:51820")
	nl := newFakeNetlink()
	nl.mtuErr = errors.New("operation not supported")
	m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{}, noLookup)

	if _, err := m.BringUp(context.Background(), path); err != nil {
		t.Fatalf("mtu failure became fatal: %v", err)
	}
	if len(nl.up) != 1 {
		t.Error("interface was not brought up")
	}
}

func TestBringUpFailures(t *testing.T) {
	t.Run("missing descriptor", func(t *testing.T) {
		m := wgtunnel.NewManagerWithDeps(testLogger(), newFakeNetlink(), &fakeWG{}, noLookup)
		if _, err := m.BringUp(context.Background(), filepath.Join(t.TempDir(), "absent.conf")); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("configure fails", func(t *testing.T) {
		path, _, _ := tunnelConf(t, "203.0.113.7:51820")
		nl := newFakeNetlink()
		m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{err: errors.New("no such device")}, noLookup)
		if _, err := m.BringUp(context.Background(), path); err == nil {
			t.Error("expected error, got nil")
		}
		if len(nl.up) != 0 {
			t.Error("interface was brought up after a failed configure")
		}
	})

	t.Run("link up fails", func(t *testing.T) {
		path, _, _ := tunnelConf(t, "203.0.113.7:51820")
		nl := newFakeNetlink()
		nl.upErr = errors.New("device busy")
		m := wgtunnel.NewManagerWithDeps(testLogger(), nl, &fakeWG{}, noLookup)
		if _, err := m.BringUp(context.Background(), path); err == nil {
			t.Error("expected error, got nil")
		}
	})
}
