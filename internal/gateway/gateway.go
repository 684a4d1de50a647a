// Package gateway drives the bring-up sequence: upstream tunnel, credential
// store, server configuration, policy routing, packet classification, peer
// profiles, and finally the hand-over to the downstream server process.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"ovpnwg/internal/config"
	"ovpnwg/internal/netfilter"
	"ovpnwg/internal/openvpn"
	"ovpnwg/internal/pki"
	"ovpnwg/internal/platform"
	"ovpnwg/internal/routing"
	"ovpnwg/internal/wgtunnel"
)

// serverName is the credential name of the downstream server certificate.
const serverName = "server"

// Tunnel realizes the upstream interface and returns its name.
type Tunnel interface {
	BringUp(ctx context.Context, confPath string) (string, error)
}

// Router installs the fwmark policy rule and the isolated default route.
type Router interface {
	EnsureRule(mark uint32, table, priority int) error
	EnsureDefaultRoute(table int, iface string) error
}

// Classifier enables forwarding and installs the packet classification rules.
type Classifier interface {
	EnableForwarding(ctx context.Context) error
	Install(ctx context.Context, p netfilter.Params) error
}

// Gateway holds the stages of the bring-up sequence. The kernel-facing
// stages sit behind interfaces; the credential store and the config renders
// work on plain files and are used directly.
type Gateway struct {
	Config     *config.Config
	Paths      platform.Paths
	Store      *pki.Store
	Tunnel     Tunnel
	Router     Router
	Classifier Classifier
	Launch     func(binary, configPath string) error
	Logger     *slog.Logger
}

// New wires a Gateway against the real kernel interfaces.
func New(cfg *config.Config, paths platform.Paths, logger *slog.Logger) *Gateway {
	return &Gateway{
		Config:     cfg,
		Paths:      paths,
		Store:      pki.NewStore(paths.PKIDir),
		Tunnel:     wgtunnel.NewManager(logger),
		Router:     routing.NewRouter(logger),
		Classifier: netfilter.NewClassifier(logger),
		Launch:     openvpn.Launch,
		Logger:     logger,
	}
}

// Up runs the whole bring-up and, if every stage holds, replaces the process
// with the downstream server. Stages run strictly in order and the first
// failure aborts the run: a partially configured gateway that kept going
// could route client traffic outside the tunnel.
func (g *Gateway) Up(ctx context.Context) error {
	g.Logger.Info("bringing gateway up", "public_host", g.Config.PublicHost)

	// 1. Upstream tunnel.
	upIface, err := g.Tunnel.BringUp(ctx, g.Paths.UpstreamConf)
	if err != nil {
		return fmt.Errorf("upstream tunnel: %w", err)
	}

	// 2. Credentials, created once and reused afterwards.
	if err := g.ensureCredentials(); err != nil {
		return fmt.Errorf("credential store: %w", err)
	}

	// 3. Downstream server configuration, rendered fresh every run.
	if err := g.writeServerConf(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	// 4. Policy routing for marked packets.
	if err := g.setupRouting(upIface); err != nil {
		return fmt.Errorf("policy routing: %w", err)
	}

	// 5. Packet classification and NAT.
	if err := g.Classifier.EnableForwarding(ctx); err != nil {
		return fmt.Errorf("packet classification: %w", err)
	}
	if err := g.Classifier.Install(ctx, netfilter.Params{
		Subnet:        g.Config.Network.Subnet,
		DownIface:     g.Config.OpenVPN.Device,
		UpIface:       upIface,
		Mark:          g.Config.Routing.Mark,
		StrictForward: g.Config.Network.StrictForward,
	}); err != nil {
		return fmt.Errorf("packet classification: %w", err)
	}

	// 6. Peer profiles.
	for _, peer := range g.Config.OpenVPN.Peers {
		path := filepath.Join(g.Paths.ProfileDir, peer+".ovpn")
		if err := EmitProfile(g.Store, g.Config, peer, path); err != nil {
			return fmt.Errorf("peer profile %s: %w", peer, err)
		}
		g.Logger.Info("peer profile ready", "peer", peer, "path", path)
	}

	// 7. Hand the process over to the server.
	g.Logger.Info("launching downstream server",
		"binary", g.Config.OpenVPN.Binary, "config", g.Paths.ServerConfFile)
	if err := g.Launch(g.Config.OpenVPN.Binary, g.Paths.ServerConfFile); err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	return nil
}

func (g *Gateway) ensureCredentials() error {
	ca, err := g.Store.EnsureCA()
	if err != nil {
		return err
	}
	g.logOutcome("certificate authority", ca.Created)

	server, err := g.Store.EnsureServer(serverName)
	if err != nil {
		return err
	}
	g.logOutcome("server certificate", server.Created)

	for _, peer := range g.Config.OpenVPN.Peers {
		cred, err := g.Store.EnsurePeer(peer)
		if err != nil {
			return err
		}
		g.logOutcome("peer certificate "+peer, cred.Created)
	}

	created, err := g.Store.EnsurePreAuthKey()
	if err != nil {
		return err
	}
	g.logOutcome("tls-crypt key", created)
	return nil
}

func (g *Gateway) logOutcome(what string, created bool) {
	if created {
		g.Logger.Info(what + " created")
	} else {
		g.Logger.Info(what + " reused")
	}
}

func (g *Gateway) writeServerConf() error {
	return openvpn.WriteServerConf(g.Paths.ServerConfFile, openvpn.ServerConf{
		Port:              g.Config.OpenVPN.Port,
		Proto:             g.Config.OpenVPN.Proto,
		Device:            g.Config.OpenVPN.Device,
		Subnet:            g.Config.Network.Subnet,
		CACertPath:        g.Store.CACertPath(),
		CertPath:          g.Store.CertPath(serverName),
		KeyPath:           g.Store.KeyPath(serverName),
		TLSCryptPath:      g.Store.PreAuthKeyPath(),
		Cipher:            g.Config.OpenVPN.Cipher,
		Auth:              g.Config.OpenVPN.Auth,
		TLSMinVersion:     g.Config.OpenVPN.TLSMinVersion,
		PushDNS:           g.Config.OpenVPN.PushDNS,
		KeepaliveInterval: g.Config.OpenVPN.KeepaliveInterval,
		KeepaliveTimeout:  g.Config.OpenVPN.KeepaliveTimeout,
		Verb:              g.Config.OpenVPN.Verb,
	})
}

func (g *Gateway) setupRouting(upIface string) error {
	added, err := routing.EnsureTableName(g.Paths.RTTables, g.Config.Routing.Table, g.Config.Routing.TableName)
	if err != nil {
		return err
	}
	if added {
		g.Logger.Info("routing table registered",
			"id", g.Config.Routing.Table, "name", g.Config.Routing.TableName)
	}

	if err := g.Router.EnsureRule(g.Config.Routing.Mark, g.Config.Routing.Table, g.Config.Routing.RulePriority); err != nil {
		return err
	}
	return g.Router.EnsureDefaultRoute(g.Config.Routing.Table, upIface)
}

// EmitProfile renders the self-contained connection profile for peer into
// path. The peer's credentials must already exist in the store.
func EmitProfile(store *pki.Store, cfg *config.Config, peer, path string) error {
	ca, err := store.CACertPEM()
	if err != nil {
		return err
	}
	cert, err := store.CertPEM(peer)
	if err != nil {
		return err
	}
	key, err := store.KeyPEM(peer)
	if err != nil {
		return err
	}
	tlsCrypt, err := store.PreAuthKey()
	if err != nil {
		return err
	}
	return openvpn.WriteProfile(path, openvpn.Profile{
		RemoteHost:    cfg.PublicHost,
		RemotePort:    cfg.OpenVPN.Port,
		Proto:         cfg.OpenVPN.Proto,
		Cipher:        cfg.OpenVPN.Cipher,
		Auth:          cfg.OpenVPN.Auth,
		TLSMinVersion: cfg.OpenVPN.TLSMinVersion,
		Verb:          cfg.OpenVPN.Verb,
		CACert:        ca,
		Cert:          cert,
		Key:           key,
		TLSCrypt:      tlsCrypt,
	})
}
