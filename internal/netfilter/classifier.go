package netfilter

import (
	"context"
	"fmt"
	"log/slog"

	"ovpnwg/internal/platform"
)

// Params describes the classification applied to downstream traffic.
type Params struct {
	Subnet        string // downstream client subnet, CIDR form
	DownIface     string // interface the downstream server terminates on
	UpIface       string // upstream tunnel interface
	Mark          uint32
	StrictForward bool // drop forwarded traffic that misses the accept pair
}

// Classifier marks downstream packets for policy routing and pins their
// forward and NAT path to the upstream tunnel.
type Classifier struct {
	log    *slog.Logger
	ipt    *IPTables
	runner platform.Runner
}

func NewClassifier(log *slog.Logger) *Classifier {
	return NewClassifierWithDeps(log, platform.ExecRunner{})
}

func NewClassifierWithDeps(log *slog.Logger, runner platform.Runner) *Classifier {
	return &Classifier{log: log, ipt: NewIPTables(runner), runner: runner}
}

// EnableForwarding turns on IPv4 forwarding unless the kernel already has it.
func (c *Classifier) EnableForwarding(ctx context.Context) error {
	out, err := c.runner.Run(ctx, "sysctl", "-n", "net.ipv4.ip_forward")
	if err != nil {
		return fmt.Errorf("read ip_forward: %w", err)
	}
	if out == "1" {
		return nil
	}
	if _, err := c.runner.Run(ctx, "sysctl", "-w", "net.ipv4.ip_forward=1"); err != nil {
		return fmt.Errorf("enable ip_forward: %w", err)
	}
	c.log.Info("enabled net.ipv4.ip_forward")
	return nil
}

// Install applies the classification rules. MASQUERADE is bound to the
// upstream interface only, so traffic that misses the policy route has no
// NAT path and dies instead of leaking out the provider uplink.
func (c *Classifier) Install(ctx context.Context, p Params) error {
	mark := fmt.Sprintf("%#x", p.Mark)

	type rule struct {
		table string
		spec  []string
	}
	rules := []rule{
		{"mangle", []string{"PREROUTING", "-s", p.Subnet, "-j", "MARK", "--set-mark", mark}},
		{"filter", []string{"FORWARD", "-i", p.DownIface, "-o", p.UpIface, "-s", p.Subnet, "-j", "ACCEPT"}},
		{"filter", []string{"FORWARD", "-i", p.UpIface, "-o", p.DownIface, "-d", p.Subnet,
			"-m", "state", "--state", "RELATED,ESTABLISHED", "-j", "ACCEPT"}},
		{"nat", []string{"POSTROUTING", "-s", p.Subnet, "-o", p.UpIface, "-j", "MASQUERADE"}},
	}
	if p.StrictForward {
		// The accept pair above was appended first, so these catch-alls sit
		// below it and only see traffic that missed it.
		rules = append(rules,
			rule{"filter", []string{"FORWARD", "-i", p.DownIface, "-j", "DROP"}},
			rule{"filter", []string{"FORWARD", "-o", p.DownIface, "-j", "DROP"}},
		)
	}

	for _, rule := range rules {
		if err := c.ipt.AppendRule(ctx, rule.table, rule.spec...); err != nil {
			return err
		}
	}

	c.log.Info("classification rules installed",
		"subnet", p.Subnet, "mark", mark, "down", p.DownIface, "up", p.UpIface,
		"strict", p.StrictForward)
	return nil
}
