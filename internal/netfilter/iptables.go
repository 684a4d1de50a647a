// Package netfilter installs the iptables rules that classify downstream
// traffic: mark it on ingress, permit the forward path, and masquerade it
// out the upstream tunnel only.
package netfilter

import (
	"context"
	"fmt"

	"ovpnwg/internal/platform"
)

// IPTables manages netfilter rules through the iptables binary. Every rule
// is checked with -C before it is appended, so reruns never stack
// duplicates.
type IPTables struct {
	runner platform.Runner
}

func NewIPTables(runner platform.Runner) *IPTables {
	return &IPTables{runner: runner}
}

// RuleExists probes for a rule with iptables -C. The binary exits 1 when the
// rule is absent; any other failure means the check itself did not run and
// is returned as an error instead of being read as "rule missing".
func (ipt *IPTables) RuleExists(ctx context.Context, table string, ruleSpec ...string) (bool, error) {
	args := append([]string{"-t", table, "-C"}, ruleSpec...)
	_, err := ipt.runner.Run(ctx, "iptables", args...)
	if err == nil {
		return true, nil
	}
	if platform.ExitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check rule in %s: %w", table, err)
}

// AppendRule adds a rule unless it is already present.
func (ipt *IPTables) AppendRule(ctx context.Context, table string, ruleSpec ...string) error {
	exists, err := ipt.RuleExists(ctx, table, ruleSpec...)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	args := append([]string{"-t", table, "-A"}, ruleSpec...)
	if _, err := ipt.runner.Run(ctx, "iptables", args...); err != nil {
		return fmt.Errorf("append rule to %s: %w", table, err)
	}
	return nil
}
