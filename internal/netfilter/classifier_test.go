package netfilter_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"

	"ovpnwg/internal/netfilter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testParams(strict bool) netfilter.Params {
	return netfilter.Params{
		Subnet:        "10.8.0.0/24",
		DownIface:     "tun0",
		UpIface:       "wg0",
		Mark:          0x50,
		StrictForward: strict,
	}
}

func appends(calls []string) []string {
	var out []string
	for _, call := range calls {
		if strings.Contains(call, " -A ") {
			out = append(out, call)
		}
	}
	return out
}

func TestInstall(t *testing.T) {
	runner := newFakeRunner()
	c := netfilter.NewClassifierWithDeps(testLogger(), runner)

	if err := c.Install(context.Background(), testParams(false)); err != nil {
		t.Fatal(err)
	}

	want := []string{
		"iptables -t mangle -A PREROUTING -s 10.8.0.0/24 -j MARK --set-mark 0x50",
		"iptables -t filter -A FORWARD -i tun0 -o wg0 -s 10.8.0.0/24 -j ACCEPT",
		"iptables -t filter -A FORWARD -i wg0 -o tun0 -d 10.8.0.0/24 -m state --state RELATED,ESTABLISHED -j ACCEPT",
		"iptables -t nat -A POSTROUTING -s 10.8.0.0/24 -o wg0 -j MASQUERADE",
	}
	if got := appends(runner.calls); !slices.Equal(got, want) {
		t.Errorf("appended rules:\n%s\nwant:\n%s",
			strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestInstallChecksBeforeAppending(t *testing.T) {
	runner := newFakeRunner()
	c := netfilter.NewClassifierWithDeps(testLogger(), runner)

	if err := c.Install(context.Background(), testParams(false)); err != nil {
		t.Fatal(err)
	}

	for i, call := range runner.calls {
		if !strings.Contains(call, " -A ") {
			continue
		}
		if i == 0 || runner.calls[i-1] != strings.Replace(call, " -A ", " -C ", 1) {
			t.Errorf("append %q was not preceded by its check", call)
		}
	}
}

func TestInstallSkipsExistingRules(t *testing.T) {
	runner := newFakeRunner()
	runner.existing["iptables -t mangle -C PREROUTING -s 10.8.0.0/24 -j MARK --set-mark 0x50"] = true
	runner.existing["iptables -t nat -C POSTROUTING -s 10.8.0.0/24 -o wg0 -j MASQUERADE"] = true
	c := netfilter.NewClassifierWithDeps(testLogger(), runner)

	if err := c.Install(context.Background(), testParams(false)); err != nil {
		t.Fatal(err)
	}

	got := appends(runner.calls)
	want := []string{
		"iptables -t filter -A FORWARD -i tun0 -o wg0 -s 10.8.0.0/24 -j ACCEPT",
		"iptables -t filter -A FORWARD -i wg0 -o tun0 -d 10.8.0.0/24 -m state --state RELATED,ESTABLISHED -j ACCEPT",
	}
	if !slices.Equal(got, want) {
		t.Errorf("appended rules = %v, want %v", got, want)
	}
}

func TestInstallStrictForward(t *testing.T) {
	runner := newFakeRunner()
	c := netfilter.NewClassifierWithDeps(testLogger(), runner)

	if err := c.Install(context.Background(), testParams(true)); err != nil {
		t.Fatal(err)
	}

	got := appends(runner.calls)
	if len(got) != 6 {
		t.Fatalf("got %d appends, want 6:\n%s", len(got), strings.Join(got, "\n"))
	}
	if got[4] != "iptables -t filter -A FORWARD -i tun0 -j DROP" {
		t.Errorf("rule 5 = %q", got[4])
	}
	if got[5] != "iptables -t filter -A FORWARD -o tun0 -j DROP" {
		t.Errorf("rule 6 = %q", got[5])
	}
}

func TestInstallAbortsOnCheckFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["iptables -t mangle -C PREROUTING -s 10.8.0.0/24 -j MARK --set-mark 0x50"] =
		checkFailure("iptables", "-t", "mangle", "-C", "PREROUTING")
	c := netfilter.NewClassifierWithDeps(testLogger(), runner)

	if err := c.Install(context.Background(), testParams(false)); err == nil {
		t.Fatal("expected error, got nil")
	}
	if len(runner.calls) != 1 {
		t.Errorf("rules kept being applied after a failed check: %v", runner.calls)
	}
}

func TestEnableForwarding(t *testing.T) {
	t.Run("already on", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outs["sysctl -n net.ipv4.ip_forward"] = "1"
		c := netfilter.NewClassifierWithDeps(testLogger(), runner)

		if err := c.EnableForwarding(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(runner.calls) != 1 {
			t.Errorf("calls = %v, want only the read", runner.calls)
		}
	})

	t.Run("off", func(t *testing.T) {
		runner := newFakeRunner()
		runner.outs["sysctl -n net.ipv4.ip_forward"] = "0"
		c := netfilter.NewClassifierWithDeps(testLogger(), runner)

		if err := c.EnableForwarding(context.Background()); err != nil {
			t.Fatal(err)
		}
		want := []string{
			"sysctl -n net.ipv4.ip_forward",
			"sysctl -w net.ipv4.ip_forward=1",
		}
		if !slices.Equal(runner.calls, want) {
			t.Errorf("calls = %v, want %v", runner.calls, want)
		}
	})
}
