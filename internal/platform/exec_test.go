package platform_test

import (
	"errors"
	"testing"

	"ovpnwg/internal/platform"
)

func TestExitCode(t *testing.T) {
	err := &platform.CmdError{Name: "iptables", Args: []string{"-C", "FORWARD"}, Code: 1}
	if got := platform.ExitCode(err); got != 1 {
		t.Errorf("ExitCode = %d, want 1", got)
	}

	wrapped := errors.New("outer: " + err.Error())
	if got := platform.ExitCode(wrapped); got != -1 {
		t.Errorf("ExitCode for plain error = %d, want -1", got)
	}

	if got := platform.ExitCode(nil); got != -1 {
		t.Errorf("ExitCode for nil = %d, want -1", got)
	}
}

func TestCmdErrorMessage(t *testing.T) {
	err := &platform.CmdError{
		Name:   "sysctl",
		Args:   []string{"-w", "net.ipv4.ip_forward=1"},
		Code:   255,
		Stderr: "permission denied",
		Err:    errors.New("exit status 255"),
	}
	got := err.Error()
	want := "sysctl -w net.ipv4.ip_forward=1: exit status 255: permission denied"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
