package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes external commands. Kernel-facing code takes a Runner so
// tests can observe invocations without privileged access.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner is the Runner used outside of tests.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return Run(ctx, name, args...)
}

// CmdError describes a failed external command.
type CmdError struct {
	Name   string
	Args   []string
	Code   int // process exit status, -1 if the process never ran
	Stderr string
	Err    error
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("%s %s: %v: %s", e.Name, strings.Join(e.Args, " "), e.Err, e.Stderr)
}

func (e *CmdError) Unwrap() error { return e.Err }

// ExitCode extracts the process exit status from an error returned by Run.
// Returns -1 for errors that don't carry one.
func ExitCode(err error) int {
	var cerr *CmdError
	if errors.As(err, &cerr) {
		return cerr.Code
	}
	return -1
}

// Run executes a command and returns its trimmed stdout.
func Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		code := -1
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			code = exit.ExitCode()
		}
		return "", &CmdError{
			Name:   name,
			Args:   args,
			Code:   code,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunSilent executes a command and only returns an error if it fails.
func RunSilent(ctx context.Context, name string, args ...string) error {
	_, err := Run(ctx, name, args...)
	return err
}
