package openvpn

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Launch replaces the current process with the server binary. On success it
// never returns: the gateway's pid becomes the server's pid, so supervisors
// see the server's lifetime and exit status directly.
func Launch(binary, configPath string) error {
	path, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("locate %s: %w", binary, err)
	}
	argv := []string{path, "--config", configPath}
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
