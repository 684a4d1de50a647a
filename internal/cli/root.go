package cli

import (
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ovpnwg",
		Short: "OpenVPN gateway with policy-routed WireGuard egress",
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newPreflightCmd(),
		newUpCmd(),
		newClientConfigCmd(),
		newDebugCmd(),
	)

	return root
}

// SetVersion sets the version string (called from main).
func SetVersion(v string) {
	version = v
}
