package cli

import (
	"github.com/spf13/cobra"

	"ovpnwg/internal/config"
	"ovpnwg/internal/gateway"
	"ovpnwg/internal/platform"
)

func newUpCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Bring the gateway up and hand the process over to OpenVPN",
		Long: `Brings up the upstream WireGuard interface, provisions credentials,
renders the server configuration, installs the policy route and the
packet classification rules, writes peer profiles, and finally replaces
this process with the OpenVPN server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := platform.NewLogger(cfg.LogLevel)
			g := gateway.New(cfg, platform.DefaultPaths(), logger)
			return g.Up(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", platform.ConfigFile, "path to the YAML config")
	return cmd
}
