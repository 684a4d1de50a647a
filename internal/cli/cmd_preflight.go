package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ovpnwg/internal/config"
	"ovpnwg/internal/platform"
	"ovpnwg/internal/preflight"
)

func newPreflightCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check that the host can run the gateway, without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv()

			checks := preflight.Run(cmd.Context(), cfg, platform.DefaultPaths())
			if !printChecks(checks) {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", platform.ConfigFile, "path to the YAML config")
	return cmd
}

// printChecks prints check results with colored markers and reports whether
// all of them passed.
func printChecks(checks []preflight.Check) bool {
	allPassed := true
	for _, c := range checks {
		if c.Passed {
			printPass(fmt.Sprintf("%s: %s", c.Name, c.Detail))
		} else {
			printFail(fmt.Sprintf("%s: %s", c.Name, c.Detail))
			allPassed = false
		}
	}
	return allPassed
}

func printPass(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printFail(msg string) {
	fmt.Printf("  \033[31m✗\033[0m %s\n", msg)
}
