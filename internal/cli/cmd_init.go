package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ovpnwg/internal/config"
	"ovpnwg/internal/platform"
)

func newInitCmd() *cobra.Command {
	var configPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				if _, err := os.Stat(configPath); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
				}
			}
			cfg := config.Defaults()
			if err := config.Save(configPath, &cfg); err != nil {
				return err
			}
			fmt.Println(configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", platform.ConfigFile, "path to the YAML config")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}
