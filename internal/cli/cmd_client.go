package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"ovpnwg/internal/config"
	"ovpnwg/internal/gateway"
	"ovpnwg/internal/pki"
	"ovpnwg/internal/platform"
)

func newClientConfigCmd() *cobra.Command {
	var configPath string
	var output string

	cmd := &cobra.Command{
		Use:   "client-config <name>",
		Short: "Issue a peer credential and write its connection profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}

			paths := platform.DefaultPaths()
			store := pki.NewStore(paths.PKIDir)
			if _, err := store.CACertPEM(); err != nil {
				if errors.Is(err, pki.ErrNotProvisioned) {
					return errors.New("credential store not initialized, run 'ovpnwg up' first")
				}
				return err
			}

			if _, err := store.EnsurePeer(peer); err != nil {
				return err
			}

			path := output
			if path == "" {
				path = filepath.Join(paths.ProfileDir, peer+".ovpn")
			}
			if err := gateway.EmitProfile(store, cfg, peer, path); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", platform.ConfigFile, "path to the YAML config")
	cmd.Flags().StringVarP(&output, "output", "o", "", "profile output path (defaults to the profile directory)")
	return cmd
}
