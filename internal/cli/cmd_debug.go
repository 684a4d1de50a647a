package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"ovpnwg/internal/config"
	"ovpnwg/internal/platform"
	"ovpnwg/internal/wgtunnel"
)

func newDebugCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Dump diagnostic information for troubleshooting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.ApplyEnv()

			fmt.Println("=== ovpnwg debug ===")
			fmt.Printf("Version: %s\n\n", version)

			debugConfig(cfg)
			debugInterfaces(ctx, platform.DefaultPaths())
			debugRouting(ctx, cfg)
			debugNetfilter(ctx)

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", platform.ConfigFile, "path to the YAML config")
	return cmd
}

func debugConfig(cfg *config.Config) {
	fmt.Println("--- Config ---")
	fmt.Printf("Public host: %s\n", cfg.PublicHost)
	fmt.Printf("Subnet:      %s\n", cfg.Network.Subnet)
	fmt.Printf("Listen:      %d/%s\n", cfg.OpenVPN.Port, cfg.OpenVPN.Proto)
	fmt.Printf("Device:      %s\n", cfg.OpenVPN.Device)
	fmt.Printf("Mark:        %#x\n", cfg.Routing.Mark)
	fmt.Printf("Table:       %d (%s)\n", cfg.Routing.Table, cfg.Routing.TableName)
	fmt.Printf("Strict:      %v\n", cfg.Network.StrictForward)
	fmt.Println()
}

func debugInterfaces(ctx context.Context, paths platform.Paths) {
	fmt.Println("--- Interfaces ---")
	printCmd(ctx, "ip", "-brief", "addr")
	printCmd(ctx, "wg", "show", wgtunnel.InterfaceName(paths.UpstreamConf))
	fmt.Println()
}

func debugRouting(ctx context.Context, cfg *config.Config) {
	fmt.Println("--- Routing ---")
	printCmd(ctx, "ip", "rule", "show")
	printCmd(ctx, "ip", "route", "show", "table", strconv.Itoa(cfg.Routing.Table))
	fmt.Println()
}

func debugNetfilter(ctx context.Context) {
	fmt.Println("--- Netfilter ---")
	printCmd(ctx, "iptables", "-t", "mangle", "-S", "PREROUTING")
	printCmd(ctx, "iptables", "-S", "FORWARD")
	printCmd(ctx, "iptables", "-t", "nat", "-S", "POSTROUTING")
	fmt.Println()
}

func printCmd(ctx context.Context, name string, args ...string) {
	out, err := platform.Run(ctx, name, args...)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(out)
}
