package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"ovpnwg/internal/cli"
)

var version = "dev"

func main() {
	// Optional .env next to the binary, so OVPNWG_PUBLIC_HOST and friends
	// can live in a file instead of the unit definition.
	_ = godotenv.Load()

	cli.SetVersion(version)
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
