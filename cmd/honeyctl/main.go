// Package main implements honeyctl, the operator CLI for honeyagent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "honeyctl",
		Short:         "honeyagent operator tool",
		Long:          `honeyctl validates configuration, mints dev tokens and inspects captured fingerprints.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ./configs/config.yaml)")

	root.AddCommand(validateCmd(&configPath))
	root.AddCommand(mintCmd(&configPath))
	root.AddCommand(fingerprintsCmd(&configPath))
	root.AddCommand(sendCmd())
	root.AddCommand(blockCmd(&configPath, true))
	root.AddCommand(blockCmd(&configPath, false))
	return root
}
