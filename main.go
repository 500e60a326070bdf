package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the --config flag shared by all commands
var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "cmdb",
		Short:         "Configuration management database",
		Long:          "cmdb tracks nodes, hardware and their relationships with a field-level audit trail.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./cmdb.yaml or /etc/cmdb/cmdb.yaml)")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
