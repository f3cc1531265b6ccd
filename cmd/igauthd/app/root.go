// Package app provides the igauthd command-line application.
package app

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "igauthd",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Short:             "Connect Instagram accounts and serve their access tokens",
		Long: `igauthd runs the Instagram OAuth connect flow, stores the resulting long-lived
access tokens encrypted at rest, and serves them to internal consumers.

Configuration is read from the environment, optionally seeded from a dotenv file.`,
	}

	rootCmd.PersistentFlags().StringSlice("env-file", []string{".env"}, "dotenv files to load before reading the environment")

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newKeygenCmd(),
		newCheckEnvCmd(),
		newAccountsCmd(),
		newRefreshCmd(),
	)

	return rootCmd
}
