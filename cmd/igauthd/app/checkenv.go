package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newCheckEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-env",
		Short: "Report which variables are set and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, status := range cfg.Describe() {
				value := status.Value
				switch {
				case !status.Set:
					value = "(not set)"
				case status.Secret:
					value = "(set)"
				}
				fmt.Fprintf(w, "%s\t%s\n", status.Name, value)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if _, err := cfg.StateKeyBytes(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
			return nil
		},
	}
}
