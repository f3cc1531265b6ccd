package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-igauth/tokencrypt"
)

func newKeygenCmd() *cobra.Command {
	var withState bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random ENCRYPTION_KEY_BASE64",
		Long: `Print a new 256-bit key in the format expected by ENCRYPTION_KEY_BASE64.
Rotating the key makes previously stored tokens unreadable; every account must
reconnect afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := tokencrypt.GenerateKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ENCRYPTION_KEY_BASE64=%s\n", key)

			if withState {
				stateKey, err := tokencrypt.GenerateKey()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "STATE_SIGNING_KEY_BASE64=%s\n", stateKey)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withState, "state", false, "also generate STATE_SIGNING_KEY_BASE64")
	return cmd
}
