package app

import (
	"fmt"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-igauth/repository"
)

func newAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "List connected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			views, err := rt.store.List(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(map[string]any{
				"count":    len(views),
				"accounts": views,
			}))
			return nil
		},
	}

	cmd.AddCommand(newAccountsDeleteCmd(), newAccountsMarkFetchedCmd())
	return cmd
}

func newAccountsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <external-account-id>",
		Short: "Disconnect an account and drop its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newAccountsMarkFetchedCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "mark-fetched <external-account-id>",
		Short: "Stamp the media or stories fetch cursor with the current time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.store.MarkFetched(cmd.Context(), args[0], repository.FetchKind(kind), timeNow())
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(repository.FetchMedia), "cursor to stamp: media or stories")
	return cmd
}
