package app

import (
	"fmt"
	"time"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-igauth"
)

var timeNow = time.Now

func newRefreshCmd() *cobra.Command {
	var (
		within  time.Duration
		account string
	)

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Refresh long-lived tokens that expire soon",
		Long: `Refresh one account (--account) or every account whose token expires within
the --within window. Tokens already past expiry cannot be refreshed; those
accounts must reconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			provider, err := rt.provider()
			if err != nil {
				return err
			}
			refresher := igauth.NewRefresher(provider, rt.store,
				igauth.WithRefresherLogger(rt.logger),
				igauth.WithRefresherMetrics(rt.metrics),
				igauth.WithRefresherActivitySink(rt.activitySink()),
				igauth.WithRefreshConcurrency(rt.cfg.RefreshConcurrency),
			)

			out := cmd.OutOrStdout()
			if account != "" {
				result, err := refresher.Refresh(cmd.Context(), account)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "refreshed %s, expires in %s\n", result.ExternalAccountID, result.ExpiresIn)
				return nil
			}

			report, err := refresher.RefreshExpiring(cmd.Context(), within)
			if err != nil {
				return err
			}

			failed := make(map[string]string, len(report.Failed))
			for id, ferr := range report.Failed {
				failed[id] = igauth.SafeReason(ferr)
			}
			fmt.Fprintln(out, print.MaybePrettyJSON(map[string]any{
				"refreshed": report.Refreshed,
				"expired":   report.Expired,
				"failed":    failed,
			}))

			if len(report.Failed) > 0 {
				return fmt.Errorf("%d of %d refreshes failed", len(report.Failed), len(report.Failed)+len(report.Refreshed))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&within, "within", 7*24*time.Hour, "refresh tokens expiring within this window")
	cmd.Flags().StringVar(&account, "account", "", "refresh a single external account id")
	return cmd
}
