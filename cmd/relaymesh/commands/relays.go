package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// relays: connect, wait, then print relay health.
func relaysCmd() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "relays",
		Short: "Connect to the configured relays and print their health",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireRelays(); err != nil {
				return err
			}
			p, err := wire.OpenProfile(passphrase)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RELAY\tSTATE\tFAILURES\tLATENCY\tLAST SUCCESS\tSCORE")
			for _, r := range p.Relays() {
				last := "never"
				if !r.LastSuccess.IsZero() {
					last = time.Since(r.LastSuccess).Round(time.Second).String() + " ago"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%v\t%s\t%.0f\n",
					r.URL, r.State, r.ConsecutiveFailures, r.LastLatency.Round(time.Millisecond), last, r.Score)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to let connections settle")
	return cmd
}
