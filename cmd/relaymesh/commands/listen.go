package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"relaymesh/internal/crypto"
)

// listen: print direct messages until interrupted.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print direct messages addressed to you as they arrive",
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
			g, ctx := errgroup.WithContext(ctx)
			stream, err := p.SubscribeToMessages(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "listening as %s, ctrl-c to stop\n", p.Fingerprint())

			g.Go(func() error { return wire.ServeMetrics(ctx) })
			g.Go(func() error {
				for dm := range stream.Messages() {
					fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n",
						dm.SentAt.Format(time.DateTime), crypto.Fingerprint(dm.From), dm.Plaintext)
				}
				return nil
			})
			return g.Wait()
		},
	}
}
