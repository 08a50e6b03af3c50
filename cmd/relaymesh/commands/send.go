package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"relaymesh/profile"
)

// send <pubkey> <message>: encrypt and send a message to <pubkey>.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <pubkey> <message>",
		Short: "Encrypt and send a message to a public key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if err := requireRelays(); err != nil {
				return err
			}
			to, err := profile.ParsePublicKey(args[0])
			if err != nil {
				return err
			}

			p, err := wire.OpenProfile(passphrase)
			if err != nil {
				return err
			}
			defer p.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()
			r, err := p.SendEncryptedMessage(ctx, to, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %d/%d relays\n", r.EventID, r.Acks, r.Attempted)
			return nil
		},
	}
}

// publish <content>: sign and publish a note.
func publishCmd() *cobra.Command {
	var kind int
	cmd := &cobra.Command{
		Use:   "publish <content>",
		Short: "Sign and publish a public note",
		Args:  cobra.ExactArgs(1),
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
			ev, r, err := p.Publish(ctx, profile.Event{Kind: kind, Content: args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s to %d/%d relays\n", ev.ID, r.Acks, r.Attempted)
			return nil
		},
	}
	cmd.Flags().IntVar(&kind, "kind", profile.KindTextNote, "event kind")
	return cmd
}
