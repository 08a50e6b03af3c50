package commands

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relaymesh/internal/crypto"
)

func pubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey",
		Short: "Print the public key and its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			pub, err := wire.Identity.PublicKey(passphrase)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %s\nFingerprint: %s\n", pub, crypto.Fingerprint(pub))
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the private key as hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			raw, err := wire.Identity.Export(passphrase)
			if err != nil {
				return err
			}
			defer crypto.Wipe(raw)
			wire.Log.GetLogger("cli").Noticef("private key exported")
			fmt.Fprintln(cmd.ErrOrStderr(), "Anyone holding this key can read your messages and sign as you.")
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(raw))
			return nil
		},
	}
}

func importCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "import <hex-private-key>",
		Short: "Store a hex private key as the local identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			raw, err := hex.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("private key is not hex: %w", err)
			}
			defer crypto.Wipe(raw)
			pub, err := wire.Identity.Overwrite(force).Import(passphrase, raw)
			if err != nil {
				return err
			}
			wire.Log.GetLogger("cli").Noticef("private key imported for %s", crypto.Fingerprint(pub))
			fmt.Fprintf(cmd.OutOrStdout(), "Identity imported.\nPublic key:  %s\nFingerprint: %s\n", pub, crypto.Fingerprint(pub))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	return cmd
}
