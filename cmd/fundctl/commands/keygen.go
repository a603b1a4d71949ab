package commands

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/sqlite"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate server key material",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "seed",
			Short: "Print a hex master seed for ESCROWFUND_WALLET_MASTER_SEED",
			RunE: func(cmd *cobra.Command, args []string) error {
				seed := make([]byte, wallet.MinSeedSize)
				if _, err := rand.Read(seed); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(seed))
				return nil
			},
		},
		&cobra.Command{
			Use:   "sealkey",
			Short: "Print a hex seal key for ESCROWFUND_ESCROW_SEAL_KEY",
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := sqlite.NewSealKey()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
				return nil
			},
		},
		&cobra.Command{
			Use:   "attestor",
			Short: "Print an ed25519 attestor key pair",
			RunE: func(cmd *cobra.Command, args []string) error {
				pub, priv, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "public:  %s\n", hex.EncodeToString(pub))
				fmt.Fprintf(out, "private: %s\n", hex.EncodeToString(priv.Seed()))
				return nil
			},
		},
	)
	return cmd
}
