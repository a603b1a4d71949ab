package commands

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/spf13/cobra"
)

func attestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign and check milestone attestations",
	}

	var projectID, milestoneID, attestor, key string
	sign := &cobra.Command{
		Use:   "sign",
		Short: "Print external_attestation evidence for a milestone",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := hex.DecodeString(key)
			if err != nil || len(seed) != ed25519.SeedSize {
				return fmt.Errorf("--key must be a %d byte hex seed", ed25519.SeedSize)
			}
			subject := evidence.Subject{ProjectID: projectID, MilestoneID: milestoneID}
			sig := ed25519.Sign(ed25519.NewKeyFromSeed(seed), []byte(subject.Statement()))
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(evidence.AttestationPayload{Attestor: attestor, Signature: hex.EncodeToString(sig)})
		},
	}
	sign.Flags().StringVar(&projectID, "project", "", "project id")
	sign.Flags().StringVar(&milestoneID, "milestone", "", "milestone id")
	sign.Flags().StringVar(&attestor, "attestor", "", "attestor name registered with the server")
	sign.Flags().StringVar(&key, "key", "", "hex attestor private seed")
	for _, name := range []string{"project", "milestone", "attestor", "key"} {
		_ = sign.MarkFlagRequired(name)
	}

	var trusted []string
	var payload string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check attestation evidence against trusted keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := evidence.ParseAttestors(trusted)
			if err != nil {
				return err
			}
			ev := evidence.Evidence{Kind: evidence.KindExternalAttestation, Data: json.RawMessage(payload)}
			subject := evidence.Subject{ProjectID: projectID, MilestoneID: milestoneID}
			ok, err := evidence.NewAttestation(keys).Verify(context.Background(), subject, ev)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("attestation rejected")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	verify.Flags().StringVar(&projectID, "project", "", "project id")
	verify.Flags().StringVar(&milestoneID, "milestone", "", "milestone id")
	verify.Flags().StringSliceVar(&trusted, "trusted", nil, "trusted attestor as name=hexkey, repeatable")
	verify.Flags().StringVar(&payload, "evidence", "", "attestation evidence JSON")
	for _, name := range []string{"project", "milestone", "trusted", "evidence"} {
		_ = verify.MarkFlagRequired(name)
	}

	cmd.AddCommand(sign, verify)
	return cmd
}
