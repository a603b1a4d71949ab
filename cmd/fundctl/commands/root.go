// Package commands implements fundctl, the operator CLI for key material,
// escrow conditions, attestations and API keys.
package commands

import (
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fundctl",
		Short:         "Operator tooling for the escrowfund server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(keygenCmd(), conditionCmd(), attestCmd(), apikeyCmd())
	return root
}
