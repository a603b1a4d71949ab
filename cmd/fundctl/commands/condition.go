package commands

import (
	"errors"
	"fmt"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/spf13/cobra"
)

func conditionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "condition",
		Short: "Generate and check escrow conditions",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print a new condition and its fulfillment",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, f, err := condition.Generate()
			if err != nil {
				return err
			}
			defer f.Wipe()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "condition:   %s\n", c)
			fmt.Fprintf(out, "fulfillment: %s\n", f.Encode())
			return nil
		},
	}

	var cond, fulfillment string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check that a fulfillment satisfies a condition",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := condition.ParseCondition(cond)
			if err != nil {
				return err
			}
			f, err := condition.ParseFulfillment(fulfillment)
			if err != nil {
				return err
			}
			defer f.Wipe()
			if !condition.Verify(c, f) {
				return errors.New("fulfillment does not satisfy condition")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	verify.Flags().StringVar(&cond, "condition", "", "hex encoded condition")
	verify.Flags().StringVar(&fulfillment, "fulfillment", "", "hex encoded fulfillment")
	_ = verify.MarkFlagRequired("condition")
	_ = verify.MarkFlagRequired("fulfillment")

	cmd.AddCommand(generate, verify)
	return cmd
}
