package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/warp/buyback-engine/factory"
)

var validateCmd = &cobra.Command{
	Use:   "validate <policy-file>",
	Short: "Report authoring problems in a policy file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		policy, err := loadPolicyFile(args[0])
		if err != nil {
			return err
		}

		err = factory.ValidatePolicy(policy)
		var pe *factory.PolicyError
		switch {
		case err == nil:
			fmt.Fprintf(out, "policy %s (%s): %d rules, no problems\n", policy.ID, policy.Type, len(policy.Rules))
			return nil
		case errors.As(err, &pe):
			fmt.Fprintf(out, "policy %s: %d problems\n", pe.ID, len(pe.Problems))
			for _, p := range pe.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			return eris.Errorf("validate: %s has %d problems", args[0], len(pe.Problems))
		default:
			return eris.Wrap(err, "validate")
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
