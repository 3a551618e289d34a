package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bidlink/marketplace-core/internal/util"
)

func newBridgeTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge-token",
		Short: "Generate a random BRIDGE_TOKEN value",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := util.GenerateToken()
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
