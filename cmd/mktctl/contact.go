package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bidlink/marketplace-core/internal/app"
	"github.com/bidlink/marketplace-core/internal/model"
)

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <project-id>",
		Short: "Show what contacting a project costs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.App) error {
				preview, err := core.Previews.PreviewAndResolve(ctx, args[0], model.UserType(core.Config.UserType))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), preview)
			})
		},
	}
}

func newContactCmd() *cobra.Command {
	var (
		contactType string
		details     string
	)

	cmd := &cobra.Command{
		Use:   "contact <project-id>",
		Short: "Spend credits to contact a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.App) error {
				result, err := core.Contacts.Confirm(ctx, args[0], model.CreateContactParams{
					ContactType:    contactType,
					ContactDetails: details,
				})
				if err != nil {
					return err
				}
				if result.AlreadyExisted {
					fmt.Fprintf(cmd.ErrOrStderr(), "contact already existed, nothing was charged\n")
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVar(&contactType, "type", "message", "contact type")
	cmd.Flags().StringVar(&details, "details", "", "contact details sent with the request")

	return cmd
}

func newHistoryCmd() *cobra.Command {
	var userType string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List contacts of the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.App) error {
				contacts, err := core.Contacts.History(ctx, model.UserType(userType))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), contacts)
			})
		},
	}

	cmd.Flags().StringVar(&userType, "user-type", "", "client or professional (default USER_TYPE)")

	return cmd
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, core *app.App) error {
				balance, err := core.Contacts.Balance(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), balance)
				return nil
			})
		},
	}
}
