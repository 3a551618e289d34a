package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bidlink/marketplace-core/internal/app"
	"github.com/bidlink/marketplace-core/internal/model"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and write a contact's conversation",
	}

	cmd.AddCommand(newChatSendCmd())
	cmd.AddCommand(newChatTailCmd())

	return cmd
}

func newChatSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <contact-id> <message...>",
		Short: "Send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args[1:], " ")
			return withCore(cmd, func(ctx context.Context, core *app.App) error {
				eng, err := core.Chats.Open(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := eng.Send(ctx, content)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result.Message)
			})
		},
	}
}

func newChatTailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail <contact-id>",
		Short: "Print the conversation and follow new messages until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withCore(cmd, func(_ context.Context, core *app.App) error {
				eng, err := core.Chats.Open(ctx, args[0])
				if err != nil {
					return err
				}

				snapshots, unsubscribe := eng.Subscribe()
				defer unsubscribe()

				printed := make(map[string]bool)
				for {
					select {
					case <-ctx.Done():
						return nil
					case snap, ok := <-snapshots:
						if !ok {
							return nil
						}
						printNew(cmd.OutOrStdout(), snap.Messages, printed)
					}
				}
			})
		},
	}
}

// printNew prints confirmed messages not printed before.
func printNew(w io.Writer, msgs []model.Message, printed map[string]bool) {
	for _, m := range msgs {
		if m.Pending() || printed[m.ID] {
			continue
		}
		printed[m.ID] = true
		fmt.Fprintf(w, "%s  %-12s %s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, m.Content)
	}
}
