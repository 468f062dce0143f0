package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"streamcast/internal/ipc"
)

func newChatCommand(ctx *commandContext) *cobra.Command {
	var author string

	cmd := &cobra.Command{
		Use:   "chat <text...>",
		Short: "Append a message to the chat overlay",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("chat message is empty")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Chat(author, text)
				if err != nil {
					return err
				}
				if resp.Accepted {
					fmt.Fprintln(cmd.OutOrStdout(), "Message queued")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&author, "author", "operator", "Author shown next to the message")
	return cmd
}
