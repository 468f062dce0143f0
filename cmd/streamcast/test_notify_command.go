package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamcast/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				if resp.Message != "" {
					fmt.Fprintln(stdout, resp.Message)
					return nil
				}
				if resp.Sent {
					fmt.Fprintln(stdout, "Test notification sent")
				} else {
					fmt.Fprintln(stdout, "Notification not sent")
				}
				return nil
			})
		},
	}
}
