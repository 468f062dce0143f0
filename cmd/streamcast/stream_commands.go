package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"streamcast/internal/ipc"
)

func newStreamCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Bring the stream live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				switch {
				case resp.Started:
					fmt.Fprintln(stdout, "Stream is live")
				case strings.TrimSpace(resp.Message) != "":
					fmt.Fprintln(stdout, resp.Message)
				default:
					fmt.Fprintln(stdout, "Stream did not start")
				}
				return nil
			})
		},
	}

	var stopReason string
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "End the live stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stop(stopReason)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if resp.Stopped {
					fmt.Fprintln(stdout, "Stream stopped")
				} else {
					fmt.Fprintln(stdout, "Stream was not live")
				}
				return nil
			})
		},
	}
	stopCmd.Flags().StringVar(&stopReason, "reason", "operator", "Reason recorded in the session journal")

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Freeze the output on the current frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Pause()
				if err != nil {
					return err
				}
				if resp.Paused {
					fmt.Fprintln(cmd.OutOrStdout(), "Stream paused")
				}
				return nil
			})
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume live compositing after a pause",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Resume()
				if err != nil {
					return err
				}
				if resp.Resumed {
					fmt.Fprintln(cmd.OutOrStdout(), "Stream resumed")
				}
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, pauseCmd, resumeCmd}
}
