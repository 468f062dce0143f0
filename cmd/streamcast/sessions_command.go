package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"streamcast/internal/ipc"
)

const sessionTimeFormat = "2006-01-02 15:04:05"

func newSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show recent stream sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sessions(limit)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Sessions) == 0 {
					fmt.Fprintln(stdout, "No sessions recorded")
					return nil
				}

				rows := make([][]string, 0, len(resp.Sessions))
				for _, session := range resp.Sessions {
					rows = append(rows, sessionRow(session))
				}
				table := renderTable(
					[]string{"Started", "Duration", "Frames", "Dropped", "Avg FPS", "End reason", "ID"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to show")
	return cmd
}

func sessionRow(session ipc.SessionInfo) []string {
	duration := "live"
	endReason := session.EndReason
	if !session.Active {
		duration = session.EndedAt.Sub(session.StartedAt).Round(time.Second).String()
	} else if endReason == "" {
		endReason = "-"
	}
	return []string{
		session.StartedAt.Format(sessionTimeFormat),
		duration,
		strconv.FormatUint(session.FrameCount, 10),
		strconv.FormatUint(session.DroppedFrames, 10),
		fmt.Sprintf("%.1f", session.AvgFPS),
		endReason,
		session.ID,
	}
}
