package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"streamcast/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and stream status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Stream", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range streamStatusLines(resp, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Pipeline", colorize) {
					fmt.Fprintln(stdout, line)
				}
				table := renderTable(
					[]string{"Component", "Detail"},
					pipelineRows(resp),
					[]columnAlignment{alignLeft, alignRight},
				)
				fmt.Fprintln(stdout, table)
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Dependencies", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range dependencyLines(resp.Dependencies, colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Daemon", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, line := range daemonStatusLines(resp, colorize) {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
}

func streamStatusLines(resp *ipc.StatusResponse, colorize bool) []string {
	lines := make([]string, 0, 6)

	switch {
	case resp.Live && resp.Paused:
		lines = append(lines, renderStatusLine("Stream", statusWarn, "paused", colorize))
	case resp.Live:
		lines = append(lines, renderStatusLine("Stream", statusOK, "live", colorize))
	default:
		lines = append(lines, renderStatusLine("Stream", statusInfo, "offline", colorize))
	}

	if resp.SessionID != "" {
		lines = append(lines, renderStatusLine("Session", statusInfo, resp.SessionID, colorize))
	}
	if resp.StartedAt != "" {
		lines = append(lines, renderStatusLine("Started", statusInfo, resp.StartedAt, colorize))
	}

	canvas := fmt.Sprintf("%dx%d @ %d fps (actual %.1f)", resp.Width, resp.Height, resp.TargetFPS, resp.CurrentFPS)
	lines = append(lines, renderStatusLine("Canvas", statusInfo, canvas, colorize))

	frames := fmt.Sprintf("%d rendered, %d dropped", resp.FrameCount, resp.DroppedFrames)
	frameKind := statusInfo
	if resp.DroppedFrames > 0 {
		frameKind = statusWarn
	}
	lines = append(lines, renderStatusLine("Frames", frameKind, frames, colorize))

	if resp.RenderLatency != "" {
		lines = append(lines, renderStatusLine("Render latency", statusInfo, resp.RenderLatency, colorize))
	}
	if resp.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, resp.LastError, colorize))
	}
	return lines
}

func pipelineRows(resp *ipc.StatusResponse) [][]string {
	return [][]string{
		{"Workers", fmt.Sprintf("%d (%d active)", resp.Workers, resp.ActiveWorkers)},
		{"Queue", fmt.Sprintf("%d / %d", resp.QueueLength, resp.QueueCapacity)},
		{"Encoder", fmt.Sprintf("%s, %d frames", runningStopped(resp.EncoderRunning), resp.EncoderFrames)},
		{"Layers", strconv.Itoa(resp.LayerCount)},
		{"Preview clients", strconv.Itoa(resp.PreviewClients)},
	}
}

func dependencyLines(deps []ipc.DependencyStatus, colorize bool) []string {
	lines := make([]string, 0, len(deps))
	for _, dep := range deps {
		if dep.Available {
			message := "Ready"
			if dep.Command != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Command)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		detail := dep.Detail
		if detail == "" {
			detail = "not available"
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(dep.Name, kind, detail, colorize))
	}
	return lines
}

func daemonStatusLines(resp *ipc.StatusResponse, colorize bool) []string {
	lines := make([]string, 0, 4)

	runKind := statusOK
	if !resp.Running {
		runKind = statusError
	}
	lines = append(lines, renderStatusLine("Daemon", runKind, fmt.Sprintf("running=%s pid=%d", yesNo(resp.Running), resp.PID), colorize))
	lines = append(lines, renderStatusLine("Journal", statusInfo, resp.JournalPath, colorize))
	lines = append(lines, renderStatusLine("Lock file", statusInfo, resp.LockPath, colorize))
	lines = append(lines, renderStatusLine("Capture monitor", statusInfo, yesNo(resp.CaptureMonitor), colorize))
	return lines
}

func runningStopped(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}
