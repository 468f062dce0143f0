package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"streamcast/internal/ipc"
)

func newLayersCommand(ctx *commandContext) *cobra.Command {
	layersCmd := &cobra.Command{
		Use:   "layers",
		Short: "Inspect and control scene layers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayersList(ctx, cmd)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scene layers in paint order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayersList(ctx, cmd)
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <name|kind> [more...]",
		Short: "Make layers visible by symbolic name or kind",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetVisibility(ctx, cmd, args, true)
		},
	}

	hideCmd := &cobra.Command{
		Use:   "hide <name|kind> [more...]",
		Short: "Hide layers by symbolic name or kind",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetVisibility(ctx, cmd, args, false)
		},
	}

	layersCmd.AddCommand(listCmd, showCmd, hideCmd)
	return layersCmd
}

func runLayersList(ctx *commandContext, cmd *cobra.Command) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Layers()
		if err != nil {
			return err
		}
		stdout := cmd.OutOrStdout()
		if len(resp.Layers) == 0 {
			fmt.Fprintln(stdout, "Scene is empty")
			return nil
		}

		rows := make([][]string, 0, len(resp.Layers))
		for _, layer := range resp.Layers {
			rows = append(rows, []string{
				layer.Name,
				layer.Kind,
				strconv.Itoa(layer.ZIndex),
				yesNo(layer.Visible),
				fmt.Sprintf("%.2f", layer.Opacity),
				layer.ID,
			})
		}
		table := renderTable(
			[]string{"Name", "Kind", "Z", "Visible", "Opacity", "ID"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		)
		fmt.Fprintln(stdout, table)
		return nil
	})
}

func runSetVisibility(ctx *commandContext, cmd *cobra.Command, targets []string, visible bool) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.SetVisibility(targets, visible)
		if err != nil {
			return err
		}
		verb := "hidden"
		if visible {
			verb = "shown"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d layer(s) %s\n", len(resp.Changed), verb)
		return nil
	})
}
