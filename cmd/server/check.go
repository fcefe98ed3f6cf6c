package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"ytdl-stream/internal/deps"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report external tools and which features they enable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			fmt.Fprintln(cmd.OutOrStdout(), renderStatuses(statuses))
			fmt.Fprintf(cmd.OutOrStdout(), "provider: %s\n", cfg.Provider.Name)

			for _, s := range statuses {
				if !s.Available && !s.Optional {
					return fmt.Errorf("required dependency %s is missing", s.Name)
				}
			}
			return nil
		},
	}
}

func renderStatuses(statuses []deps.Status) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Tool", "Command", "State", "Purpose"})
	for _, s := range statuses {
		tw.AppendRow(table.Row{s.Name, s.Command, statusLabel(s), s.Description})
	}
	return tw.Render()
}

func statusLabel(s deps.Status) string {
	switch {
	case s.Available:
		return "ok"
	case s.Optional:
		return "missing (optional): " + s.Detail
	default:
		return "missing: " + s.Detail
	}
}
