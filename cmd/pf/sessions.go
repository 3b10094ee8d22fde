package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/presence"
	"github.com/alfredjeanlab/pipeflow/internal/ui"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "Show pipelines with live editing sessions",
	GroupID: "pipelines",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		active, _ := cmd.Flags().GetDuration("active")
		entries, err := pfClient.Sessions(context.Background(), active)
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		printSessions(cmd.OutOrStdout(), entries)
		return nil
	},
}

func printSessions(w io.Writer, entries []presence.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no live sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPELINE\tIDLE\tEVENTS\tLAST EVENT\tACTORS")
	for _, e := range entries {
		idle := (time.Duration(e.IdleSecs) * time.Second).String()
		if e.IdleSecs < 60 {
			idle = ui.RenderSuccess(idle)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			e.PipelineID,
			idle,
			e.EventCount,
			strings.TrimPrefix(e.LastEvent, "pipeflow."),
			strings.Join(e.Actors, ", "),
		)
	}
	tw.Flush()
}

func init() {
	sessionsCmd.Flags().Duration("active", 0, "only sessions with events inside this window (e.g. 10m)")
}
