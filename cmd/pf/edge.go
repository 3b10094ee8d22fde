package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/client"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/spf13/cobra"
)

var edgeCmd = &cobra.Command{
	Use:     "edge",
	Short:   "Connect and disconnect node handles",
	GroupID: "graph",
}

var edgeAddCmd = &cobra.Command{
	Use:   "add <pipeline> <source> <output> <target> <input>",
	Short: "Connect an output handle to an input handle",
	Long: `Connect an output handle to an input handle. Handles may be given by
port name ("value") or as full handle ids ("customInput-1-value").

  pf edge add pl-abc customInput-1 value text-1 question`,
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.AddEdgeRequest{
			Source:       args[1],
			SourceHandle: qualifyHandle(args[1], args[2]),
			Target:       args[3],
			TargetHandle: qualifyHandle(args[3], args[4]),
		}
		e, err := pfClient.AddEdge(context.Background(), args[0], req)
		if err != nil {
			return fmt.Errorf("adding edge: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), e)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s -> %s)\n", e.ID, e.SourceHandle, e.TargetHandle)
		return nil
	},
}

var edgeRemoveCmd = &cobra.Command{
	Use:     "remove <pipeline> <edge>",
	Aliases: []string{"rm"},
	Short:   "Remove an edge",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := pfClient.RemoveEdge(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("removing edge: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[1])
		return nil
	},
}

// qualifyHandle expands a bare port name into the node's handle id.
func qualifyHandle(nodeID, handle string) string {
	if strings.HasPrefix(handle, nodeID+"-") {
		return handle
	}
	return model.HandleID(nodeID, handle)
}

func init() {
	edgeCmd.AddCommand(edgeAddCmd)
	edgeCmd.AddCommand(edgeRemoveCmd)
}
