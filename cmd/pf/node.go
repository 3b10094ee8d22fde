package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/client"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/ui"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:     "node",
	Short:   "Add, inspect and edit nodes of a pipeline",
	GroupID: "graph",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add <pipeline> <type>",
	Short: "Add a node (see 'pf types' for the catalog)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		x, _ := cmd.Flags().GetFloat64("x")
		y, _ := cmd.Flags().GetFloat64("y")
		sets, _ := cmd.Flags().GetStringArray("set")

		data, err := parseAssignments(sets)
		if err != nil {
			return err
		}
		n, err := pfClient.AddNode(context.Background(), args[0], &client.AddNodeRequest{
			ID:       id,
			Type:     model.NodeType(args[1]),
			Position: model.Position{X: x, Y: y},
			Data:     data,
		})
		if err != nil {
			return fmt.Errorf("adding node: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), n)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", ui.RenderAccent(n.ID))
		printNode(cmd.OutOrStdout(), n)
		return nil
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <pipeline> <node>",
	Short: "Show a node's data and ports",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := pfClient.GetNode(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting node: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), n)
		}
		printNode(cmd.OutOrStdout(), n)
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:     "remove <pipeline> <node>",
	Aliases: []string{"rm"},
	Short:   "Remove a node and every edge touching it",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		removed, err := pfClient.RemoveNode(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("removing node: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"removed_edges": removed})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[1])
		printRemovedEdges(cmd.OutOrStdout(), removed)
		return nil
	},
}

var nodeSetCmd = &cobra.Command{
	Use:   "set <pipeline> <node> <key> <value>",
	Short: "Set a node data field",
	Long: `Set a node data field. The value is parsed as JSON when it is valid
JSON and taken as a plain string otherwise; --string always takes it as a
string. Editing a template field recomputes the node's inputs, and edges on
inputs that no longer exist are removed.`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		asString, _ := cmd.Flags().GetBool("string")
		var value any = args[3]
		if !asString {
			value = parseValue(args[3])
		}
		resp, err := pfClient.UpdateNodeField(context.Background(), args[0], args[1], args[2], value)
		if err != nil {
			return fmt.Errorf("updating node: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printNode(cmd.OutOrStdout(), resp.Node)
		printRemovedEdges(cmd.OutOrStdout(), resp.RemovedEdges)
		return nil
	},
}

// parseValue decodes s as JSON, falling back to the raw string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

// parseAssignments turns key=value pairs into node data.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", p)
		}
		data[k] = parseValue(v)
	}
	return data, nil
}

func init() {
	nodeAddCmd.Flags().String("id", "", "node id (defaults to <type>-<n>)")
	nodeAddCmd.Flags().Float64("x", 0, "canvas x position")
	nodeAddCmd.Flags().Float64("y", 0, "canvas y position")
	nodeAddCmd.Flags().StringArray("set", nil, "initial data field as key=value (repeatable)")

	nodeSetCmd.Flags().Bool("string", false, "treat the value as a plain string")

	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeShowCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeSetCmd)
}
