package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/client"
	"github.com/alfredjeanlab/pipeflow/internal/codec"
	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:     "pipeline",
	Aliases: []string{"pl"},
	Short:   "Create, list and manage saved pipelines",
	GroupID: "pipelines",
}

var pipelineCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		p, err := pfClient.CreatePipeline(context.Background(), &client.CreatePipelineRequest{
			ID:        id,
			Name:      args[0],
			CreatedBy: actor,
		})
		if err != nil {
			return fmt.Errorf("creating pipeline: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created pipeline %s (%s)\n", p.ID, p.Name)
		return nil
	},
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved pipelines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.ListPipelinesRequest{}
		req.Search, _ = cmd.Flags().GetString("search")
		req.CreatedBy, _ = cmd.Flags().GetString("created-by")
		req.NodeType, _ = cmd.Flags().GetString("node-type")
		req.Sort, _ = cmd.Flags().GetString("sort")
		req.Limit, _ = cmd.Flags().GetInt("limit")
		req.Offset, _ = cmd.Flags().GetInt("offset")

		resp, err := pfClient.ListPipelines(context.Background(), req)
		if err != nil {
			return fmt.Errorf("listing pipelines: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		printPipelineList(cmd.OutOrStdout(), resp.Pipelines, resp.Total)
		return nil
	},
}

var pipelineShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a pipeline's nodes and edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pfClient.GetPipeline(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting pipeline: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		printPipeline(cmd.OutOrStdout(), p)
		return nil
	},
}

var pipelineRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a pipeline",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pfClient.RenamePipeline(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("renaming pipeline: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", p.ID, p.Name)
		return nil
	},
}

var pipelineDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete pipelines",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, id := range args {
			if err := pfClient.DeletePipeline(context.Background(), id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

var pipelineImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create a pipeline from a JSON or YAML document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(args[0])
		if err != nil {
			return err
		}
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = doc.Name
		}
		if name == "" {
			base := filepath.Base(args[0])
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}

		nodes, edges := doc.Graph()
		p, err := pfClient.CreatePipeline(context.Background(), &client.CreatePipelineRequest{
			ID:        id,
			Name:      name,
			CreatedBy: actor,
			Nodes:     nodes,
			Edges:     edges,
		})
		if err != nil {
			return fmt.Errorf("importing pipeline: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), p)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%s): %d nodes, %d edges\n", p.ID, p.Name, len(p.Nodes), len(p.Edges))
		return nil
	},
}

var pipelineExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Write a pipeline as a JSON or YAML document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		format, _ := cmd.Flags().GetString("format")

		var c codec.Codec
		switch {
		case format != "":
			var err error
			if c, err = codec.ForFormat(format); err != nil {
				return err
			}
		default:
			c = codec.ForPath(output)
		}

		p, err := pfClient.GetPipeline(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting pipeline: %w", err)
		}
		doc := codec.FromPipeline(p)

		if output == "" || output == "-" {
			return c.Export(doc, cmd.OutOrStdout())
		}
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		if err := c.Export(doc, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", output)
		return nil
	},
}

var pipelineEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Show a pipeline's event log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		evts, err := pfClient.GetEvents(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("getting events: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), evts)
		}
		for _, e := range evts {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-28s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04:05"), e.Topic, e.Actor)
		}
		return nil
	},
}

// readDocument parses a pipeline document, choosing the codec by extension.
// "-" reads JSON from stdin.
func readDocument(path string) (*codec.Document, error) {
	if path == "-" {
		return codec.NewJSONCodec().Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	doc, err := codec.ForPath(path).Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func init() {
	pipelineCreateCmd.Flags().String("id", "", "pipeline id (generated when empty)")

	pipelineListCmd.Flags().String("search", "", "filter by name substring")
	pipelineListCmd.Flags().String("created-by", "", "filter by creator")
	pipelineListCmd.Flags().String("node-type", "", "only pipelines containing this node type")
	pipelineListCmd.Flags().String("sort", "", "sort column: name, created_at, updated_at or id (prefix - for descending)")
	pipelineListCmd.Flags().Int("limit", 0, "maximum number of results")
	pipelineListCmd.Flags().Int("offset", 0, "results to skip")

	pipelineImportCmd.Flags().String("id", "", "pipeline id (generated when empty)")
	pipelineImportCmd.Flags().String("name", "", "pipeline name (defaults to the document name)")

	pipelineExportCmd.Flags().StringP("output", "o", "", "output file (stdout when empty)")
	pipelineExportCmd.Flags().String("format", "", "json or yaml (defaults from the output extension)")

	pipelineCmd.AddCommand(pipelineCreateCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineShowCmd)
	pipelineCmd.AddCommand(pipelineRenameCmd)
	pipelineCmd.AddCommand(pipelineDeleteCmd)
	pipelineCmd.AddCommand(pipelineImportCmd)
	pipelineCmd.AddCommand(pipelineExportCmd)
	pipelineCmd.AddCommand(pipelineEventsCmd)
}
