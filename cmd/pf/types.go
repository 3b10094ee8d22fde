package main

import (
	"context"
	"fmt"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:     "types",
	Short:   "List node types with their fields and handles",
	GroupID: "graph",
	Args:    cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if local, _ := cmd.Flags().GetBool("local"); local {
			return noClient(cmd, args)
		}
		return rootCmd.PersistentPreRunE(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		local, _ := cmd.Flags().GetBool("local")

		var specs []*model.NodeSpec
		if local {
			specs = localCatalog()
		} else {
			var err error
			if specs, err = pfClient.Catalog(context.Background()); err != nil {
				return fmt.Errorf("fetching catalog: %w", err)
			}
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), specs)
		}
		printCatalog(cmd.OutOrStdout(), specs)
		return nil
	},
}

// localCatalog returns the built-in node types in listing order.
func localCatalog() []*model.NodeSpec {
	specs := make([]*model.NodeSpec, 0, len(model.CatalogOrder))
	for _, t := range model.CatalogOrder {
		specs = append(specs, model.Catalog[t])
	}
	return specs
}

func init() {
	typesCmd.Flags().Bool("local", false, "list the built-in catalog without contacting a server")
}
