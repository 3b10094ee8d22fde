package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/graph"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/spf13/cobra"
)

// errNotDAG is returned by --strict runs on a cyclic pipeline.
var errNotDAG = errors.New("pipeline contains cycles")

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a pipeline document locally or against a remote validator",
	Long: `Validate a JSON or YAML pipeline document.

By default the document is checked in-process. --remote sends it to a
validator service instead (http://host:8000 or grpc://host:9090);
--use-remote sends it to the active remote's validator_url.

--strict also replays the document through a graph store, so edges must
reference existing nodes and handles, and fails when the graph has a cycle.`,
	GroupID:           "validation",
	Args:              cobra.ExactArgs(1),
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, _ := cmd.Flags().GetString("remote")
		useRemote, _ := cmd.Flags().GetBool("use-remote")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		strict, _ := cmd.Flags().GetBool("strict")

		doc, err := readDocument(args[0])
		if err != nil {
			return err
		}
		if strict {
			nodes, edges := doc.Graph()
			if _, err := graph.FromSnapshot(&model.Snapshot{Nodes: nodes, Edges: edges}); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
		}

		var validator gateway.Validator = gateway.Local{}
		if remote != "" || useRemote {
			if remote == "" {
				remote = activeRemote().ValidatorURL
			}
			if remote == "" {
				return fmt.Errorf("no validator URL: pass --remote <url> or set validator_url on the active remote")
			}
			v, closeFn, err := newRemoteValidator(remote, authToken)
			if err != nil {
				return err
			}
			defer closeFn()
			validator = v
		}

		g := gateway.New(validator, gateway.WithTimeout(timeout))
		report, err := g.SubmitRequest(context.Background(), doc.Request())
		if err != nil {
			return errors.New(gateway.ErrorMessage(err))
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		} else {
			printReport(cmd.OutOrStdout(), report)
		}
		if strict && !report.Verdict.IsDAG {
			return errNotDAG
		}
		return nil
	},
}

var submitCmd = &cobra.Command{
	Use:     "submit <pipeline>",
	Short:   "Validate a saved pipeline on the server and record the run",
	GroupID: "validation",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := pfClient.ValidatePipeline(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("submitting pipeline: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printReport(cmd.OutOrStdout(), res.Report)
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:     "runs <pipeline>",
	Short:   "Show a pipeline's validation history",
	GroupID: "validation",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := pfClient.ListRuns(context.Background(), args[0], limit)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), runs)
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

func init() {
	validateCmd.Flags().String("remote", "", "validator URL (http://, https:// or grpc://)")
	validateCmd.Flags().Bool("use-remote", false, "use the active remote's validator")
	validateCmd.Flags().Duration("timeout", gateway.DefaultTimeout, "submission timeout")
	validateCmd.Flags().Bool("strict", false, "check edge references and fail on cycles")

	runsCmd.Flags().Int("limit", 0, "maximum number of runs (server default when 0)")
}
