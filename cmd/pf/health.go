package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/spf13/cobra"
)

// probe is the outcome of one health check.
type probe struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

func (p probe) ok() bool { return p.Error == "" && p.Status == "ok" }

func timed(fn func() (string, error)) probe {
	start := time.Now()
	status, err := fn()
	p := probe{Status: status, Latency: time.Since(start).Round(time.Millisecond).String()}
	if err != nil {
		if p.Status == "" {
			p.Status = "down"
		}
		p.Error = err.Error()
	}
	return p
}

// probeValidator submits an empty pipeline, which every validator must
// answer with zero counts and is_dag true.
func probeValidator(ctx context.Context, rawURL string) probe {
	p := timed(func() (string, error) {
		v, closeFn, err := newRemoteValidator(rawURL, authToken)
		if err != nil {
			return "", err
		}
		defer closeFn()
		verdict, err := v.Validate(ctx, &model.PipelineRequest{Nodes: []model.WireNode{}, Edges: []model.WireEdge{}})
		if err != nil {
			return "", err
		}
		if verdict != (model.Verdict{IsDAG: true}) {
			return "degraded", fmt.Errorf("unexpected verdict for empty pipeline: %+v", verdict)
		}
		return "ok", nil
	})
	p.Kind, p.Target = "validator", rawURL
	return p
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the server and, when configured, the validator",
	Long: `Check the pipeflow server and, when configured, the validator.

The validator is probed with an empty pipeline. Its URL comes from --validator
or the active remote. The command exits non-zero when any probe fails.`,
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		validatorURL, _ := cmd.Flags().GetString("validator")
		if validatorURL == "" {
			validatorURL = activeRemote().ValidatorURL
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		server := timed(func() (string, error) { return pfClient.Health(ctx) })
		server.Kind, server.Target = "server", serverURL
		probes := []probe{server}
		if validatorURL != "" {
			probes = append(probes, probeValidator(ctx, validatorURL))
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), probes); err != nil {
				return err
			}
		} else {
			for _, p := range probes {
				line := fmt.Sprintf("%-9s %-9s %s  %s", p.Kind, p.Status, p.Target, p.Latency)
				if p.Error != "" {
					line += ": " + p.Error
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
		}

		for _, p := range probes {
			if !p.ok() {
				return fmt.Errorf("unhealthy: %s %s is %s", p.Kind, p.Target, p.Status)
			}
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("validator", "", "validator URL to probe (defaults to the active remote's)")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "overall deadline for the checks")
}
