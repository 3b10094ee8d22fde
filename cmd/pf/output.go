package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printPipeline(w io.Writer, p *model.Pipeline) {
	fmt.Fprintf(w, "ID:          %s\n", p.ID)
	fmt.Fprintf(w, "Name:        %s\n", p.Name)
	if p.CreatedBy != "" {
		fmt.Fprintf(w, "Created By:  %s\n", p.CreatedBy)
	}
	if !p.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated At:  %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	fmt.Fprintf(w, "\n%s (%d)\n", ui.RenderAccent("Nodes"), len(p.Nodes))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i := range p.Nodes {
		n := &p.Nodes[i]
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", n.ID, n.Type, ui.RenderMuted(portSummary(n)))
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%s (%d)\n", ui.RenderAccent("Edges"), len(p.Edges))
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range p.Edges {
		fmt.Fprintf(tw, "  %s\t%s\t->\t%s\n", e.ID, e.SourceHandle, e.TargetHandle)
	}
	tw.Flush()
}

// portSummary renders a node's ports as "in: a, b  out: c".
func portSummary(n *model.Node) string {
	var in, out []string
	for _, p := range n.Ports {
		if p.Direction == model.PortInput {
			in = append(in, p.Name)
		} else {
			out = append(out, p.Name)
		}
	}
	var parts []string
	if len(in) > 0 {
		parts = append(parts, "in: "+strings.Join(in, ", "))
	}
	if len(out) > 0 {
		parts = append(parts, "out: "+strings.Join(out, ", "))
	}
	return strings.Join(parts, "  ")
}

func printPipelineList(w io.Writer, pipelines []*model.Pipeline, total int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tNODES\tEDGES\tCREATED BY\tUPDATED")
	nameWidth := min(max(ui.Width()-70, 20), 60)
	for _, p := range pipelines {
		name := ui.Truncate(p.Name, nameWidth)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			p.ID,
			name,
			len(p.Nodes),
			len(p.Edges),
			p.CreatedBy,
			p.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d pipelines (%d total)\n", len(pipelines), total)
}

func printNode(w io.Writer, n *model.Node) {
	fmt.Fprintf(w, "ID:    %s\n", n.ID)
	fmt.Fprintf(w, "Type:  %s\n", n.Type)
	fmt.Fprintf(w, "Pos:   %g, %g\n", n.Position.X, n.Position.Y)

	keys := make([]string, 0, len(n.Data))
	for k := range n.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(w, "Data:")
		for _, k := range keys {
			v, _ := json.Marshal(n.Data[k])
			fmt.Fprintf(w, "  %s = %s\n", k, v)
		}
	}
	if len(n.Ports) > 0 {
		fmt.Fprintln(w, "Ports:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, p := range n.Ports {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", p.ID, p.Direction, ui.RenderMuted(string(p.Origin)))
		}
		tw.Flush()
	}
}

func printRemovedEdges(w io.Writer, edges []model.Edge) {
	for _, e := range edges {
		fmt.Fprintf(w, "%s %s (%s -> %s)\n", ui.RenderWarning("removed edge"), e.ID, e.SourceHandle, e.TargetHandle)
	}
}

func printReport(w io.Writer, r *gateway.Report) {
	dag := "No"
	if r.Verdict.IsDAG {
		dag = "Yes"
	}
	fmt.Fprintln(w, ui.RenderAccent("Pipeline Analysis Results:"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Number of Nodes: %d\n", r.Verdict.NumNodes)
	fmt.Fprintf(w, "Number of Edges: %d\n", r.Verdict.NumEdges)
	fmt.Fprintf(w, "Is Valid DAG: %s\n", dag)
	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.RenderLevel(string(r.Level), r.Advice))
}

func printRuns(w io.Writer, runs []*model.ValidationRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no validation runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tWHEN\tNODES\tEDGES\tDAG\tSOURCE\tACTOR")
	for _, r := range runs {
		dag := ui.RenderSuccess("yes")
		if !r.Verdict.IsDAG {
			dag = ui.RenderWarning("no")
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
			r.ID,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Verdict.NumNodes,
			r.Verdict.NumEdges,
			dag,
			r.Source,
			r.Actor,
		)
	}
	tw.Flush()
}

func printCatalog(w io.Writer, specs []*model.NodeSpec) {
	for i, s := range specs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s  %s\n", ui.RenderAccent(string(s.Type)), ui.RenderMuted(s.Title))
		if len(s.Inputs) > 0 {
			fmt.Fprintf(w, "  inputs:  %s\n", strings.Join(s.Inputs, ", "))
		}
		if len(s.Outputs) > 0 {
			fmt.Fprintf(w, "  outputs: %s\n", strings.Join(s.Outputs, ", "))
		}
		if s.TemplateField != "" {
			fmt.Fprintf(w, "  inputs from {{variables}} in %q\n", s.TemplateField)
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, f := range s.Fields {
			extra := ""
			if len(f.Options) > 0 {
				extra = strings.Join(f.Options, " | ")
			} else if f.Default != nil {
				d, _ := json.Marshal(f.Default)
				extra = "default " + string(d)
			}
			fmt.Fprintf(tw, "  - %s\t%s\t%s\n", f.Name, f.Kind, ui.RenderMuted(extra))
		}
		tw.Flush()
	}
}
