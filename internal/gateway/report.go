package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/model"
)

// Level grades a report for whoever displays it.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Report is the user-facing result of a submission.
type Report struct {
	Verdict model.Verdict `json:"verdict"`
	Level   Level         `json:"level"`
	Advice  string        `json:"advice"`
}

// NewReport grades a verdict.
func NewReport(v model.Verdict) *Report {
	r := &Report{Verdict: v}
	switch {
	case v.NumNodes == 0:
		r.Level = LevelInfo
		r.Advice = "Your pipeline is empty. Try adding some nodes!"
	case v.NumEdges == 0:
		r.Level = LevelInfo
		r.Advice = "You have nodes but no connections. Consider linking them together!"
	case v.IsDAG:
		r.Level = LevelSuccess
		r.Advice = "Great! Your pipeline is properly structured and ready to use."
	default:
		r.Level = LevelWarning
		r.Advice = "Warning: Your pipeline contains cycles. Please check your connections."
	}
	return r
}

// String renders the report as plain text.
func (r *Report) String() string {
	dag := "No"
	if r.Verdict.IsDAG {
		dag = "Yes"
	}
	var b strings.Builder
	b.WriteString("Pipeline Analysis Results:\n\n")
	fmt.Fprintf(&b, "Number of Nodes: %d\n", r.Verdict.NumNodes)
	fmt.Fprintf(&b, "Number of Edges: %d\n", r.Verdict.NumEdges)
	fmt.Fprintf(&b, "Is Valid DAG: %s\n\n", dag)
	b.WriteString(r.Advice)
	return b.String()
}

// ErrorMessage converts a submission error into a user-facing message.
func ErrorMessage(err error) string {
	const prefix = "Failed to analyze pipeline: "
	var se *ServerError
	switch {
	case errors.Is(err, ErrTimeout):
		return prefix + "Request timed out. Please try again."
	case errors.Is(err, ErrUnavailable):
		return prefix + "Cannot connect to server. Please ensure the validator is running."
	case errors.Is(err, ErrMalformedResponse):
		return prefix + "Server returned invalid data. Please try again."
	case errors.As(err, &se):
		return prefix + se.Error()
	default:
		return prefix + err.Error()
	}
}
