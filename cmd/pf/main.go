package main

import (
	"os"
	"os/exec"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/client"
	"github.com/alfredjeanlab/pipeflow/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool
	noColor    bool
	actor      string

	pfClient client.PipelinesClient
)

func defaultActor() string {
	if s := os.Getenv("PIPEFLOW_ACTOR"); s != "" {
		return s
	}
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	return "unknown"
}

func defaultServerURL() string {
	if s := os.Getenv("PIPEFLOW_URL"); s != "" {
		return s
	}
	if u := activeRemote().URL; u != "" {
		return u
	}
	return "http://localhost:8000"
}

func defaultToken() string {
	if s := os.Getenv("PIPEFLOW_TOKEN"); s != "" {
		return s
	}
	return activeRemote().Token
}

// noClient is used by commands that work offline.
func noClient(cmd *cobra.Command, args []string) error {
	applyColor()
	return nil
}

func applyColor() {
	if noColor || !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
}

var rootCmd = &cobra.Command{
	Use:          "pf <command>",
	Short:        "Build, inspect and validate pipeline graphs",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		applyColor()
		pfClient = client.NewHTTPClient(serverURL, authToken).WithActor(actor)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if pfClient != nil {
			pfClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "pipeflow server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor name recorded on changes")

	rootCmd.AddGroup(
		&cobra.Group{ID: "pipelines", Title: "Pipelines:"},
		&cobra.Group{ID: "graph", Title: "Graph:"},
		&cobra.Group{ID: "validation", Title: "Validation:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	installHelp(rootCmd)

	// Pipelines
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(watchCmd)

	// Graph
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(edgeCmd)
	rootCmd.AddCommand(typesCmd)

	// Validation
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(runsCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
