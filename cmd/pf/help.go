package main

import (
	"regexp"
	"strings"

	"github.com/alfredjeanlab/pipeflow/internal/ui"
	"github.com/spf13/cobra"
)

// usageTemplate is cobra's default layout with styled headings, command
// names and flag annotations.
const usageTemplate = `{{heading "Usage:"}}{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

{{heading "Aliases:"}}
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

{{heading "Examples:"}}
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

{{heading "Available Commands:"}}{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{cmdName (rpad .Name .NamePadding)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{heading .Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{cmdName (rpad .Name .NamePadding)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

{{heading "Additional Commands:"}}{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{cmdName (rpad .Name .NamePadding)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

{{heading "Flags:"}}
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces | flagUsages}}{{end}}{{if .HasAvailableInheritedFlags}}

{{heading "Global Flags:"}}
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces | flagUsages}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

var (
	reFlagType    = regexp.MustCompile(`(--[\w-]+ )(string|strings|int|duration|bool)\b`)
	reFlagDefault = regexp.MustCompile(`\(default [^)]*\)`)
)

// styleFlagUsages mutes value types and defaults in pflag's usage block.
func styleFlagUsages(s string) string {
	s = reFlagType.ReplaceAllStringFunc(s, func(m string) string {
		parts := reFlagType.FindStringSubmatch(m)
		return parts[1] + ui.RenderMuted(parts[2])
	})
	return reFlagDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}

// installHelp applies the styled usage template to root and resolves the
// color setting before help is printed, since help skips the pre-run hooks.
func installHelp(root *cobra.Command) {
	cobra.AddTemplateFunc("heading", func(s string) string {
		return ui.RenderAccent(strings.TrimSpace(s))
	})
	cobra.AddTemplateFunc("cmdName", ui.RenderCommand)
	cobra.AddTemplateFunc("flagUsages", styleFlagUsages)
	root.SetUsageTemplate(usageTemplate)

	help := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		applyColor()
		help(cmd, args)
	})
}
