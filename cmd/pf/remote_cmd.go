package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Manage named server remotes",
	Long: `Manage named server remotes.

Remotes live in $XDG_STATE_HOME/pipeflow/remotes.toml (or the file named by
PIPEFLOW_REMOTES_FILE). PIPEFLOW_REMOTE selects a remote for one command
without changing the active one.`,
	GroupID:           "system",
	PersistentPreRunE: noClient,
}

// updateRemotes loads the remotes file, applies fn and saves the result.
func updateRemotes(fn func(*RemotesConfig) error) error {
	cfg, err := loadRemotesConfig()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return saveRemotesConfig(cfg)
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or replace a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := Remote{URL: args[1]}
		r.Token, _ = cmd.Flags().GetString("token")
		r.NATSURL, _ = cmd.Flags().GetString("nats")
		r.ValidatorURL, _ = cmd.Flags().GetString("validator")
		activate, _ := cmd.Flags().GetBool("use")

		if err := checkURL(r.URL, "http", "https"); err != nil {
			return err
		}
		if r.NATSURL != "" {
			if err := checkURL(r.NATSURL, "nats", "tls"); err != nil {
				return err
			}
		}
		if r.ValidatorURL != "" {
			if err := checkURL(r.ValidatorURL, "http", "https", "grpc"); err != nil {
				return err
			}
		}
		err := updateRemotes(func(cfg *RemotesConfig) error {
			cfg.Remotes[args[0]] = r
			if activate || len(cfg.Remotes) == 1 {
				cfg.Active = args[0]
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q saved (%s)\n", args[0], r.URL)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a named remote",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if _, err := cfg.lookup(args[0]); err != nil {
				return err
			}
			delete(cfg.Remotes, args[0])
			if cfg.Active == args[0] {
				cfg.Active = ""
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", args[0])
		return nil
	},
}

var remoteRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to := args[0], args[1]
		err := updateRemotes(func(cfg *RemotesConfig) error {
			r, err := cfg.lookup(from)
			if err != nil {
				return err
			}
			if _, taken := cfg.Remotes[to]; taken {
				return fmt.Errorf("remote %q already exists", to)
			}
			delete(cfg.Remotes, from)
			cfg.Remotes[to] = r
			if cfg.Active == from {
				cfg.Active = to
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q renamed to %q\n", from, to)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List remotes; the active one is starred",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		if len(cfg.Remotes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no remotes configured")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  NAME\tURL\tVALIDATOR\tTOKEN")
		for _, name := range cfg.names() {
			r := cfg.Remotes[name]
			marker := " "
			if name == cfg.Active {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", marker, name, r.URL, orDash(r.ValidatorURL), orDash(maskToken(r.Token)))
		}
		return w.Flush()
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a remote the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := updateRemotes(func(cfg *RemotesConfig) error {
			if _, err := cfg.lookup(args[0]); err != nil {
				return err
			}
			cfg.Active = args[0]
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "active remote set to %q\n", args[0])
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show a remote (the active one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotesConfig()
		if err != nil {
			return err
		}
		name := cfg.Active
		if len(args) == 1 {
			name = args[0]
		}
		if name == "" {
			return fmt.Errorf("no active remote; name one or run 'pf remote use <name>'")
		}
		r, err := cfg.lookup(name)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if name == cfg.Active {
			name += " (active)"
		}
		fmt.Fprintf(w, "name:\t%s\n", name)
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		fmt.Fprintf(w, "token:\t%s\n", orDash(maskToken(r.Token)))
		fmt.Fprintf(w, "nats_url:\t%s\n", orDash(r.NATSURL))
		fmt.Fprintf(w, "validator_url:\t%s\n", orDash(r.ValidatorURL))
		return w.Flush()
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	remoteAddCmd.Flags().String("token", "", "bearer token sent to the server")
	remoteAddCmd.Flags().String("nats", "", "NATS URL used by 'pf watch'")
	remoteAddCmd.Flags().String("validator", "", "validator URL (http://, https:// or grpc://)")
	remoteAddCmd.Flags().Bool("use", false, "make this the active remote")

	remoteCmd.AddCommand(remoteAddCmd)
	remoteCmd.AddCommand(remoteRemoveCmd)
	remoteCmd.AddCommand(remoteRenameCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteUseCmd)
	remoteCmd.AddCommand(remoteShowCmd)
}
