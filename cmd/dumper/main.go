// Package main provides the dumper CLI entrypoint:
//
//	dumper run --connector <name> --output <dir|file.zip|s3://bucket/prefix>
//	dumper validate <plan.yaml>
//	dumper schema        (exports the plan JSON Schema)
//	dumper connectors
//	dumper version
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/dumper/pkg/connector"
	"github.com/ormasoftchile/dumper/pkg/plan"
	"github.com/ormasoftchile/dumper/pkg/report"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(argv []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(argv)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error: "+usage.Format(err))
		return usage.ExitCode(err)
	}
	return usage.ExitSuccess
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dumper",
		Short:         "Extract metadata from external systems into a single archive",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usage.Wrap(err, "invalid flags")
	})
	root.PersistentFlags().Bool("verbose", false, "Log at debug level")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newConnectorsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// --- validate ---

func newValidateCmd() *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "validate [plan.yaml]",
		Short: "Validate a plan YAML (3-phase pipeline)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}
			p, errs := plan.ValidateFile(args[0], overrides)
			if len(errs) > 0 {
				stderr := cmd.ErrOrStderr()
				fmt.Fprintf(stderr, "Validation failed: %d error(s)\n\n", len(errs))
				for i, e := range errs {
					fmt.Fprintf(stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
					if e.Path != "" {
						fmt.Fprintf(stderr, "     at: %s\n", e.Path)
					}
				}
				return usage.Newf("validation failed with %d error(s)", len(errs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d tasks)\n", p.Name, countEntries(p.Tasks))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Set a plan variable (key=value), repeatable")
	return cmd
}

func countEntries(entries []plan.Entry) int {
	n := 0
	for _, e := range entries {
		if e.IsGroup() {
			n += countEntries(e.Tasks)
		} else {
			n++
		}
	}
	return n
}

// --- schema ---

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Export the plan JSON Schema to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := plan.GenerateJSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

// --- connectors ---

func newConnectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List available connectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return report.Connectors(cmd.OutOrStdout(), connector.Default().All())
		},
	}
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dumper %s (%s)\n", version, commit)
		},
	}
}
