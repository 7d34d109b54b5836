package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/dumper/pkg/config"
	"github.com/ormasoftchile/dumper/pkg/connector"
	"github.com/ormasoftchile/dumper/pkg/engine"
	"github.com/ormasoftchile/dumper/pkg/logging"
	"github.com/ormasoftchile/dumper/pkg/report"
	"github.com/ormasoftchile/dumper/pkg/sink"
	"github.com/ormasoftchile/dumper/pkg/trace"
	"github.com/ormasoftchile/dumper/pkg/usage"
)

// RequiredFailedError reports a completed run in which required tasks failed.
type RequiredFailedError struct {
	Count int
}

func (e *RequiredFailedError) Error() string {
	if e.Count == 1 {
		return "1 required task failed"
	}
	return fmt.Sprintf("%d required tasks failed", e.Count)
}

type runFlags struct {
	args config.Arguments
	vars []string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a connector and write its output",
		Long: "Run a connector's tasks in order and write their output to a directory,\n" +
			"a .zip archive, or an s3://bucket/prefix location. Flags default to the\n" +
			"matching DUMPER_* environment variables.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args, err := resolveArguments(cmd, f)
			if err != nil {
				return err
			}
			return runDumper(cmd, args)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.args.Connector, "connector", "", "Connector to run (see `dumper connectors`)")
	fl.StringVar(&f.args.Output, "output", "", "Output directory, .zip file, or s3://bucket/prefix")
	fl.BoolVar(&f.args.Continue, "continue", false, "Keep existing output and skip tasks whose output exists")
	fl.BoolVar(&f.args.DryRun, "dry-run", false, "Print the task tree without connecting or writing")
	fl.IntVar(&f.args.PoolSize, "pool-size", config.DefaultPoolSize, "Concurrent queries within a task")
	fl.StringVar(&f.args.URL, "url", "", "Database URL")
	fl.StringVar(&f.args.Password, "password", "", "Database password (prefer "+config.EnvPassword+")")
	fl.StringVar(&f.args.Plan, "plan", "", "Plan YAML for the plan connector")
	fl.StringVar(&f.args.Trace, "trace", "", "Append a JSONL trace to this file")
	fl.DurationVar(&f.args.HTTPTimeout, "http-timeout", 30*time.Second, "Timeout for HTTP sources")
	fl.BoolVar(&f.args.Pretty, "pretty", false, "Render the dry-run tree for the terminal")
	fl.StringArrayVar(&f.vars, "var", nil, "Set a plan variable (key=value), repeatable")
	return cmd
}

// resolveArguments starts from the environment and applies every flag that
// was set explicitly.
func resolveArguments(cmd *cobra.Command, f *runFlags) (*config.Arguments, error) {
	fs := cmd.Flags()
	args, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("connector", func() { args.Connector = f.args.Connector })
	set("output", func() { args.Output = f.args.Output })
	set("continue", func() { args.Continue = f.args.Continue })
	set("dry-run", func() { args.DryRun = f.args.DryRun })
	set("pool-size", func() { args.PoolSize = f.args.PoolSize })
	set("url", func() { args.URL = f.args.URL })
	set("password", func() { args.Password = f.args.Password })
	set("plan", func() { args.Plan = f.args.Plan })
	set("trace", func() { args.Trace = f.args.Trace })
	set("http-timeout", func() { args.HTTPTimeout = f.args.HTTPTimeout })
	set("pretty", func() { args.Pretty = f.args.Pretty })

	vars, err := parseVars(f.vars)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		args.Vars = vars
	}

	// Persistent flags are declared on the root command.
	if v, err := fs.GetBool("verbose"); err == nil && fs.Changed("verbose") {
		args.Verbose = v
	}
	if v, err := fs.GetString("log-format"); err == nil && fs.Changed("log-format") {
		args.LogFormat = v
	}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	return &args, nil
}

// parseVars parses repeated key=value flags.
func parseVars(kvs []string) (map[string]string, error) {
	vars := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, usage.Newf("invalid --var %q: expected key=value", kv)
		}
		vars[k] = v
	}
	return vars, nil
}

func runDumper(cmd *cobra.Command, args *config.Arguments) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	logger := logging.New(cmd.ErrOrStderr(), args.Verbose, args.LogFormat)
	ctx = logging.WithLogger(ctx, logger)

	c, err := connector.Default().Get(args.Connector)
	if err != nil {
		return err
	}
	if err := c.Validate(args); err != nil {
		return err
	}
	tasks, err := connector.Tasks(c, args, version, time.Now)
	if err != nil {
		return err
	}
	if args.DryRun {
		return report.DryRun(cmd.OutOrStdout(), c.Name(), args.Output, tasks, args.Pretty)
	}

	sinks, err := openOutput(ctx, args)
	if err != nil {
		return err
	}
	sinksOpen := true
	defer func() {
		if sinksOpen {
			err = errors.Join(err, sinks.Close())
		}
	}()

	handle, err := c.Open(ctx, args)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			logger.Warn("could not close connection", "error", cerr)
		}
	}()

	tw, err := openTrace(args)
	if err != nil {
		return err
	}
	defer tw.Close()

	logger.Info("starting", "connector", c.Name(), "output", sinks.String(), "run_id", tw.RunID())
	res := engine.New(tasks, engine.RunConfig{
		Sinks:     sinks,
		Handle:    handle,
		Arguments: args,
		Trace:     tw,
	}).Run(ctx)

	// The summary reports where output was saved, so the archive must be
	// complete first.
	sinksOpen = false
	closeErr := sinks.Close()
	if rerr := report.Summary(cmd.OutOrStdout(), res, args.Output); rerr != nil {
		logger.Warn("could not write summary", "error", rerr)
	}

	switch {
	case res.Error != nil:
		return res.Error
	case closeErr != nil:
		return fmt.Errorf("close output: %w", closeErr)
	case res.FailedRequired > 0:
		return &RequiredFailedError{Count: res.FailedRequired}
	}
	return nil
}

func openOutput(ctx context.Context, args *config.Arguments) (sink.Factory, error) {
	var objects sink.ObjectConfig
	if strings.HasPrefix(args.Output, "s3://") {
		var err error
		if objects, err = config.ObjectConfigFromEnv(); err != nil {
			return nil, err
		}
	}
	return sink.Open(ctx, args.Output, args.Continue, objects)
}

// openTrace returns a nil writer when no trace was requested; the nil
// writer ignores events.
func openTrace(args *config.Arguments) (*trace.Writer, error) {
	if args.Trace == "" {
		return nil, nil
	}
	tw, err := trace.NewFileWriter(args.Trace, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}
	tw.SetSecrets(args.Secrets())
	return tw, nil
}
