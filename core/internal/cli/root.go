package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"irkit/core/internal/version"
)

type globalFlags struct {
	configFile        string
	envFile           string
	output            string
	demo              bool
	sessionID         string
	parallel          bool
	workers           int
	collectorTimeout  time.Duration
	grace             time.Duration
	allowUnprivileged bool
	verbose           bool
}

func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "irkit",
		Short: "Collect volatile and persistent forensic artifacts from a live Linux host",
		Long: "irkit runs a fixed set of read-only collectors against the local host and\n" +
			"writes their results into a sealed, timestamped evidence bundle.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd, flags, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "YAML configuration file")
	f.StringVar(&flags.envFile, "env-file", ".env", "dotenv file with IRKIT_* settings")
	f.StringVarP(&flags.output, "output", "o", "", "output root directory (default \"./ir_collection\")")
	f.BoolVar(&flags.demo, "demo", false, "collect synthetic demo data instead of host state")
	f.StringVar(&flags.sessionID, "session-id", "", "session id (default: <hostname>-<timestamp>-<random>)")
	f.BoolVar(&flags.parallel, "parallel", false, "run collectors concurrently")
	f.IntVar(&flags.workers, "workers", 0, "parallel workers (default: one per collector)")
	f.DurationVar(&flags.collectorTimeout, "collector-timeout", 0, "per-collector time limit (default 30s)")
	f.DurationVar(&flags.grace, "grace", 0, "time a cancelled collector gets to stop (default 2s)")
	f.BoolVar(&flags.allowUnprivileged, "allow-unprivileged", false, "run privileged collectors without root")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewVerifyCmd(stdout))
	cmd.AddCommand(NewTimelineCmd(stdout))
	cmd.AddCommand(NewScanCmd(stdout))
	cmd.AddCommand(NewVersionCmd(stdout))

	cmd.SetVersionTemplate(fmt.Sprintf("%s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH))
	cmd.Version = version.Version

	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		reportError(stderr, err)
	}
	return ExitCode(err)
}

func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          "irkit",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
}
