package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/containerd/errdefs"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"irkit/collectors"
	"irkit/collectors/registry"
	"irkit/collectors/system"
	"irkit/core/internal/config"
	"irkit/core/internal/evidence"
	"irkit/core/internal/session"
	"irkit/core/internal/triage"
	"irkit/core/internal/version"
)

// Host probes used by the collect command.
var (
	identifyHost = func(ctx context.Context) system.Host { return system.Identify(ctx, nil) }
	privileged   = system.Privileged
	newLister    = func(cfg config.Config) triage.Lister { return registry.New(cfg.RegistryOptions()) }
)

func resolveConfig(cmd *cobra.Command, flags globalFlags) (config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(nil, flags.configFile)
	if err != nil {
		return cfg, err
	}
	if err := config.ApplyEnv(&cfg, nil); err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	if f.Changed("output") {
		cfg.Output = flags.output
	}
	if f.Changed("demo") {
		cfg.Demo = flags.demo
	}
	if f.Changed("session-id") {
		cfg.SessionID = flags.sessionID
	}
	if f.Changed("parallel") {
		cfg.Parallel = flags.parallel
	}
	if f.Changed("workers") {
		cfg.Workers = flags.workers
	}
	if f.Changed("collector-timeout") {
		cfg.CollectorTimeout = flags.collectorTimeout
	}
	if f.Changed("grace") {
		cfg.Grace = flags.grace
	}
	if f.Changed("allow-unprivileged") {
		cfg.AllowUnprivileged = flags.allowUnprivileged
	}
	if f.Changed("verbose") {
		cfg.Verbose = flags.verbose
	}
	return cfg, cfg.Validate()
}

func runCollect(cmd *cobra.Command, flags globalFlags, stdout, stderr io.Writer) error {
	ctx := cmd.Context()

	cfg, err := resolveConfig(cmd, flags)
	if err != nil {
		return withCode(ExitFatal, err)
	}
	logger := newLogger(stderr, cfg.Verbose)
	mode := cfg.Mode()

	var host system.Host
	priv := false
	if mode == collectors.ModeDemo {
		host = system.Demo()
	} else {
		host = identifyHost(ctx)
		if host.Hostname == system.UnknownHostname {
			logger.Warn("hostname could not be resolved", "hostname", host.Hostname)
		}
		priv = privileged()
		if !priv && !cfg.AllowUnprivileged {
			logger.Warn("not running as root: process and network collection will fail their precondition")
		}
	}

	sess, err := session.New(session.Options{
		ID:          cfg.SessionID,
		OutputRoot:  cfg.Output,
		Mode:        mode,
		Host:        host,
		Privileged:  priv,
		ToolVersion: version.Version,
	})
	if err != nil {
		return withCode(ExitFatal, err)
	}
	logger.Debug("session created", "session", sess.ID, "output", sess.BundleDir(), "mode", mode)

	printBanner(stdout, host.Hostname, mode, sess.ID)

	res, err := triage.Execute(ctx, sess, newLister(cfg), triage.Options{
		Parallel: cfg.Parallel,
		Workers:  cfg.Workers,
		Timeout:  cfg.CollectorTimeout,
		Grace:    cfg.Grace,
		Logger:   logger,
		OnRecord: func(i, n int, rec collectors.Record) {
			printRecord(stdout, i, n, rec)
		},
	})
	if err != nil {
		return withCode(ExitFatal, err)
	}

	dir, err := seal(sess, logger)
	if err != nil {
		fmt.Fprintf(stdout, "\n%s %v\n", errorStyle.Render("Bundle not written:"), err)
		return withCode(ExitFatal, err)
	}

	fmt.Fprintf(stdout, "\n%s %d ok, %d partial, %d failed of %d collectors\n",
		bannerStyle.Render("Summary:"), res.OK, res.Partial, res.Failed, res.Total)
	fmt.Fprintf(stdout, "%s %s\n", successStyle.Render("Evidence bundle:"), dir)

	if res.HasFailures() {
		return withCode(ExitFailures, nil)
	}
	return nil
}

// seal produces the manifest and writes the bundle. On failure the records are
// dumped next to the bundle directory.
func seal(sess *session.Session, logger *log.Logger) (string, error) {
	dir, err := func() (string, error) {
		m, err := sess.Seal()
		if err != nil {
			return "", err
		}
		return evidence.NewWriter(afero.NewOsFs(), logger).Write(sess, m)
	}()
	if err == nil {
		return dir, nil
	}

	if errdefs.IsAlreadyExists(err) {
		logger.Error("bundle directory already holds evidence; use a new --session-id or --output", "dir", sess.BundleDir())
	}
	if pm, perr := evidence.WritePostmortem(afero.NewOsFs(), sess, err); perr == nil {
		logger.Warn("post-mortem written", "path", pm)
	} else {
		logger.Error("post-mortem failed", "err", perr)
	}
	return "", err
}
