package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"irkit/analyzers/ioc"
	"irkit/analyzers/timeline"
	"irkit/evidence"
)

func NewVerifyCmd(stdout io.Writer) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify <bundle-dir>",
		Short: "Check a written bundle against its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := evidence.Verify(cmd.Context(), afero.NewOsFs(), args[0])
			if err != nil {
				return withCode(ExitFatal, err)
			}

			if asJSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return withCode(ExitFatal, err)
				}
			} else if rep.OK() {
				fmt.Fprintf(stdout, "%s %s (%d records, bundle digest %s)\n",
					successStyle.Render("intact:"), args[0], len(rep.Manifest.Records), rep.Manifest.BundleDigest)
			} else {
				for _, p := range rep.Problems {
					fmt.Fprintf(stdout, "%s %s\n", errorStyle.Render("problem:"), p)
				}
			}
			if !rep.OK() {
				return withCode(ExitFailures, rep.Err())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func NewTimelineCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <bundle-dir>",
		Short: "Print the bundle's events in time order as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := timeline.Build(cmd.Context(), afero.NewOsFs(), args[0])
			if err != nil {
				return withCode(ExitFatal, err)
			}
			if err := timeline.WriteJSONL(stdout, events); err != nil {
				return withCode(ExitFatal, err)
			}
			return nil
		},
	}
}

func NewScanCmd(stdout io.Writer) *cobra.Command {
	var iocFile string

	cmd := &cobra.Command{
		Use:   "scan <bundle-dir>",
		Short: "Search the bundle's rows for IOC patterns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			patterns, err := ioc.LoadPatterns(fs, iocFile)
			if err != nil {
				return withCode(ExitFatal, err)
			}
			res, err := ioc.Scan(cmd.Context(), fs, args[0], patterns)
			if err != nil {
				return withCode(ExitFatal, err)
			}
			res.IOCFile = iocFile

			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return withCode(ExitFatal, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&iocFile, "ioc-file", "", "IOC list file (one pattern per line)")
	_ = cmd.MarkFlagRequired("ioc-file")
	return cmd
}
