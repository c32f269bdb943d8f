// Package registry holds the fixed catalog of collectors per mode.
package registry

import (
	"fmt"

	"github.com/spf13/afero"

	"irkit/collectors"
	"irkit/collectors/demo"
	"irkit/collectors/linux"
	"irkit/faults"
)

type Options struct {
	// FS is the host filesystem the live collectors read. nil means the real
	// root, read-only.
	FS                afero.Fs
	AllowUnprivileged bool
	Disk              linux.DiskOptions
}

type Registry struct {
	opts Options
}

func New(opts Options) *Registry {
	return &Registry{opts: opts}
}

// ListFor returns the collectors of mode in their fixed order. Each call builds
// fresh collector values.
func (r *Registry) ListFor(mode collectors.Mode) ([]collectors.Collector, error) {
	switch mode {
	case collectors.ModeLive:
		disk := r.opts.Disk
		if disk.FS == nil {
			disk.FS = r.opts.FS
		}
		return []collectors.Collector{
			linux.NewProcessCollector(linux.ProcessOptions{FS: r.opts.FS, AllowUnprivileged: r.opts.AllowUnprivileged}),
			linux.NewNetworkCollector(linux.NetworkOptions{AllowUnprivileged: r.opts.AllowUnprivileged}),
			linux.NewUserCollector(linux.UserOptions{FS: r.opts.FS}),
			linux.NewModuleCollector(linux.ModuleOptions{FS: r.opts.FS}),
			linux.NewDiskHighlightCollector(disk),
		}, nil
	case collectors.ModeDemo:
		return demo.Collectors(), nil
	}
	return nil, &faults.ConfigurationError{Field: "mode", Err: fmt.Errorf("unknown mode %q", mode)}
}
