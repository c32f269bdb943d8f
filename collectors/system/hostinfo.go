// Package system resolves the identity of the host a session runs on.
package system

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/afero"
)

// Host identifies the collection target in the manifest.
type Host struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	OSRelease       string `json:"os_release,omitempty"`
	BootTime        string `json:"boot_time,omitempty"`
}

// UnknownHostname names a host whose hostname cannot be resolved.
const UnknownHostname = "unknown"

var (
	infoFunc     = host.InfoWithContext
	hostnameFunc = os.Hostname
)

// Identify describes the live host. Lookups that fail leave their fields
// empty; an unresolvable hostname becomes UnknownHostname.
func Identify(ctx context.Context, fs afero.Fs) Host {
	h := Host{OS: runtime.GOOS, Arch: runtime.GOARCH}

	if info, err := infoFunc(ctx); err == nil && info != nil {
		h.Hostname = info.Hostname
		h.Platform = info.Platform
		h.PlatformVersion = info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		if info.KernelArch != "" {
			h.Arch = info.KernelArch
		}
		if info.BootTime > 0 {
			h.BootTime = time.Unix(int64(info.BootTime), 0).UTC().Format(time.RFC3339)
		}
	}
	if h.Hostname == "" {
		if name, err := hostnameFunc(); err == nil && name != "" {
			h.Hostname = name
		} else {
			h.Hostname = UnknownHostname
		}
	}

	if fs == nil {
		fs = afero.NewReadOnlyFs(afero.NewOsFs())
	}
	if rel, err := ReadOSRelease(fs); err == nil {
		h.OSRelease = rel.PrettyName()
	}
	return h
}

// Demo is the synthetic host used in demo mode.
func Demo() Host {
	return Host{
		Hostname:        "demo-server",
		OS:              "linux",
		Arch:            "x86_64",
		Platform:        "ubuntu",
		PlatformVersion: "22.04",
		KernelVersion:   "5.15.0-91-generic",
		OSRelease:       "Ubuntu 22.04.3 LTS",
	}
}

// Privileged reports whether the process runs with an effective uid of 0.
func Privileged() bool {
	return os.Geteuid() == 0
}
