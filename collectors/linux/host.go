// Package linux implements the live collectors. They only read host state:
// the proc filesystem, /etc, utmp, and the output of read-only commands.
package linux

import (
	"errors"
	"strconv"

	"github.com/spf13/afero"

	"irkit/collectors"
)

const procRoot = "/proc"

var errUnprivileged = errors.New("elevated privilege required (run as root or allow unprivileged collection)")

// hostFS returns fs, or the real root filesystem read-only.
func hostFS(fs afero.Fs) afero.Fs {
	if fs != nil {
		return fs
	}
	return afero.NewReadOnlyFs(afero.NewOsFs())
}

func requirePrivilege(rc collectors.RunContext, allowUnprivileged bool) error {
	if rc.Privileged || allowUnprivileged {
		return nil
	}
	return errUnprivileged
}

// probeProcTable checks that the process table can be listed.
func probeProcTable(fs afero.Fs) error {
	entries, err := afero.ReadDir(fs, procRoot)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err == nil && e.IsDir() {
			return nil
		}
	}
	return errors.New("process table not readable: no pid entries under " + procRoot)
}
