package linux

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"irkit/collectors"
)

var DefaultPersistencePaths = []string{
	"/etc/crontab",
	"/etc/cron.d",
	"/etc/cron.daily",
	"/etc/cron.hourly",
	"/etc/cron.weekly",
	"/etc/cron.monthly",
	"/var/spool/cron/crontabs",
	"/etc/systemd/system",
	"/lib/systemd/system",
	"/etc/init.d",
	"/etc/rc.local",
}

const persistenceContentBytes = 1000

// persistence describes each configured autostart/scheduling location: a
// directory yields its sorted listing, a file its digest and leading content.
// Missing locations are skipped.
func (c *DiskHighlightCollector) persistence() ([]collectors.Row, []string) {
	var rows []collectors.Row
	var errs []string

	for _, p := range c.opts.PersistencePaths {
		info, err := c.fs.Stat(p)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, err.Error())
			}
			continue
		}

		row := c.describe("persistence", p, info)
		if info.IsDir() {
			entries, err := afero.ReadDir(c.fs, p)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "list %s", p).Error())
				continue
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, filepath.Base(e.Name()))
			}
			sort.Strings(names)
			row.Detail = strings.Join(names, ",")
			rows = append(rows, collectors.RowFrom(row))
			continue
		}

		b, err := afero.ReadFile(c.fs, p)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "read %s", p).Error())
			continue
		}
		if h, err := sha256File(c.fs, p); err == nil {
			row.SHA256 = h
		}
		if len(b) > persistenceContentBytes {
			b = b[:persistenceContentBytes]
		}
		row.Detail = string(b)
		rows = append(rows, collectors.RowFrom(row))
	}
	return rows, errs
}
