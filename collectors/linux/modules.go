package linux

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"irkit/collectors"
)

const modulesPath = "/proc/modules"

type moduleRow struct {
	Name         string `structs:"name"`
	SizeBytes    string `structs:"size_bytes"`
	Instances    string `structs:"instances"`
	Dependencies string `structs:"dependencies"`
	State        string `structs:"state"`
	Address      string `structs:"address"`
}

type ModuleOptions struct {
	FS afero.Fs
}

type ModuleCollector struct {
	fs    afero.Fs
	lsmod func(ctx context.Context) ([]byte, error)
}

func NewModuleCollector(opts ModuleOptions) *ModuleCollector {
	return &ModuleCollector{
		fs: hostFS(opts.FS),
		lsmod: func(ctx context.Context) ([]byte, error) {
			return runCmd(ctx, "lsmod")
		},
	}
}

func (c *ModuleCollector) ID() string                    { return "modules" }
func (c *ModuleCollector) Category() collectors.Category { return collectors.CategoryModule }
func (c *ModuleCollector) Schema() []string              { return collectors.ModuleSchema }

func (c *ModuleCollector) Collect(ctx context.Context, rc collectors.RunContext) ([]collectors.Row, error) {
	b, err := afero.ReadFile(c.fs, modulesPath)
	if err == nil {
		return parseProcModules(b), nil
	}

	out, lerr := c.lsmod(ctx)
	if lerr != nil {
		return nil, errors.Wrapf(err, "read %s (lsmod fallback: %v)", modulesPath, lerr)
	}
	return parseLsmod(out), nil
}

// parseProcModules parses lines of the form
//
//	name size instances deps state address
//
// where deps is a comma separated list with a trailing comma, or "-".
func parseProcModules(b []byte) []collectors.Row {
	var rows []collectors.Row
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		f := strings.Fields(s.Text())
		if len(f) < 3 {
			continue
		}
		m := moduleRow{Name: f[0], SizeBytes: f[1], Instances: f[2]}
		if len(f) > 3 && f[3] != "-" {
			m.Dependencies = strings.TrimSuffix(f[3], ",")
		}
		if len(f) > 4 {
			m.State = f[4]
		}
		if len(f) > 5 {
			m.Address = f[5]
		}
		rows = append(rows, collectors.RowFrom(m))
	}
	return rows
}

// parseLsmod parses `lsmod` output: "Module Size Used by" header, then
// name, size, use count and an optional dependency list.
func parseLsmod(b []byte) []collectors.Row {
	var rows []collectors.Row
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		f := strings.Fields(s.Text())
		if len(f) < 3 || f[0] == "Module" {
			continue
		}
		m := moduleRow{Name: f[0], SizeBytes: f[1], Instances: f[2]}
		if len(f) > 3 {
			m.Dependencies = f[3]
		}
		rows = append(rows, collectors.RowFrom(m))
	}
	return rows
}
