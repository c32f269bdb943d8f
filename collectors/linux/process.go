package linux

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/afero"

	"irkit/collectors"
)

type processRow struct {
	PID            int32  `structs:"pid"`
	PPID           string `structs:"ppid"`
	Name           string `structs:"name"`
	ExecutablePath string `structs:"executable_path"`
	CommandLine    string `structs:"command_line"`
	StartTime      string `structs:"start_time"`
	Owner          string `structs:"owner"`
}

type processSource interface {
	pids(ctx context.Context) ([]int32, error)
	describe(ctx context.Context, pid int32) (processRow, error)
}

type ProcessOptions struct {
	FS                afero.Fs
	AllowUnprivileged bool
}

type ProcessCollector struct {
	fs                afero.Fs
	allowUnprivileged bool
	src               processSource
}

func NewProcessCollector(opts ProcessOptions) *ProcessCollector {
	return &ProcessCollector{
		fs:                hostFS(opts.FS),
		allowUnprivileged: opts.AllowUnprivileged,
		src:               gopsutilProcesses{},
	}
}

func (c *ProcessCollector) ID() string                    { return "processes" }
func (c *ProcessCollector) Category() collectors.Category { return collectors.CategoryProcess }
func (c *ProcessCollector) Schema() []string              { return collectors.ProcessSchema }

func (c *ProcessCollector) Precondition(ctx context.Context, rc collectors.RunContext) error {
	if err := requirePrivilege(rc, c.allowUnprivileged); err != nil {
		return err
	}
	return probeProcTable(c.fs)
}

func (c *ProcessCollector) Collect(ctx context.Context, rc collectors.RunContext) ([]collectors.Row, error) {
	pids, err := c.src.pids(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list processes")
	}

	rows := make([]collectors.Row, 0, len(pids))
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		p, err := c.src.describe(ctx, pid)
		if err != nil {
			// exited between listing and inspection
			continue
		}
		rows = append(rows, collectors.RowFrom(p))
	}
	return rows, nil
}

type gopsutilProcesses struct{}

func (gopsutilProcesses) pids(ctx context.Context) ([]int32, error) {
	return process.PidsWithContext(ctx)
}

func (gopsutilProcesses) describe(ctx context.Context, pid int32) (processRow, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return processRow{}, err
	}

	row := processRow{PID: pid}
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		row.PPID = strconv.FormatInt(int64(ppid), 10)
	}
	row.Name, _ = p.NameWithContext(ctx)
	row.ExecutablePath, _ = p.ExeWithContext(ctx)
	row.CommandLine, _ = p.CmdlineWithContext(ctx)
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		row.StartTime = time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
	}
	row.Owner, _ = p.UsernameWithContext(ctx)
	return row, nil
}
