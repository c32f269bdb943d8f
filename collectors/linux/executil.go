package linux

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

const commandWaitDelay = time.Second

// runCmd runs a read-only helper command bounded by ctx. On cancellation the
// whole process group is killed so no child outlives the collector.
func runCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, errors.Wrapf(err, "%s unavailable", name)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}
	cmd.WaitDelay = commandWaitDelay

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return out.Bytes(), ctx.Err()
		}
		msg := bytes.TrimSpace(stderr.Bytes())
		if len(msg) > 0 {
			return out.Bytes(), errors.Wrapf(err, "%s: %s", name, msg)
		}
		return out.Bytes(), errors.Wrap(err, name)
	}
	return out.Bytes(), nil
}
