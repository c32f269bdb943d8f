package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"irkit/faults"
)

const (
	DefaultTimeout = 30 * time.Second
	DefaultGrace   = 2 * time.Second
)

type RunOptions struct {
	// Timeout is the per-collector ceiling. Zero means DefaultTimeout.
	Timeout time.Duration
	// Grace is how long a collector may take to return after its context was
	// cancelled before it is abandoned. Zero means DefaultGrace.
	Grace time.Duration
}

type outcome struct {
	rows []Row
	err  error
}

// Run executes c under the collector contract and always returns a Record:
// precondition failures, errors, panics, timeouts and cancellation are all
// converted into the record's status and error.
func Run(ctx context.Context, c Collector, rc RunContext, opts RunOptions) Record {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	rec := Record{
		CollectorID: c.ID(),
		Category:    c.Category(),
		CollectedAt: rc.NowUTC().Round(0),
		Payload:     []Row{},
	}

	if err := ctx.Err(); err != nil {
		return finish(rec, rc, nil, StatusFailed, "skipped: session cancelled")
	}

	if p, ok := c.(Preconditioner); ok {
		if err := safePrecondition(ctx, p, rc); err != nil {
			fault := &faults.CollectorFault{Collector: c.ID(), Precondition: true, Err: err}
			return finish(rec, rc, nil, StatusFailed, fault.Error())
		}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		rows, err := c.Collect(cctx, rc)
		done <- outcome{rows: rows, err: err}
	}()

	// interrupted is decided when the collector's result is received so a
	// deadline passing afterwards cannot relabel a complete result.
	var out outcome
	var interrupted bool
	var sessionErr error
	select {
	case out = <-done:
		interrupted = out.err != nil && cctx.Err() != nil
		sessionErr = ctx.Err()
	case <-cctx.Done():
		interrupted = true
		sessionErr = ctx.Err()
		select {
		case out = <-done:
		case <-time.After(grace):
			return finish(rec, rc, nil, StatusFailed, "abandoned: collector did not stop within grace period")
		}
	}

	schema := c.Schema()
	switch {
	case interrupted && sessionErr != nil:
		return finish(rec, rc, Normalize(schema, out.rows), StatusPartial,
			errors.Wrap(sessionErr, "session cancelled").Error())
	case interrupted:
		return finish(rec, rc, Normalize(schema, out.rows), StatusPartial,
			fmt.Sprintf("timed out after %s", timeout))
	case out.err != nil && len(out.rows) > 0:
		fault := &faults.CollectorFault{Collector: c.ID(), Err: out.err}
		return finish(rec, rc, Normalize(schema, out.rows), StatusPartial, fault.Error())
	case out.err != nil:
		fault := &faults.CollectorFault{Collector: c.ID(), Err: out.err}
		return finish(rec, rc, nil, StatusFailed, fault.Error())
	}
	return finish(rec, rc, Normalize(schema, out.rows), StatusOK, "")
}

func safePrecondition(ctx context.Context, p Preconditioner, rc RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("precondition probe panicked: %v", r)
		}
	}()
	return p.Precondition(ctx, rc)
}

func finish(rec Record, rc RunContext, rows []Row, status Status, msg string) Record {
	if rows == nil {
		rows = []Row{}
	}
	rec.Payload = rows
	rec.Status = status
	rec.Error = escapeInvalidUTF8(msg)
	rec.FinishedAt = rc.NowUTC()
	if d, err := rec.ComputeDigest(); err == nil {
		rec.RawBytesDigest = d
	}
	return rec
}
