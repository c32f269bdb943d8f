// Package triage runs the collectors of a session and records their results.
package triage

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"irkit/collectors"
	"irkit/core/internal/session"
)

// Lister yields the collectors of a mode in their fixed order.
type Lister interface {
	ListFor(mode collectors.Mode) ([]collectors.Collector, error)
}

type Options struct {
	Parallel bool
	// Workers bounds parallel mode. Zero means one worker per collector.
	Workers int
	Timeout time.Duration
	Grace   time.Duration
	// OnRecord is called once per collector as it completes, with its 1-based
	// registry position. In parallel mode calls are serialized but unordered.
	OnRecord func(index, total int, rec collectors.Record)
	Logger   *log.Logger
}

type Result struct {
	SessionID string
	Records   []collectors.Record
	OK        int
	Partial   int
	Failed    int
	Total     int
}

// HasFailures reports whether any collector ended in failed state.
func (r Result) HasFailures() bool { return r.Failed > 0 }

// Execute runs every collector registered for the session's mode, appends one
// record per collector in registry order and freezes the session. Collector
// failures never abort the run; only a registry lookup error or a reused
// session is returned as an error.
func Execute(ctx context.Context, sess *session.Session, reg Lister, opts Options) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	cols, err := reg.ListFor(sess.Mode)
	if err != nil {
		return Result{}, err
	}
	if err := sess.Begin(); err != nil {
		return Result{}, err
	}

	rc := sess.RunContext()
	runOpts := collectors.RunOptions{Timeout: opts.Timeout, Grace: opts.Grace}
	records := make([]collectors.Record, len(cols))

	var cbMu sync.Mutex
	report := func(i int, rec collectors.Record) {
		logger.Debug("collector finished",
			"collector", rec.CollectorID,
			"status", rec.Status,
			"rows", len(rec.Payload),
			"duration", rec.Duration(),
		)
		if rec.Error != "" {
			logger.Warn("collector did not complete", "collector", rec.CollectorID, "status", rec.Status, "err", rec.Error)
		}
		if opts.OnRecord == nil {
			return
		}
		cbMu.Lock()
		defer cbMu.Unlock()
		opts.OnRecord(i+1, len(cols), rec)
	}

	if opts.Parallel {
		workers := opts.Workers
		if workers <= 0 || workers > len(cols) {
			workers = len(cols)
		}
		logger.Debug("running collectors in parallel", "collectors", len(cols), "workers", workers)

		var g errgroup.Group
		g.SetLimit(workers)
		for i, c := range cols {
			i, c := i, c
			g.Go(func() error {
				records[i] = collectors.Run(ctx, c, rc, runOpts)
				report(i, records[i])
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, c := range cols {
			logger.Debug("running collector", "collector", c.ID(), "index", i+1)
			records[i] = collectors.Run(ctx, c, rc, runOpts)
			report(i, records[i])
		}
	}

	res := Result{SessionID: sess.ID, Total: len(records)}
	for _, rec := range records {
		if err := sess.Append(rec); err != nil {
			return Result{}, err
		}
		switch rec.Status {
		case collectors.StatusOK:
			res.OK++
		case collectors.StatusPartial:
			res.Partial++
		default:
			res.Failed++
		}
	}
	sess.Freeze()
	res.Records = sess.Records()

	if ctx.Err() != nil {
		logger.Warn("session cancelled", "session", sess.ID, "ok", res.OK, "partial", res.Partial, "failed", res.Failed)
	}
	return res, nil
}
