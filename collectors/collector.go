package collectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"irkit/faults"
)

type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
)

// ParseMode resolves a mode name; anything but live or demo is a ConfigurationError.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLive:
		return ModeLive, nil
	case ModeDemo:
		return ModeDemo, nil
	}
	return "", &faults.ConfigurationError{Field: "mode", Err: fmt.Errorf("unknown mode %q", s)}
}

type Category string

const (
	CategoryProcess Category = "process"
	CategoryNetwork Category = "network"
	CategoryUser    Category = "user"
	CategoryModule  Category = "module"
	CategoryDisk    Category = "disk"
	CategoryDemo    Category = "demo"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Row is one normalized key-value row of a record payload.
type Row map[string]string

// Record is the normalized output of one collector run. Records are treated as
// values: nothing downstream of Run modifies them.
type Record struct {
	CollectorID    string    `json:"collector_id"`
	Category       Category  `json:"category"`
	CollectedAt    time.Time `json:"collected_at"`
	Status         Status    `json:"status"`
	Payload        []Row     `json:"payload"`
	Error          string    `json:"error,omitempty"`
	RawBytesDigest string    `json:"raw_bytes_digest"`

	// FinishedAt is kept in memory for progress output only.
	FinishedAt time.Time `json:"-"`
}

func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.CollectedAt)
}

// RunContext is the session context handed to every collector.
type RunContext struct {
	SessionID  string
	Mode       Mode
	Privileged bool
	// Now is the session clock. Demo collectors use it for synthetic timestamps.
	Now func() time.Time
}

// NowUTC reads the session clock.
func (rc RunContext) NowUTC() time.Time {
	if rc.Now != nil {
		return rc.Now().UTC()
	}
	return time.Now().UTC()
}

// Collector gathers one category of artifact. Implementations return whatever
// rows they gathered together with any error; Run decides the record status.
type Collector interface {
	ID() string
	Category() Category
	Schema() []string
	Collect(ctx context.Context, rc RunContext) ([]Row, error)
}

// Preconditioner is implemented by collectors that must probe access before
// running. A failing probe turns into a failed record without running Collect.
type Preconditioner interface {
	Precondition(ctx context.Context, rc RunContext) error
}
