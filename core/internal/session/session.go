// Package session holds the state of one collection run.
package session

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"irkit/collectors"
	"irkit/collectors/system"
	"irkit/evidence"
	"irkit/faults"
)

var (
	ErrFrozen     = errors.New("session records are frozen")
	ErrNotFrozen  = errors.New("session has not finished collecting")
	ErrAlreadyRun = errors.New("session already executed")
)

type Options struct {
	// ID overrides the generated session id.
	ID          string
	OutputRoot  string
	Mode        collectors.Mode
	Host        system.Host
	Privileged  bool
	ToolVersion string
	// Now is the session clock; nil means time.Now.
	Now func() time.Time
}

// Session is single use: it is executed once, its records are appended while
// collectors finish and frozen afterwards, and its manifest is sealed once.
type Session struct {
	ID          string
	OutputRoot  string
	Mode        collectors.Mode
	Host        system.Host
	Privileged  bool
	ToolVersion string
	StartedAt   time.Time

	now func() time.Time

	mu       sync.Mutex
	started  bool
	frozen   bool
	records  []collectors.Record
	manifest *evidence.Manifest
}

func New(opts Options) (*Session, error) {
	if _, err := collectors.ParseMode(string(opts.Mode)); err != nil {
		return nil, err
	}
	if opts.OutputRoot == "" {
		return nil, &faults.ConfigurationError{Field: "output", Err: errors.New("output root is empty")}
	}
	root, err := filepath.Abs(opts.OutputRoot)
	if err != nil {
		return nil, &faults.ConfigurationError{Field: "output", Err: err}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	started := now().UTC()

	id := opts.ID
	if id == "" {
		id = NewID(opts.Host.Hostname, started)
	} else if err := ValidateID(id); err != nil {
		return nil, err
	}

	privileged := opts.Privileged
	if opts.Mode == collectors.ModeDemo {
		privileged = false
	}

	return &Session{
		ID:          id,
		OutputRoot:  root,
		Mode:        opts.Mode,
		Host:        opts.Host,
		Privileged:  privileged,
		ToolVersion: opts.ToolVersion,
		StartedAt:   started,
		now:         now,
	}, nil
}

// NewID formats <hostname>-<yyyymmddThhmmssZ>-<8 hex>.
func NewID(hostname string, t time.Time) string {
	host := sanitizeHost(hostname)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s-%s", host, t.UTC().Format("20060102T150405Z"), suffix)
}

func sanitizeHost(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == ' ' || r == '\t':
			return '_'
		}
		return r
	}, h)
}

// ValidateID rejects ids that cannot name a single directory.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.TrimSpace(id) != id {
		return &faults.ConfigurationError{Field: "session_id", Err: fmt.Errorf("invalid session id %q", id)}
	}
	return nil
}

// BundleDir is <output_root>/<session_id>.
func (s *Session) BundleDir() string {
	return filepath.Join(s.OutputRoot, s.ID)
}

func (s *Session) Now() time.Time {
	return s.now().UTC()
}

func (s *Session) RunContext() collectors.RunContext {
	return collectors.RunContext{
		SessionID:  s.ID,
		Mode:       s.Mode,
		Privileged: s.Privileged,
		Now:        s.now,
	}
}

// Begin marks the session as executed. A second call fails.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyRun
	}
	s.started = true
	return nil
}

func (s *Session) Append(rec collectors.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrFrozen
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *Session) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

func (s *Session) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// Records returns a copy of the records in append order.
func (s *Session) Records() []collectors.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]collectors.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Seal returns the session manifest. The first call fixes generated_at and
// later calls return the same manifest.
func (s *Session) Seal() (evidence.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manifest != nil {
		return *s.manifest, nil
	}
	if !s.frozen {
		return evidence.Manifest{}, ErrNotFrozen
	}

	m, err := evidence.Seal(evidence.SealInput{
		SessionID:   s.ID,
		Mode:        s.Mode,
		ToolVersion: s.ToolVersion,
		Host:        s.Host,
		GeneratedAt: s.now(),
		Records:     s.records,
	})
	if err != nil {
		return evidence.Manifest{}, err
	}
	s.manifest = &m
	return m, nil
}
