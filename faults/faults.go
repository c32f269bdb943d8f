// Package faults defines the error taxonomy shared by the collection pipeline.
//
// Every type unwraps to its cause and also matches one containerd errdefs class,
// so callers can branch with errdefs.IsInvalidArgument, errdefs.IsAlreadyExists
// and friends without importing this package.
package faults

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ConfigurationError is returned for a bad mode, registry lookup or config value.
// It aborts a run before any collection.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool {
	return target == errdefs.ErrInvalidArgument
}

// CollectorFault describes a failure inside one collector. It is never returned
// to the orchestrator's caller; its text ends up in the record's error field.
type CollectorFault struct {
	Collector    string
	Precondition bool
	Err          error
}

func (e *CollectorFault) Error() string {
	if e.Precondition {
		return fmt.Sprintf("precondition unmet: %v", e.Err)
	}
	return fmt.Sprintf("collector %s: %v", e.Collector, e.Err)
}

func (e *CollectorFault) Unwrap() error { return e.Err }

func (e *CollectorFault) Is(target error) bool {
	if e.Precondition {
		return target == errdefs.ErrFailedPrecondition
	}
	return target == errdefs.ErrInternal
}

// OutputError is returned when the bundle directory conflicts with an existing
// bundle or a write to it fails.
type OutputError struct {
	Path   string
	Op     string // "create", "write", "sync", "rename"
	Exists bool
	Err    error
}

func (e *OutputError) Error() string {
	if e.Exists {
		return fmt.Sprintf("output error: %s: bundle directory already exists and is not empty", e.Path)
	}
	return fmt.Sprintf("output error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

func (e *OutputError) Is(target error) bool {
	if e.Exists {
		return target == errdefs.ErrAlreadyExists
	}
	return target == errdefs.ErrUnavailable
}

// IntegrityError is returned when a digest cannot be computed or does not match.
// An unsealed bundle is worthless as evidence, so this is fatal.
type IntegrityError struct {
	Subject string
	Err     error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %s: %v", e.Subject, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool {
	return target == errdefs.ErrDataLoss
}
