// Package fxerr implements the error taxonomy of spec.md §7: every
// error the engine produces is classified as one of device, capacity,
// structural, lookup or protocol, and wrapped with
// github.com/pkg/errors so a stack trace survives in logs while the
// handle server still collapses any of them to a bare R_ERROR on the
// wire (internal/proto, internal/handleserver).
package fxerr

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Class is one of the five error categories spec.md §7 defines.
type Class int

const (
	// Device covers pread/pwrite failures against the backing store.
	Device Class = iota
	// Capacity covers exhausted allocators and refused splits.
	Capacity
	// Structural covers corrupt superblocks, bad magic or checksums.
	Structural
	// Lookup covers missing inodes, paths and directory entries.
	Lookup
	// Protocol covers malformed or out-of-sequence wire messages.
	Protocol
)

func (c Class) String() string {
	switch c {
	case Device:
		return "device"
	case Capacity:
		return "capacity"
	case Structural:
		return "structural"
	case Lookup:
		return "lookup"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// classified pairs an error with its taxonomy class so callers at the
// handle-server boundary can log the class without caring about the
// underlying cause (spec.md §7 "classification", internal/handleserver
// "R_ERROR").
type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Cause() error  { return c.err }
func (c *classified) Unwrap() error { return c.err }

// Wrap classifies err under class, adding msg as context via
// errors.Wrap so the original stack trace is preserved.
func Wrap(class Class, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &classified{class: class, err: errors.Wrap(err, msg)}
}

// ClassOf reports the taxonomy class of err, or Structural if err was
// never classified through Wrap (a conservative default: an
// unclassified error crossing the boundary is treated as a bug in the
// engine rather than a client mistake).
func ClassOf(err error) (Class, bool) {
	var c *classified
	if errors.As(err, &c) {
		return c.class, true
	}
	return Structural, false
}

// Aggregate combines multiple independent failures — e.g. both the
// primary and backup superblock failing to decode at mount — into one
// error that still reports each cause, via
// github.com/hashicorp/go-multierror (spec.md §7 "Structural errors",
// internal/fsys "Mount").
func Aggregate(errs ...error) error {
	var merr *multierror.Error
	for _, err := range errs {
		if err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr == nil {
		return nil
	}
	return merr
}
