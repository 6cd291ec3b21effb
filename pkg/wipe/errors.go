// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package wipe

import (
	"errors"
	"fmt"

	"github.com/ewsafe/core/pkg/platform"
)

// ErrorKind classifies a terminal wipe failure for callers that want to
// react programmatically (retry policy, exit codes) without parsing
// error strings. HardwareEraseUnsupported/Failed are deliberately absent
// here: they are non-error outcomes that trigger the software fallback,
// modeled as platform.HardwareOutcome instead.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotPrivileged
	KindDeviceMissing
	KindDeviceBusy
	KindWriteProtected
	KindIoFatal
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotPrivileged:
		return "not_privileged"
	case KindDeviceMissing:
		return "device_missing"
	case KindDeviceBusy:
		return "device_busy"
	case KindWriteProtected:
		return "write_protected"
	case KindIoFatal:
		return "io_fatal"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a terminal wipe failure with the classified Kind, the
// engine state it occurred in, and the underlying platform error.
type Error struct {
	Kind  ErrorKind
	State string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("wipe: %s: %v (%s)", e.State, e.Err, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify maps a platform-layer error into a wipe.ErrorKind by testing
// against the platform package's sentinel errors with errors.Is, so the
// engine never has to branch on a raw errno or string.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, platform.ErrNotPrivileged):
		return KindNotPrivileged
	case errors.Is(err, platform.ErrDeviceMissing):
		return KindDeviceMissing
	case errors.Is(err, platform.ErrDeviceBusy):
		return KindDeviceBusy
	case errors.Is(err, platform.ErrWriteProtected):
		return KindWriteProtected
	case errors.Is(err, platform.ErrCancelled):
		return KindCancelled
	case errors.Is(err, platform.ErrIoFatal):
		return KindIoFatal
	default:
		return KindUnknown
	}
}

func wrapErr(state string, err error) *Error {
	return &Error{Kind: classify(err), State: state, Err: err}
}
