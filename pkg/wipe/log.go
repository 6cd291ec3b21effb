// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package wipe

import (
	"time"

	"github.com/ewsafe/core/pkg/device"
	"github.com/ewsafe/core/pkg/platform"
)

// BadSectorStats summarizes the medium errors tolerated during a wipe's
// software-overwrite passes: count plus the offset range they span.
type BadSectorStats struct {
	Count int
	Min   int64
	Max   int64
}

func (s *BadSectorStats) record(offset int64) {
	if s.Count == 0 {
		s.Min = offset
		s.Max = offset
	} else {
		if offset < s.Min {
			s.Min = offset
		}
		if offset > s.Max {
			s.Max = offset
		}
	}
	s.Count++
}

// Log is the append-only record of a single wipe, finalized exactly
// once on a terminal state transition and never mutated afterward.
type Log struct {
	Device             device.Device
	MethodID           string
	StartedAt          time.Time
	EndedAt            time.Time
	TotalPasses        int
	PassesCompleted    int
	HardwareEraseUsed  bool
	VerificationPassed bool
	BadSectors         BadSectorStats
	Errors             []string
	Duration           time.Duration
	PlatformTag        string
	Success            bool
	VerificationNote   string

	// DismountWarnings and HiddenArea are carried for the
	// certificate-independent diagnostic trail a real operator console
	// would want; they are never part of certificate content.
	DismountWarnings []string
	HiddenArea       platform.HiddenAreaInfo
}

func (l *Log) addError(msg string) {
	l.Errors = append(l.Errors, msg)
}

// validate checks a finalized Log's invariants hold. Used by tests
// and by Finalize as a defensive check before a Log is handed to the
// attestation pipeline.
func (l *Log) validate() error {
	if l.PassesCompleted > l.TotalPasses {
		return errInvariant("passes_completed exceeds total_passes")
	}
	if l.Success && l.PassesCompleted != l.TotalPasses {
		return errInvariant("success=true but passes_completed != total_passes")
	}
	if l.Success && !l.VerificationPassed && l.VerificationNote == "" {
		return errInvariant("success=true with failed verification but no verification_note")
	}
	if l.HardwareEraseUsed && l.PassesCompleted != l.TotalPasses {
		return errInvariant("hardware_erase_used but passes_completed != total_passes")
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return "wipe: invariant violated: " + string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
