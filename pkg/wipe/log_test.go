// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package wipe

import "testing"

func TestLogValidate_PassesCompletedExceedsTotal(t *testing.T) {
	l := &Log{TotalPasses: 3, PassesCompleted: 4}
	if err := l.validate(); err == nil {
		t.Fatalf("validate() = nil, want an invariant error")
	}
}

func TestLogValidate_SuccessRequiresAllPasses(t *testing.T) {
	l := &Log{TotalPasses: 3, PassesCompleted: 2, Success: true}
	if err := l.validate(); err == nil {
		t.Fatalf("validate() = nil, want an invariant error")
	}
}

func TestLogValidate_SuccessWithFailedVerificationNeedsNote(t *testing.T) {
	l := &Log{TotalPasses: 1, PassesCompleted: 1, Success: true, VerificationPassed: false}
	if err := l.validate(); err == nil {
		t.Fatalf("validate() = nil, want an invariant error")
	}

	l.VerificationNote = "verification flagged residual-looking data, but all passes completed"
	if err := l.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil once verification_note is set", err)
	}
}

func TestLogValidate_HardwareEraseRequiresAllPasses(t *testing.T) {
	l := &Log{TotalPasses: 3, PassesCompleted: 1, HardwareEraseUsed: true}
	if err := l.validate(); err == nil {
		t.Fatalf("validate() = nil, want an invariant error")
	}
}

func TestLogValidate_ValidLogPasses(t *testing.T) {
	l := &Log{TotalPasses: 1, PassesCompleted: 1, Success: true, VerificationPassed: true}
	if err := l.validate(); err != nil {
		t.Fatalf("validate() = %v, want nil", err)
	}
}
