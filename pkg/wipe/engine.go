// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package wipe implements the state machine that drives a single device
// through preflight, dismount/lock, hidden-area neutralization, hardware
// or software erase, verification, and finalization, producing a
// terminal Log. The engine is parameterized by a platform.Adapter so it
// can run against real hardware or the in-memory simulated backend used
// by the test suite.
package wipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ewsafe/core/internal/erasebuf"
	"github.com/ewsafe/core/pkg/device"
	"github.com/ewsafe/core/pkg/pattern"
	"github.com/ewsafe/core/pkg/platform"
)

// Retry, skip-ahead and per-pass bad-sector limits. A medium error is
// skipped wherever in the pass it occurs; no abort depends on how far
// the pass has progressed.
const (
	maxRetries      = 3
	mediumErrorSkip = 512 << 10 // 512 KiB
	badSectorBudget = 100
)

// ProgressFunc receives advisory progress updates; messages are never
// part of the audit trail.
type ProgressFunc func(percent int, message string)

// Engine drives one wipe of one device with one method to completion.
type Engine struct {
	Adapter platform.Adapter
	Device  device.Device
	Method  pattern.Method
}

func noopProgress(int, string) {}

// timeNow is indirected so tests can hold it fixed; production always
// uses the wall clock.
var timeNow = time.Now

// Run executes the full state machine and returns a terminal Log. A
// non-nil error is returned only when even a terminal Log could not be
// produced; the overwhelmingly common case is a terminal *Log with a nil
// error whose Success field carries the outcome.
func (e *Engine) Run(ctx context.Context, progress ProgressFunc) (*Log, error) {
	if progress == nil {
		progress = noopProgress
	}

	log := &Log{
		Device:      e.Device,
		MethodID:    e.Method.ID,
		StartedAt:   timeNow(),
		TotalPasses: e.Method.TotalPasses(),
		PlatformTag: e.Device.PlatformTag,
	}

	progress(0, "preflight")
	if err := e.Adapter.Preflight(ctx, e.Device); err != nil {
		return e.fail(log, "preflight", err), nil
	}

	progress(2, "dismounting and locking device")
	lock, report, err := e.Adapter.DismountAndLock(ctx, e.Device)
	if err != nil {
		return e.fail(log, "dismount_lock", err), nil
	}
	defer func() { _ = lock.Release() }()
	log.DismountWarnings = report.Warnings

	progress(5, "scanning for hidden areas")
	hidden, err := e.Adapter.NeutralizeHiddenAreas(ctx, e.Device)
	if err != nil {
		log.addError(fmt.Sprintf("hidden_area_scan: %v", err))
	}
	log.HiddenArea = hidden

	if ctx.Err() != nil {
		return e.abort(log), nil
	}

	hardwareDone := false
	if e.Device.MediumClass.IsSolidState() {
		progress(10, "attempting hardware purge")
		outcome, herr := e.Adapter.TryHardwarePurge(ctx, e.Device)
		switch outcome {
		case platform.HardwarePurged:
			log.PassesCompleted = log.TotalPasses
			log.HardwareEraseUsed = true
			hardwareDone = true
		case platform.HardwareFailed:
			log.addError(fmt.Sprintf("hardware_purge_failed: %v", herr))
		default:
			// Unsupported: not an error, falls through to software overwrite.
		}
	}

	if !hardwareDone {
		progress(15, "software overwrite")
		if err := e.softwareOverwrite(ctx, log, progress); err != nil {
			if errors.Is(err, context.Canceled) {
				return e.abort(log), nil
			}
			return e.fail(log, "software_overwrite", err), nil
		}
	}

	if ctx.Err() != nil {
		return e.abort(log), nil
	}

	progress(90, "verifying")
	if err := e.verify(log); err != nil {
		log.addError(fmt.Sprintf("verification_error: %v", err))
	}

	progress(97, "trimming")
	if err := e.Adapter.PostWipeTrim(ctx, e.Device); err != nil {
		log.addError(fmt.Sprintf("post_wipe_trim: %v", err))
	}

	e.finalize(log)
	progress(100, "done")
	return log, nil
}

func (e *Engine) fail(log *Log, state string, err error) *Log {
	log.addError(wrapErr(state, err).Error())
	log.Success = false
	log.EndedAt = timeNow()
	log.Duration = log.EndedAt.Sub(log.StartedAt)
	return log
}

func (e *Engine) abort(log *Log) *Log {
	log.addError("cancelled")
	log.Success = false
	log.EndedAt = timeNow()
	log.Duration = log.EndedAt.Sub(log.StartedAt)
	return log
}

// finalize sets ended_at/duration and determines success, including
// the benefit-of-the-doubt rule. Any diagnostic recorded by the time
// finalize runs is non-fatal by construction: a fatal failure returns
// through fail() before reaching here.
func (e *Engine) finalize(log *Log) {
	log.EndedAt = timeNow()
	log.Duration = log.EndedAt.Sub(log.StartedAt)

	allPassesDone := log.PassesCompleted == log.TotalPasses

	switch {
	case allPassesDone && log.VerificationPassed:
		log.Success = true
	case allPassesDone && !log.VerificationPassed:
		log.Success = true
		log.VerificationNote = "verification flagged residual-looking data, but all passes completed"
	default:
		log.Success = false
	}

	if err := log.validate(); err != nil {
		log.addError(err.Error())
		log.Success = false
	}
}

func (e *Engine) verify(log *Log) error {
	reader, err := e.Adapter.RawReader(e.Device)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	size, err := e.Adapter.DeviceSize(e.Device)
	if err != nil {
		return err
	}

	result, err := runVerification(reader, size, e.Device.SectorBytes)
	if err != nil {
		return err
	}
	log.VerificationPassed = result.Passed
	if !result.Passed {
		log.addError("verification_residual: " + result.Detail)
	}
	return nil
}

// softwareOverwrite iterates the method's passes in order.
func (e *Engine) softwareOverwrite(ctx context.Context, log *Log, progress ProgressFunc) error {
	size, err := e.Adapter.DeviceSize(e.Device)
	if err != nil {
		return err
	}

	writer, err := e.Adapter.RawWriter(e.Device)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	totalPasses := e.Method.TotalPasses()
	for i, desc := range e.Method.Passes {
		if ctx.Err() != nil {
			return context.Canceled
		}
		basePercent := 15 + (70 * i / maxInt(1, totalPasses))
		progress(basePercent, fmt.Sprintf("pass %d/%d: %s", i+1, totalPasses, desc))

		if err := e.writePass(ctx, writer, desc, size, log, progress, i, basePercent); err != nil {
			return err
		}
		if err := writer.FlushToMedia(); err != nil {
			return err
		}
		log.PassesCompleted++
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// writePass performs one full-device overwrite pass, handling transient
// retry and bad-sector skip-ahead. Exceeding the bad-sector budget, or
// any other non-transient/medium failure, is realized by
// writeChunkWithRetry returning an error, which immediately unwinds the
// pass and the wipe.
func (e *Engine) writePass(ctx context.Context, writer platform.Writer, desc pattern.Descriptor, size int64, log *Log, progress ProgressFunc, passIndex, basePercent int) error {
	buf := make([]byte, erasebuf.DefaultSize)
	defer erasebuf.Clear(buf)

	if err := writer.Seek(0); err != nil {
		return err
	}

	totalPasses := e.Method.TotalPasses()
	var pos int64
	var sinceFlush int64
	passBadSectors := 0

	for pos < size {
		if ctx.Err() != nil {
			return context.Canceled
		}

		chunk := int64(len(buf))
		if remaining := size - pos; remaining < chunk {
			chunk = remaining
		}

		// Every chunk is freshly filled so a Random pass never reuses
		// sampled bytes across buffer-sized writes within the pass.
		if err := desc.Fill(buf[:chunk]); err != nil {
			return err
		}

		newPos, err := e.writeChunkWithRetry(writer, buf[:chunk], pos, log, &passBadSectors)
		if err != nil {
			return err
		}
		sinceFlush += newPos - pos
		pos = newPos

		if passBadSectors > badSectorBudget {
			return fmt.Errorf("wipe: pass %d: bad sector budget exceeded (%d)", passIndex+1, passBadSectors)
		}

		if sinceFlush >= erasebuf.FlushEvery {
			if err := writer.FlushToMedia(); err != nil {
				return err
			}
			sinceFlush = 0
		}

		donePct := 0.0
		if size > 0 {
			donePct = float64(pos) / float64(size) * 100
		}
		pct := basePercent + int(donePct/100*float64(70/maxInt(1, totalPasses)))
		progress(pct, fmt.Sprintf("pass %d/%d: %d%%", passIndex+1, totalPasses, int(donePct)))
	}

	return nil
}

// writeChunkWithRetry writes buf at pos, classifying failures: transient
// errors retry up to maxRetries at the same offset; medium errors
// record a bad sector and skip ahead by mediumErrorSkip; anything else
// fails the pass (and the wipe). Returns the write cursor position
// after the attempt.
func (e *Engine) writeChunkWithRetry(writer platform.Writer, buf []byte, pos int64, log *Log, passBadSectors *int) (int64, error) {
	attempt := 0
	for {
		n, err := writer.Write(buf)
		if err == nil {
			return pos + int64(n), nil
		}

		switch {
		case errors.Is(err, platform.ErrIoTransient):
			attempt++
			if attempt > maxRetries {
				return 0, fmt.Errorf("wipe: transient I/O error exceeded %d retries at offset %d: %w", maxRetries, pos, err)
			}
			if seekErr := writer.Seek(pos); seekErr != nil {
				return 0, seekErr
			}
			continue

		case errors.Is(err, platform.ErrIoMedium):
			log.BadSectors.record(pos)
			*passBadSectors++
			skipTo := pos + mediumErrorSkip
			if seekErr := writer.Seek(skipTo); seekErr != nil {
				return 0, seekErr
			}
			return skipTo, nil

		default:
			return 0, err
		}
	}
}
