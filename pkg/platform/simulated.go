// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ewsafe/core/pkg/device"
)

// Fault describes a single injected I/O failure used by the wipe engine
// test suite. Pass == 0 means "every pass"; otherwise Pass is the
// 1-based pass number the fault applies to.
type Fault struct {
	Pass    int
	Offset  int64
	Err     error // one of ErrIoTransient, ErrIoMedium, ErrIoFatal
	Repeats int   // for ErrIoTransient: how many consecutive attempts fail before succeeding
}

// SimulatedDevice is one in-memory block device backing Simulated. Data
// is the device's full content; tests preload it to simulate recoverable
// residue (S3) or leave it at its default size for a clean-device test.
type SimulatedDevice struct {
	Dev             device.Device
	Data            []byte
	Faults          []Fault
	HiddenArea      HiddenAreaInfo
	HardwareOutcome HardwareOutcome
	HardwareErr     error
	TrimCount       int
	Unreachable     bool // Preflight fails with ErrDeviceMissing
	Busy            bool // DismountAndLock fails with ErrDeviceBusy

	mu     sync.Mutex
	locked bool
}

// Simulated is an in-memory Adapter implementation used to exercise the
// wipe engine without real hardware: the Adapter capability interface
// is fully exercisable against an in-memory backend in tests.
type Simulated struct {
	mu      sync.Mutex
	devices map[string]*SimulatedDevice
}

// NewSimulated returns an empty Simulated backend.
func NewSimulated() *Simulated {
	return &Simulated{devices: make(map[string]*SimulatedDevice)}
}

// AddDevice registers sd, initializing Data to the device's logical size
// (all zero bytes) if not already populated.
func (s *Simulated) AddDevice(sd *SimulatedDevice) {
	if sd.Data == nil {
		sd.Data = make([]byte, sd.Dev.LogicalBytes)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[sd.Dev.Path] = sd
}

func (s *Simulated) lookup(path string) (*SimulatedDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sd, ok := s.devices[path]
	if !ok {
		return nil, &DeviceError{Device: path, Op: "lookup", Err: ErrDeviceMissing}
	}
	return sd, nil
}

func (s *Simulated) Enumerate(ctx context.Context) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.Device, 0, len(s.devices))
	for _, sd := range s.devices {
		out = append(out, sd.Dev)
	}
	return out, nil
}

func (s *Simulated) Preflight(ctx context.Context, d device.Device) error {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return err
	}
	if sd.Unreachable {
		return &DeviceError{Device: d.Path, Op: "preflight", Err: ErrDeviceMissing}
	}
	return nil
}

type simulatedLock struct {
	sd *SimulatedDevice
}

func (l *simulatedLock) Release() error {
	l.sd.mu.Lock()
	l.sd.locked = false
	l.sd.mu.Unlock()
	return nil
}

func (s *Simulated) DismountAndLock(ctx context.Context, d device.Device) (ScopedLock, DismountReport, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return nil, DismountReport{}, err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.Busy {
		return nil, DismountReport{}, &DeviceError{Device: d.Path, Op: "dismount_and_lock", Err: ErrDeviceBusy}
	}
	if sd.locked {
		return nil, DismountReport{}, &DeviceError{Device: d.Path, Op: "dismount_and_lock", Err: ErrDeviceBusy}
	}
	sd.locked = true
	return &simulatedLock{sd: sd}, DismountReport{}, nil
}

func (s *Simulated) DeviceSize(d device.Device) (int64, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return 0, err
	}
	return int64(len(sd.Data)), nil
}

func (s *Simulated) HiddenAreaReport(ctx context.Context, d device.Device) (HiddenAreaInfo, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return HiddenAreaInfo{}, err
	}
	return sd.HiddenArea, nil
}

func (s *Simulated) NeutralizeHiddenAreas(ctx context.Context, d device.Device) (HiddenAreaInfo, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return HiddenAreaInfo{}, err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.HiddenArea.HPAPresent || sd.HiddenArea.DCOPresent {
		sd.HiddenArea.Cleared = true
		sd.HiddenArea.Detail = "neutralized by simulated backend"
	}
	return sd.HiddenArea, nil
}

func (s *Simulated) TryHardwarePurge(ctx context.Context, d device.Device) (HardwareOutcome, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return HardwareUnsupported, err
	}
	if sd.HardwareOutcome == HardwarePurged {
		sd.mu.Lock()
		for i := range sd.Data {
			sd.Data[i] = 0
		}
		sd.mu.Unlock()
	}
	return sd.HardwareOutcome, sd.HardwareErr
}

func (s *Simulated) PostWipeTrim(ctx context.Context, d device.Device) error {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return err
	}
	sd.mu.Lock()
	sd.TrimCount++
	sd.mu.Unlock()
	return nil
}

// simRW is the shared seek/fault-tracking state for simulated readers and
// writers. Seek(0) marks the start of a new pass, matching the engine's
// own "seek to offset 0" step at the top of every pass.
type simRW struct {
	sd       *SimulatedDevice
	offset   int64
	pass     int
	fired    map[int]bool
	transLeft map[int]int
}

func newSimRW(sd *SimulatedDevice) *simRW {
	return &simRW{sd: sd, fired: map[int]bool{}, transLeft: map[int]int{}}
}

func (rw *simRW) Seek(offset int64) error {
	if offset == 0 {
		rw.pass++
		rw.fired = map[int]bool{}
		rw.transLeft = map[int]int{}
		for i, f := range rw.sd.Faults {
			if errors.Is(f.Err, ErrIoTransient) {
				n := f.Repeats
				if n == 0 {
					n = 1
				}
				rw.transLeft[i] = n
			}
		}
	}
	rw.offset = offset
	return nil
}

// matchFault returns the index of a fault covering [offset, offset+n)
// for the current pass, or -1.
func (rw *simRW) matchFault(n int) int {
	for i, f := range rw.sd.Faults {
		if f.Pass != 0 && f.Pass != rw.pass {
			continue
		}
		if f.Offset < rw.offset || f.Offset >= rw.offset+int64(n) {
			continue
		}
		return i
	}
	return -1
}

type simWriter struct{ rw *simRW }

func (w *simWriter) Seek(offset int64) error { return w.rw.Seek(offset) }

func (w *simWriter) Write(buf []byte) (int, error) {
	rw := w.rw
	sd := rw.sd
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if idx := rw.matchFault(len(buf)); idx >= 0 {
		f := sd.Faults[idx]
		switch {
		case errors.Is(f.Err, ErrIoFatal):
			return 0, &DeviceError{Device: sd.Dev.Path, Op: "write", Err: ErrIoFatal}
		case errors.Is(f.Err, ErrIoMedium):
			if !rw.fired[idx] {
				rw.fired[idx] = true
				return 0, &DeviceError{Device: sd.Dev.Path, Op: "write", Err: ErrIoMedium}
			}
		case errors.Is(f.Err, ErrIoTransient):
			if rw.transLeft[idx] > 0 {
				rw.transLeft[idx]--
				return 0, &DeviceError{Device: sd.Dev.Path, Op: "write", Err: ErrIoTransient}
			}
		}
	}

	if rw.offset < 0 || rw.offset > int64(len(sd.Data)) {
		return 0, fmt.Errorf("simulated write: offset %d out of range", rw.offset)
	}
	n := copy(sd.Data[rw.offset:], buf)
	rw.offset += int64(n)
	return n, nil
}

func (w *simWriter) FlushToMedia() error { return nil }
func (w *simWriter) Close() error        { return nil }

type simReader struct{ rw *simRW }

func (r *simReader) Seek(offset int64) error { return r.rw.Seek(offset) }

func (r *simReader) Read(buf []byte) (int, error) {
	rw := r.rw
	sd := rw.sd
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if rw.offset >= int64(len(sd.Data)) {
		return 0, fmt.Errorf("simulated read: offset %d past end (size %d)", rw.offset, len(sd.Data))
	}
	n := copy(buf, sd.Data[rw.offset:])
	rw.offset += int64(n)
	return n, nil
}

func (r *simReader) Close() error { return nil }

func (s *Simulated) RawWriter(d device.Device) (Writer, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return nil, err
	}
	return &simWriter{rw: newSimRW(sd)}, nil
}

func (s *Simulated) RawReader(d device.Device) (Reader, error) {
	sd, err := s.lookup(d.Path)
	if err != nil {
		return nil, err
	}
	return &simReader{rw: newSimRW(sd)}, nil
}
