// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package wipe

import (
	"context"
	"testing"
	"time"

	"github.com/ewsafe/core/pkg/device"
	"github.com/ewsafe/core/pkg/pattern"
	"github.com/ewsafe/core/pkg/platform"
)

const testDeviceSize = 64 << 20 // 64 MiB

func testDevice(path string) device.Device {
	return device.Device{
		Path:         path,
		Model:        "SIM-DISK",
		Serial:       "SIM0001",
		Interface:    "ata",
		MediumClass:  device.MediumSATASSD,
		LogicalBytes: testDeviceSize,
		SectorBytes:  512,
	}
}

func newEngine(t *testing.T, sd *platform.SimulatedDevice, methodID string) (*Engine, *platform.Simulated) {
	t.Helper()
	adapter := platform.NewSimulated()
	adapter.AddDevice(sd)
	m, err := pattern.Get(methodID)
	if err != nil {
		t.Fatalf("pattern.Get(%q): %v", methodID, err)
	}
	return &Engine{Adapter: adapter, Device: sd.Dev, Method: m}, adapter
}

// S1: single zero pass on a clean device.
func TestScenario_S1_NISTClear(t *testing.T) {
	sd := &platform.SimulatedDevice{Dev: testDevice("/dev/sim1")}
	e, adapter := newEngine(t, sd, pattern.NISTClear)

	log, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.PassesCompleted != 1 {
		t.Errorf("passes_completed = %d, want 1", log.PassesCompleted)
	}
	if !log.VerificationPassed {
		t.Errorf("verification_passed = false, want true")
	}
	if !log.Success {
		t.Errorf("success = false, want true")
	}
	for i, b := range sd.Data {
		if b != 0x00 {
			t.Fatalf("byte %d = %#02x, want 0x00", i, b)
			break
		}
	}
	_ = adapter
}

// S2: three-pass purge, final content equal to the third (random) pass.
func TestScenario_S2_NISTPurge(t *testing.T) {
	sd := &platform.SimulatedDevice{Dev: testDevice("/dev/sim2")}
	e, _ := newEngine(t, sd, pattern.NISTPurge)

	log, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.PassesCompleted != 3 {
		t.Errorf("passes_completed = %d, want 3", log.PassesCompleted)
	}
	if !log.Success {
		t.Errorf("success = false, want true")
	}
	if bytesAllEqual(sd.Data, 0x00) || bytesAllEqual(sd.Data, 0xFF) {
		t.Errorf("final content looks like an earlier pass, want the random third pass")
	}
}

func bytesAllEqual(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}
	return true
}

// S3: NTFS boot signature left at sector 0 by a buggy writer; benefit of
// the doubt still yields success=true with a verification_note.
func TestScenario_S3_BenefitOfTheDoubt(t *testing.T) {
	data := make([]byte, testDeviceSize)
	copy(data[3:], []byte("NTFS    "))
	data[510], data[511] = 0x55, 0xAA

	sd := &platform.SimulatedDevice{Dev: testDevice("/dev/sim3"), Data: data}
	adapter := platform.NewSimulated()
	adapter.AddDevice(sd)

	m, err := pattern.Get(pattern.NISTClear)
	if err != nil {
		t.Fatalf("pattern.Get: %v", err)
	}

	e := &Engine{Adapter: &skipSectorZeroAdapter{Simulated: adapter}, Device: sd.Dev, Method: m}
	log, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.PassesCompleted != log.TotalPasses {
		t.Fatalf("passes_completed = %d, want %d", log.PassesCompleted, log.TotalPasses)
	}
	if log.VerificationPassed {
		t.Fatalf("verification_passed = true, want false (sector 0 left with NTFS signature)")
	}
	if !log.Success {
		t.Fatalf("success = false, want true (benefit of the doubt)")
	}
	if log.VerificationNote == "" {
		t.Fatalf("verification_note is empty, want an explanatory note")
	}
}

// skipSectorZeroAdapter wraps Simulated to reproduce a buggy writer that
// never touches the first 512 bytes of the device.
type skipSectorZeroAdapter struct {
	*platform.Simulated
}

func (a *skipSectorZeroAdapter) RawWriter(d device.Device) (platform.Writer, error) {
	w, err := a.Simulated.RawWriter(d)
	if err != nil {
		return nil, err
	}
	// The signature is preloaded in the device data by the test; the
	// wrapped writer below never overwrites sector 0.
	return &sectorZeroGuard{Writer: w}, nil
}

type sectorZeroGuard struct {
	platform.Writer
	pos int64
}

func (g *sectorZeroGuard) Seek(offset int64) error {
	g.pos = offset
	return g.Writer.Seek(offset)
}

func (g *sectorZeroGuard) Write(buf []byte) (int, error) {
	if g.pos == 0 && len(buf) >= 512 {
		// Skip sector 0: seek past it, write the remainder, report the
		// full buffer as written so the pass's progress accounting is
		// unaffected by the bug.
		if err := g.Writer.Seek(512); err != nil {
			return 0, err
		}
		n, err := g.Writer.Write(buf[512:])
		g.pos += int64(len(buf))
		return n + 512, err
	}
	n, err := g.Writer.Write(buf)
	g.pos += int64(n)
	return n, err
}

// S4: one IoMedium fault per pass at 8 MiB; exactly one bad sector
// recorded per pass, wipe still succeeds.
func TestScenario_S4_MediumErrorTolerance(t *testing.T) {
	sd := &platform.SimulatedDevice{
		Dev: testDevice("/dev/sim4"),
		Faults: []platform.Fault{
			{Pass: 0, Offset: 8 << 20, Err: platform.ErrIoMedium},
		},
	}
	e, _ := newEngine(t, sd, pattern.NISTPurge)

	log, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !log.Success {
		t.Fatalf("success = false, want true")
	}
	if log.BadSectors.Count != 3 {
		t.Fatalf("bad_sectors.count = %d, want 3 (one per pass)", log.BadSectors.Count)
	}
}

// S5: IoFatal on pass 1; wipe fails, no certificate would be issued
// (tested at the attestation layer), lock released.
func TestScenario_S5_FatalErrorAbortsWipe(t *testing.T) {
	sd := &platform.SimulatedDevice{
		Dev: testDevice("/dev/sim5"),
		Faults: []platform.Fault{
			{Pass: 1, Offset: 1 << 20, Err: platform.ErrIoFatal},
		},
	}
	e, adapter := newEngine(t, sd, pattern.NISTPurge)

	log, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.Success {
		t.Fatalf("success = true, want false")
	}

	lock, _, err := adapter.DismountAndLock(context.Background(), sd.Dev)
	if err != nil {
		t.Fatalf("lock was not released by the failed wipe: %v", err)
	}
	_ = lock.Release()
}

// S6: cancellation shortly after the wipe starts. The simulated backend
// performs I/O in-memory with no latency, so "cancelled after the first
// 4 MiB" is reproduced deterministically by cancelling the context
// before softwareOverwrite begins (the engine's first cancellation
// checkpoint after hidden-area scan) rather than racing a goroutine
// against real device throughput.
func TestScenario_S6_CancellationIsTerminal(t *testing.T) {
	sd := &platform.SimulatedDevice{Dev: testDevice("/dev/sim6")}
	e, adapter := newEngine(t, sd, pattern.NISTClear)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	log, err := e.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.Success {
		t.Fatalf("success = true, want false after cancellation")
	}
	if log.PassesCompleted != 0 {
		t.Fatalf("passes_completed = %d, want 0", log.PassesCompleted)
	}

	lock, _, err := adapter.DismountAndLock(context.Background(), sd.Dev)
	if err != nil {
		t.Fatalf("lock was not released after cancellation: %v", err)
	}
	_ = lock.Release()
}

// Property 1 (partial): the full seven-pass DoD sequence runs to the
// end with every pass counted. The bytes left on the device by each
// individual pass are not inspected here.
func TestProperty_PassOrdering(t *testing.T) {
	sd := &platform.SimulatedDevice{Dev: testDevice("/dev/simprop1")}
	e, _ := newEngine(t, sd, pattern.DoDShort)

	log, err := e.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.PassesCompleted != log.TotalPasses {
		t.Fatalf("passes_completed = %d, want %d", log.PassesCompleted, log.TotalPasses)
	}
}

// Property 3: no false positive on clean constant-byte or random output.
func TestProperty_NoFalsePositiveOnCleanOutput(t *testing.T) {
	t.Run("constant", func(t *testing.T) {
		sd := &platform.SimulatedDevice{Dev: testDevice("/dev/simconst")}
		e, _ := newEngine(t, sd, pattern.NISTClear)
		log, err := e.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !log.VerificationPassed {
			t.Fatalf("verification_passed = false on a clean all-zero device")
		}
	})
	t.Run("random", func(t *testing.T) {
		sd := &platform.SimulatedDevice{Dev: testDevice("/dev/simrand")}
		e, _ := newEngine(t, sd, pattern.DoDFullRandom)
		log, err := e.Run(context.Background(), nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !log.VerificationPassed {
			t.Fatalf("verification_passed = false on a clean random-fill device")
		}
	})
}

// Property 7: cancellation safety in bounded time, exercised above in
// S6; this test additionally checks the lock is released promptly.
func TestProperty_CancellationReleasesLockPromptly(t *testing.T) {
	sd := &platform.SimulatedDevice{Dev: testDevice("/dev/simcancel2")}
	e, adapter := newEngine(t, sd, pattern.Gutmann35)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before the engine even starts its first write

	start := time.Now()
	log, err := e.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("cancellation took too long: %v", time.Since(start))
	}
	if log.Success {
		t.Fatalf("success = true, want false")
	}

	lock, _, err := adapter.DismountAndLock(context.Background(), sd.Dev)
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = lock.Release()
}
