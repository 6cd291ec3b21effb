// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ewsafe/core/pkg/device"
	"github.com/ewsafe/core/pkg/wipe"
)

// MockWipeOperations implements WipeOperations for testing.
type MockWipeOperations struct {
	EnumerateFunc func(ctx context.Context) ([]device.Device, error)
	RunFunc       func(ctx context.Context, d device.Device, methodID string, progress wipe.ProgressFunc) (*wipe.Log, error)
}

func (m *MockWipeOperations) Enumerate(ctx context.Context) ([]device.Device, error) {
	if m.EnumerateFunc != nil {
		return m.EnumerateFunc(ctx)
	}
	return nil, nil
}

func (m *MockWipeOperations) Run(ctx context.Context, d device.Device, methodID string, progress wipe.ProgressFunc) (*wipe.Log, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, d, methodID, progress)
	}
	return &wipe.Log{Success: true}, nil
}

func testDevice() device.Device {
	return device.Device{
		Path:         "/dev/sdz",
		Model:        "TEST-SSD",
		Serial:       "ABC123",
		Interface:    "ata",
		MediumClass:  device.MediumSATASSD,
		LogicalBytes: 1 << 30,
		SectorBytes:  512,
	}
}

func newTestCLI(args []string) (*CLI, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	cli := &CLI{
		Args:     append([]string{"ewsafe"}, args...),
		Stdin:    strings.NewReader(""),
		Stdout:   &stdout,
		Stderr:   &stderr,
		Ops:      &MockWipeOperations{},
		Terminal: &fakeTerminal{},
		ExitFunc: func(int) {},
	}
	return cli, &stdout, &stderr
}

type fakeTerminal struct{}

func (fakeTerminal) ReadPassword(fd int) ([]byte, error) { return []byte("test"), nil }

func TestCLI_NoArgsShowsUsage(t *testing.T) {
	cli, stdout, _ := newTestCLI(nil)
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "USAGE") {
		t.Fatalf("stdout missing usage text: %q", stdout.String())
	}
}

func TestCLI_UnknownCommand(t *testing.T) {
	cli, _, stderr := newTestCLI([]string{"frobnicate"})
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Fatalf("stderr = %q, want an unknown-command message", stderr.String())
	}
}

func TestCLI_Version(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"version"})
	code := cli.Run()
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "ewsafe version") {
		t.Fatalf("stdout = %q, want version string", stdout.String())
	}
}

func TestCLI_ListNoDevices(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"list"})
	code := cli.Run()
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "No wipeable devices") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestCLI_ListShowsDevices(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"list"})
	cli.Ops = &MockWipeOperations{
		EnumerateFunc: func(ctx context.Context) ([]device.Device, error) {
			return []device.Device{testDevice()}, nil
		},
	}
	code := cli.Run()
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "/dev/sdz") {
		t.Fatalf("stdout missing device path: %q", stdout.String())
	}
}

func TestCLI_WipeRequiresDeviceAndMethod(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"wipe"})
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "Usage: ewsafe wipe") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestCLI_WipeUnknownMethod(t *testing.T) {
	cli, _, stderr := newTestCLI([]string{"wipe", "--device", "/dev/sdz", "--method", "bogus", "--yes"})
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Unknown method") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestCLI_WipeDeviceNotFound(t *testing.T) {
	cli, _, stderr := newTestCLI([]string{"wipe", "--device", "/dev/sdz", "--method", "nist_clear", "--yes"})
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "not found") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestCLI_WipeSucceedsWithoutSigningKey(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"wipe", "--device", "/dev/sdz", "--method", "nist_clear", "--yes"})
	cli.Ops = &MockWipeOperations{
		EnumerateFunc: func(ctx context.Context) ([]device.Device, error) {
			return []device.Device{testDevice()}, nil
		},
		RunFunc: func(ctx context.Context, d device.Device, methodID string, progress wipe.ProgressFunc) (*wipe.Log, error) {
			return &wipe.Log{Success: true, PassesCompleted: 1, TotalPasses: 1}, nil
		},
	}
	code := cli.Run()
	if code != 0 {
		t.Fatalf("exit code = %d, want 0, stdout=%q", code, stdout.String())
	}
	if !strings.Contains(stdout.String(), "Wipe completed successfully") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "No signing key available") {
		t.Fatalf("stdout = %q, want a no-signing-key note", stdout.String())
	}
}

func TestCLI_WipeReportsFailure(t *testing.T) {
	cli, _, stderr := newTestCLI([]string{"wipe", "--device", "/dev/sdz", "--method", "nist_clear", "--yes"})
	cli.Ops = &MockWipeOperations{
		EnumerateFunc: func(ctx context.Context) ([]device.Device, error) {
			return []device.Device{testDevice()}, nil
		},
		RunFunc: func(ctx context.Context, d device.Device, methodID string, progress wipe.ProgressFunc) (*wipe.Log, error) {
			return &wipe.Log{Success: false, Errors: []string{"simulated failure"}}, nil
		},
	}
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "simulated failure") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestCLI_WipeWithoutConfirmationAborts(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"wipe", "--device", "/dev/sdz", "--method", "nist_clear"})
	cli.Stdin = strings.NewReader("not-the-device-path\n")
	cli.Ops = &MockWipeOperations{
		EnumerateFunc: func(ctx context.Context) ([]device.Device, error) {
			return []device.Device{testDevice()}, nil
		},
	}
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "Aborted") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestCLI_VerifyMissingArgument(t *testing.T) {
	cli, stdout, _ := newTestCLI([]string{"verify"})
	code := cli.Run()
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stdout.String(), "Usage: ewsafe verify") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags([]string{"--device", "/dev/sdz", "--method", "nist_clear", "--yes"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if flags["device"] != "/dev/sdz" {
		t.Fatalf("device = %q, want /dev/sdz", flags["device"])
	}
	if flags["method"] != "nist_clear" {
		t.Fatalf("method = %q, want nist_clear", flags["method"])
	}
	if _, ok := flags["yes"]; !ok {
		t.Fatalf("yes flag not set")
	}
}
