// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package pattern

import "testing"

func TestGet_KnownMethods(t *testing.T) {
	for _, id := range []string{NISTClear, NISTPurge, DoDShort, DoDFullRandom, Gutmann35} {
		m, err := Get(id)
		if err != nil {
			t.Fatalf("Get(%q): unexpected error: %v", id, err)
		}
		if m.TotalPasses() == 0 {
			t.Fatalf("Get(%q): method has zero passes", id)
		}
		if len(m.ComplianceTags) == 0 {
			t.Fatalf("Get(%q): method declares no compliance tags", id)
		}
	}
}

func TestGet_UnknownMethod(t *testing.T) {
	if _, err := Get("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown method id")
	}
}

func TestMethod_PassCounts(t *testing.T) {
	cases := map[string]int{
		NISTClear:     1,
		NISTPurge:     3,
		DoDShort:      7,
		DoDFullRandom: 7,
		Gutmann35:     35,
	}
	for id, want := range cases {
		m, err := Get(id)
		if err != nil {
			t.Fatalf("Get(%q): %v", id, err)
		}
		if got := m.TotalPasses(); got != want {
			t.Fatalf("%s: TotalPasses() = %d, want %d", id, got, want)
		}
	}
}

func TestDescriptor_FillConstant(t *testing.T) {
	d := Descriptor{Kind: Constant, Byte0: 0xAB}
	buf := make([]byte, 16)
	if err := d.Fill(buf); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	for i, b := range buf {
		if b != 0xAB {
			t.Fatalf("byte %d = 0x%02x, want 0xab", i, b)
		}
	}
}

func TestDescriptor_FillAlternating(t *testing.T) {
	d := Descriptor{Kind: Alternating, Byte0: 0x96, Byte1: 0x69}
	buf := make([]byte, 8)
	if err := d.Fill(buf); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	want := []byte{0x96, 0x69, 0x96, 0x69, 0x96, 0x69, 0x96, 0x69}
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("byte %d = 0x%02x, want 0x%02x", i, buf[i], want[i])
		}
	}
}

func TestDescriptor_FillRandom_NotIdentical(t *testing.T) {
	d := Descriptor{Kind: Random}
	a := make([]byte, 4096)
	b := make([]byte, 4096)
	if err := d.Fill(a); err != nil {
		t.Fatalf("Fill a: %v", err)
	}
	if err := d.Fill(b); err != nil {
		t.Fatalf("Fill b: %v", err)
	}
	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Fatal("two independent random fills produced identical buffers")
	}
}

func TestAll_SortedAndComplete(t *testing.T) {
	methods := All()
	if len(methods) != 5 {
		t.Fatalf("All(): got %d methods, want 5", len(methods))
	}
	for i := 1; i < len(methods); i++ {
		if methods[i-1].ID >= methods[i].ID {
			t.Fatalf("All(): %q listed before %q, want sorted by ID", methods[i-1].ID, methods[i].ID)
		}
	}
	seen := map[string]bool{}
	for _, m := range methods {
		seen[m.ID] = true
	}
	for _, id := range []string{NISTClear, NISTPurge, DoDShort, DoDFullRandom, Gutmann35} {
		if !seen[id] {
			t.Fatalf("All(): missing method %q", id)
		}
	}
}
