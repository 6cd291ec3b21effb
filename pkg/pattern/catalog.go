// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package pattern holds the frozen catalog of named erase methods. Each
// method is an ordered, immutable sequence of pass descriptors; the
// catalog never mutates once built, and Random descriptors are resolved
// to fresh bytes by the caller at execution time, never cached here.
package pattern

import (
	"crypto/rand"
	"fmt"
)

// Kind is the closed set of pass descriptor variants. Avoid conflating
// a constant byte with freshly-sampled randomness behind one generic
// "pattern bytes" field: the engine dispatches on Kind once per pass.
type Kind int

const (
	Constant Kind = iota
	Alternating
	Random
)

func (k Kind) String() string {
	switch k {
	case Constant:
		return "constant"
	case Alternating:
		return "alternating"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// Descriptor is one pass in a Method. Byte0/Byte1 are meaningful only
// for Constant (Byte0) and Alternating (Byte0, Byte1); Random ignores
// both.
type Descriptor struct {
	Kind  Kind
	Byte0 byte
	Byte1 byte
}

func (d Descriptor) String() string {
	switch d.Kind {
	case Constant:
		return fmt.Sprintf("constant(0x%02x)", d.Byte0)
	case Alternating:
		return fmt.Sprintf("alternating(0x%02x,0x%02x)", d.Byte0, d.Byte1)
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// Fill writes the descriptor's pattern into buf, tiling constant/
// alternating bytes and drawing fresh cryptographically secure bytes for
// Random. buf is never reused across a Random fill from a cached source:
// each call samples anew.
func (d Descriptor) Fill(buf []byte) error {
	switch d.Kind {
	case Constant:
		for i := range buf {
			buf[i] = d.Byte0
		}
		return nil
	case Alternating:
		for i := range buf {
			if i%2 == 0 {
				buf[i] = d.Byte0
			} else {
				buf[i] = d.Byte1
			}
		}
		return nil
	case Random:
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("pattern: failed to generate random data: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("pattern: unknown descriptor kind %d", d.Kind)
	}
}

// Method is a frozen, named, ordered sequence of pass descriptors plus
// the compliance tags the method satisfies. Methods are immutable; the
// catalog always returns the same Method value for a given ID.
type Method struct {
	ID             string
	Name           string
	Passes         []Descriptor
	ComplianceTags []string
}

// TotalPasses is the number of passes a software overwrite of this
// method requires.
func (m Method) TotalPasses() int {
	return len(m.Passes)
}

const (
	NISTClear     = "nist_clear"
	NISTPurge     = "nist_purge"
	DoDShort      = "dod_522022m"
	DoDFullRandom = "dod_full_random"
	Gutmann35     = "gutmann_35"
)

// catalog is the frozen table. It must never be mutated after package
// init; Get and All return Method values whose Passes slices share this
// table's backing arrays, which is safe because Descriptor is a value
// type and Passes is only ever read.
var catalog = map[string]Method{
	NISTClear: {
		ID:   NISTClear,
		Name: "Single-pass zero (NIST SP 800-88 Clear)",
		Passes: []Descriptor{
			{Kind: Constant, Byte0: 0x00},
		},
		ComplianceTags: []string{"NIST-SP-800-88-Clear"},
	},
	NISTPurge: {
		ID:   NISTPurge,
		Name: "Three-pass zero/ff/random (NIST SP 800-88 Purge-equivalent)",
		Passes: []Descriptor{
			{Kind: Constant, Byte0: 0x00},
			{Kind: Constant, Byte0: 0xFF},
			{Kind: Random},
		},
		ComplianceTags: []string{"NIST-SP-800-88-Purge"},
	},
	DoDShort: {
		ID:   DoDShort,
		Name: "DoD 5220.22-M seven-pass alternating with random tail",
		Passes: []Descriptor{
			{Kind: Constant, Byte0: 0x00},
			{Kind: Constant, Byte0: 0xFF},
			{Kind: Alternating, Byte0: 0x96, Byte1: 0x69},
			{Kind: Constant, Byte0: 0x00},
			{Kind: Constant, Byte0: 0xFF},
			{Kind: Alternating, Byte0: 0x96, Byte1: 0x69},
			{Kind: Random},
		},
		ComplianceTags: []string{"DoD-5220.22-M"},
	},
	DoDFullRandom: {
		ID:   DoDFullRandom,
		Name: "Seven-pass full random",
		Passes: []Descriptor{
			{Kind: Random}, {Kind: Random}, {Kind: Random},
			{Kind: Random}, {Kind: Random}, {Kind: Random},
			{Kind: Random},
		},
		ComplianceTags: []string{"DoD-5220.22-M-ECE"},
	},
	Gutmann35: {
		ID:             Gutmann35,
		Name:           "Gutmann 35-pass mixed sequence",
		Passes:         gutmannPasses(),
		ComplianceTags: []string{"Gutmann-1996"},
	},
}

// gutmannPasses builds the 35-pass Gutmann sequence: 4 random passes,
// 27 fixed passes cycling through the published byte patterns (each
// rendered here as a single-byte constant descriptor; the three-byte
// patterns contribute one pass per starting byte), then 4 more random
// passes.
func gutmannPasses() []Descriptor {
	passes := make([]Descriptor, 0, 35)
	for i := 0; i < 4; i++ {
		passes = append(passes, Descriptor{Kind: Random})
	}
	fixed := []byte{
		0x55, 0xAA, 0x92, 0x49, 0x24,
		0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
		0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
		0x92, 0x49, 0x24, 0x6D, 0xB6, 0xDB,
	}
	for _, b := range fixed {
		passes = append(passes, Descriptor{Kind: Constant, Byte0: b})
	}
	for i := 0; i < 4; i++ {
		passes = append(passes, Descriptor{Kind: Random})
	}
	return passes
}

// Get returns the frozen Method for id, or an error if id is unknown.
func Get(id string) (Method, error) {
	m, ok := catalog[id]
	if !ok {
		return Method{}, fmt.Errorf("pattern: unknown method %q", id)
	}
	return m, nil
}

// All returns every catalog entry, sorted by ID, for listing surfaces.
func All() []Method {
	ids := []string{DoDShort, DoDFullRandom, Gutmann35, NISTClear, NISTPurge}
	out := make([]Method, 0, len(ids))
	for _, id := range ids {
		out = append(out, catalog[id])
	}
	return out
}
