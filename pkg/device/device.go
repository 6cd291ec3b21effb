// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package device holds the strongly typed description of an enumerated
// block device. Devices are created by a platform.Adapter and are
// immutable once enumerated.
package device

import "fmt"

// MediumClass classifies the physical storage medium of a device. The
// classification drives whether hardware purge and post-wipe TRIM are
// attempted; verification treats every medium class alike.
type MediumClass int

const (
	MediumUnknown MediumClass = iota
	MediumRotationalHDD
	MediumSATASSD
	MediumNVMeSSD
	MediumUSBMassStorage
	MediumEmbeddedFlash
)

func (m MediumClass) String() string {
	switch m {
	case MediumRotationalHDD:
		return "rotational_hdd"
	case MediumSATASSD:
		return "sata_ssd"
	case MediumNVMeSSD:
		return "nvme_ssd"
	case MediumUSBMassStorage:
		return "usb_mass_storage"
	case MediumEmbeddedFlash:
		return "embedded_flash"
	default:
		return "unknown"
	}
}

// IsSolidState reports whether the medium is flash-backed and therefore
// a candidate for hardware purge and post-wipe TRIM.
func (m MediumClass) IsSolidState() bool {
	switch m {
	case MediumSATASSD, MediumNVMeSSD, MediumEmbeddedFlash:
		return true
	default:
		return false
	}
}

// Device is the identity and geometry of one enumerated block device.
// Devices are produced by a single enumeration snapshot and never
// mutated afterward; a later enumeration produces new Device values.
type Device struct {
	Path         string
	Model        string
	Serial       string
	Interface    string
	MediumClass  MediumClass
	LogicalBytes int64
	SectorBytes  int64
	PlatformTag  string
}

// String renders a short human-readable identity, used in log messages
// and progress callbacks - never in signed certificate content.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %s, %s)", d.Path, d.Model, humanBytes(d.LogicalBytes), d.MediumClass)
}

// Validate checks that a Device carries the minimum information the
// Wipe Engine needs to operate safely.
func (d Device) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("device: empty path")
	}
	if d.LogicalBytes <= 0 {
		return fmt.Errorf("device %s: non-positive logical size %d", d.Path, d.LogicalBytes)
	}
	if d.SectorBytes <= 0 {
		return fmt.Errorf("device %s: non-positive sector size %d", d.Path, d.SectorBytes)
	}
	return nil
}

// humanBytes renders a byte count as a short human-readable size, e.g.
// "64.0 MiB". Used for device.String() and for the certificate's
// device.size_human field.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// HumanBytes exposes the byte-count formatter used by device.String for
// callers outside this package (the attestation pipeline's device block
// needs the identical rendering for size_human).
func HumanBytes(n int64) string {
	return humanBytes(n)
}
