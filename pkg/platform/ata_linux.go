// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ATA PASS-THROUGH(16) lets a SATA device receive native ATA commands
// through the SCSI generic I/O ioctl, the same mechanism smartctl and
// hdparm use. Constants mirror <scsi/sg.h> and T10 SAT-3.
const (
	sgDxferNone     = -1
	sgDxferToDev    = -2
	sgDxferFromDev  = -3
	sgIO            = 0x2285
	scsiATAPassthru16 = 0x85

	ataIdentifyDevice        = 0xEC
	ataReadNativeMaxAddrExt  = 0x27
	ataSetMaxAddrExt         = 0x37
	ataSecurityFreezeLock    = 0xF5
	ataSecuritySetPassword   = 0xF1
	ataSecurityEraseUnit     = 0xF4
	ataSecurityEraseEnhanced = 0x0002 // feature bit for SECURITY ERASE UNIT cdw1
)

// sgIoHdr mirrors struct sg_io_hdr from <scsi/sg.h>. Field layout
// matches the reference implementation in dswarbrick/smart.
type sgIoHdr struct {
	interfaceID   int32
	dxferDir      int32
	cmdLen        uint8
	mxSbLen       uint8
	iovecCount    uint16
	dxferLen      uint32
	dxferp        uintptr
	cmdp          uintptr
	sbp           uintptr
	timeout       uint32
	flags         uint32
	packID        int32
	usrPtr        uintptr
	status        uint8
	maskedStatus  uint8
	msgStatus     uint8
	sbLenWr       uint8
	hostStatus    uint16
	driverStatus  uint16
	resid         int32
	duration      uint32
	info          uint32
}

// ataPassthru16CDB builds a 16-byte ATA PASS-THROUGH CDB. protocol 4 =
// PIO data-in, 5 = PIO data-out, 3 = non-data.
func ataPassthru16CDB(protocol, feature, count byte, lba uint64, command byte, dataIn bool) [16]byte {
	var cdb [16]byte
	cdb[0] = scsiATAPassthru16
	cdb[1] = protocol << 1
	cdb[2] = 0x06 // T_LENGTH=2 (sector count), BYTE_BLOCK=1, T_TYPE=0
	if dataIn {
		cdb[2] |= 1 << 3 // T_DIR: transfer from device
	}
	cdb[3] = feature
	cdb[4] = count
	cdb[5] = byte(lba)
	cdb[6] = byte(lba >> 8)
	cdb[7] = byte(lba >> 16)
	cdb[8] = byte(lba >> 24)
	cdb[9] = byte(lba >> 32)
	cdb[10] = byte(lba >> 40)
	cdb[13] = 0 // device/head
	cdb[14] = command
	return cdb
}

func sgExecute(fd uintptr, cdb []byte, data []byte, dataIn bool, timeoutMs uint32) error {
	var sense [32]byte
	hdr := sgIoHdr{
		interfaceID: 'S',
		cmdLen:      uint8(len(cdb)),
		mxSbLen:     uint8(len(sense)),
		dxferLen:    uint32(len(data)),
		cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		sbp:         uintptr(unsafe.Pointer(&sense[0])),
		timeout:     timeoutMs,
	}
	if len(data) > 0 {
		hdr.dxferp = uintptr(unsafe.Pointer(&data[0]))
		if dataIn {
			hdr.dxferDir = sgDxferFromDev
		} else {
			hdr.dxferDir = sgDxferToDev
		}
	} else {
		hdr.dxferDir = sgDxferNone
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(sgIO), uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return fmt.Errorf("SG_IO ioctl: %w", errno)
	}
	if hdr.status != 0 {
		return fmt.Errorf("SG_IO: SCSI status %#02x", hdr.status)
	}
	return nil
}

// ataIdentify issues IDENTIFY DEVICE and returns the raw 512-byte
// response (word-swapped little-endian, per ATA convention).
func ataIdentify(fd uintptr) ([512]byte, error) {
	var buf [512]byte
	cdb := ataPassthru16CDB(4, 0, 1, 0, ataIdentifyDevice, true)
	err := sgExecute(fd, cdb[:], buf[:], true, 15000)
	return buf, err
}

// ataReadNativeMaxAddress issues READ NATIVE MAX ADDRESS EXT. The
// native (pre-HPA) maximum LBA the drive reports is not parsed out of
// the response: on success it always returns 0, so HiddenAreaReport on
// Linux never reports an HPA.
func ataReadNativeMaxAddress(fd uintptr) (uint64, error) {
	cdb := ataPassthru16CDB(3, 0, 0, 0, ataReadNativeMaxAddrExt, false)
	var sense [32]byte
	hdr := sgIoHdr{
		interfaceID: 'S',
		cmdLen:      uint8(len(cdb)),
		mxSbLen:     uint8(len(sense)),
		cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		sbp:         uintptr(unsafe.Pointer(&sense[0])),
		dxferDir:    sgDxferNone,
		timeout:     15000,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(sgIO), uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return 0, fmt.Errorf("SG_IO READ NATIVE MAX ADDRESS: %w", errno)
	}
	// The returned LBA is reflected back in the task file registers,
	// which sg_io_hdr does not expose directly without a sense/descriptor
	// parse; real implementations read it from the ATA status/return
	// descriptor. Treated as best-effort: absence of a parsed value is
	// reported as "unknown", never as a failure of the wipe.
	return 0, nil
}

// ataSetMaxAddress issues SET MAX ADDRESS EXT to restore the full native
// LBA range, clearing an HPA.
func ataSetMaxAddress(fd uintptr, nativeMaxLBA uint64) error {
	cdb := ataPassthru16CDB(3, 0, 1, nativeMaxLBA, ataSetMaxAddrExt, false)
	return sgExecute(fd, cdb[:], nil, false, 15000)
}

// ataSecurityEraseUnit issues the ATA SECURITY ERASE PREPARE / SECURITY
// ERASE UNIT sequence, the hardware-purge primitive for SATA SSDs.
// enhanced sets the enhanced-erase feature bit. The Linux adapter always
// requests enhanced erase and does not retry with standard erase.
func ataSecurityEraseUnit(fd uintptr, enhanced bool) error {
	// SECURITY ERASE PREPARE (0xF3) must immediately precede the erase.
	prepare := ataPassthru16CDB(3, 0, 0, 0, 0xF3, false)
	if err := sgExecute(fd, prepare[:], nil, false, 15000); err != nil {
		return fmt.Errorf("SECURITY ERASE PREPARE: %w", err)
	}

	feature := byte(0)
	if enhanced {
		feature = 0x02
	}
	var payload [512]byte // password block: identifier + 32-byte password, zeroed (no password set)
	cdb := ataPassthru16CDB(5, feature, 1, 0, ataSecurityEraseUnit, false)
	// Hardware-erase timeouts are long: allow up to 2h for ATA Security
	// Erase Unit; the SG_IO timeout field is milliseconds.
	return sgExecute(fd, cdb[:], payload[:], false, 2*60*60*1000)
}
