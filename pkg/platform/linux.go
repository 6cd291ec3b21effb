// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package platform

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ewsafe/core/pkg/device"
)

// Linux is the production Adapter backend for Linux hosts. It drives
// sysfs for enumeration and classification, /proc/mounts for dismount,
// flock(2) for exclusive locking, raw block-device file descriptors for
// I/O, and SG_IO/NVMe-passthrough ioctls for hidden-area and
// hardware-purge operations.
type Linux struct {
	// SysBlock overrides the sysfs block-class root, for tests that want
	// to exercise enumeration against a fixture tree without a real
	// system. Defaults to "/sys/class/block".
	SysBlock string
	// ProcMounts overrides the mount table path. Defaults to "/proc/mounts".
	ProcMounts string
}

// NewLinux returns a Linux adapter configured against the real system
// paths.
func NewLinux() *Linux {
	return &Linux{SysBlock: "/sys/class/block", ProcMounts: "/proc/mounts"}
}

func (l *Linux) sysBlock() string {
	if l.SysBlock != "" {
		return l.SysBlock
	}
	return "/sys/class/block"
}

func (l *Linux) procMounts() string {
	if l.ProcMounts != "" {
		return l.ProcMounts
	}
	return "/proc/mounts"
}

var skipPrefixes = []string{"loop", "dm-", "sr", "ram", "zram", "md"}

func (l *Linux) Enumerate(ctx context.Context) ([]device.Device, error) {
	entries, err := os.ReadDir(l.sysBlock())
	if err != nil {
		return nil, fmt.Errorf("platform: enumerate: read %s: %w", l.sysBlock(), err)
	}

	var out []device.Device
	for _, ent := range entries {
		name := ent.Name()
		if skippedName(name) {
			continue
		}
		// Whole disks only: a partition carries a "partition" attribute
		// file under its sysfs node.
		if fileExists(filepath.Join(l.sysBlock(), name, "partition")) {
			continue
		}
		d, err := l.describeDevice(name)
		if err != nil {
			// A single unreadable device must not abort the whole
			// enumeration; it is simply omitted.
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func skippedName(name string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (l *Linux) describeDevice(name string) (device.Device, error) {
	root := filepath.Join(l.sysBlock(), name)

	sectorBytes := readSysfsInt(filepath.Join(root, "queue", "logical_block_size"), 512)
	sizeSectors := readSysfsInt(filepath.Join(root, "size"), 0)
	logicalBytes := sizeSectors * 512 // "size" is always expressed in 512-byte units
	rotational := readSysfsInt(filepath.Join(root, "queue", "rotational"), 1) == 1
	model := strings.TrimSpace(readSysfsString(filepath.Join(root, "device", "model")))
	serial := strings.TrimSpace(readSysfsString(filepath.Join(root, "device", "serial")))

	iface := detectTransport(root, name)

	// sysfs doesn't always expose model/serial (some USB-SATA bridges and
	// controllers leave these attribute files empty); fall back to an
	// ATA/NVMe IDENTIFY passthrough for whichever of the two is missing.
	if model == "" || serial == "" {
		idModel, idSerial := identifyModelSerial(filepath.Join("/dev", name), iface)
		if model == "" {
			model = idModel
		}
		if serial == "" {
			serial = idSerial
		}
	}

	medium := classifyMedium(name, iface, rotational, model)

	d := device.Device{
		Path:         filepath.Join("/dev", name),
		Model:        model,
		Serial:       serial,
		Interface:    iface,
		MediumClass:  medium,
		LogicalBytes: logicalBytes,
		SectorBytes:  sectorBytes,
		PlatformTag:  "linux",
	}
	if err := d.Validate(); err != nil {
		return device.Device{}, err
	}
	return d, nil
}

// detectTransport inspects the sysfs device symlink chain to classify the
// bus a device is attached through, mirroring the approach in
// siderolabs/go-blockdevice's linux backend (resolving "device" and
// walking subsystem symlinks) rather than parsing udev databases.
func detectTransport(root, name string) string {
	switch {
	case strings.HasPrefix(name, "nvme"):
		return "nvme"
	case strings.HasPrefix(name, "mmcblk"):
		return "mmc"
	}
	link, err := filepath.EvalSymlinks(filepath.Join(root, "device"))
	if err == nil {
		if strings.Contains(link, "/usb") {
			return "usb"
		}
	}
	return "ata"
}

func classifyMedium(name, iface string, rotational bool, model string) device.MediumClass {
	switch iface {
	case "nvme":
		return device.MediumNVMeSSD
	case "mmc":
		return device.MediumEmbeddedFlash
	case "usb":
		return device.MediumUSBMassStorage
	}
	if rotational {
		return device.MediumRotationalHDD
	}
	return device.MediumSATASSD
}

func readSysfsString(path string) string {
	b, err := os.ReadFile(path) // #nosec G304 -- sysfs path built from enumerated device name
	if err != nil {
		return ""
	}
	return string(b)
}

func readSysfsInt(path string, fallback int64) int64 {
	s := strings.TrimSpace(readSysfsString(path))
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (l *Linux) Preflight(ctx context.Context, d device.Device) error {
	if unix.Geteuid() != 0 {
		return &DeviceError{Device: d.Path, Op: "preflight", Err: ErrNotPrivileged}
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		return &DeviceError{Device: d.Path, Op: "preflight", Err: ErrDeviceMissing}
	}
	if info.Mode()&os.ModeDevice == 0 {
		return &DeviceError{Device: d.Path, Op: "preflight", Err: ErrDeviceMissing}
	}
	return nil
}

// linuxLock holds the exclusive flock(2) taken on the raw device for the
// duration of a wipe.
type linuxLock struct {
	f *os.File
}

func (lk *linuxLock) Release() error {
	_ = unix.Flock(int(lk.f.Fd()), unix.LOCK_UN)
	return lk.f.Close()
}

func (l *Linux) DismountAndLock(ctx context.Context, d device.Device) (ScopedLock, DismountReport, error) {
	report, err := l.dismountPartitions(d)
	if err != nil {
		return nil, report, err
	}

	f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return nil, report, &DeviceError{Device: d.Path, Op: "dismount_and_lock", Err: ErrDeviceBusy}
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, report, &DeviceError{Device: d.Path, Op: "dismount_and_lock", Err: ErrDeviceBusy}
	}
	return &linuxLock{f: f}, report, nil
}

// dismountPartitions scans /proc/mounts for any mount point backed by d
// or one of its numbered partitions and unmounts each. A mount point
// that refuses to unmount is recorded as a warning, not a fatal error.
// Apart from an unreadable mount table, DismountAndLock fails only when
// the exclusive lock itself cannot be obtained.
func (l *Linux) dismountPartitions(d device.Device) (DismountReport, error) {
	var report DismountReport

	f, err := os.Open(l.procMounts())
	if err != nil {
		return report, fmt.Errorf("platform: read %s: %w", l.procMounts(), err)
	}
	defer func() { _ = f.Close() }()

	base := filepath.Base(d.Path)
	var mountPoints []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		devName := filepath.Base(fields[0])
		// A partition is the disk name followed by its number, with a "p"
		// separator for disk names ending in a digit (nvme0n1p1).
		sep := ""
		if c := base[len(base)-1]; c >= '0' && c <= '9' {
			sep = "p"
		}
		num := strings.TrimPrefix(devName, base+sep)
		if devName == base || (num != devName && num != "" && strings.Trim(num, "0123456789") == "") {
			mountPoints = append(mountPoints, fields[1])
		}
	}

	for _, mp := range mountPoints {
		if err := unix.Unmount(mp, 0); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("unmount %s: %v", mp, err))
			continue
		}
		report.Dismounted = append(report.Dismounted, mp)
	}
	return report, nil
}

// linuxWriter/linuxReader wrap a raw *os.File handle on a block device,
// translating short reads/writes and I/O errno classes into the
// platform error taxonomy.
type linuxWriter struct{ f *os.File }
type linuxReader struct{ f *os.File }

func (w *linuxWriter) Seek(offset int64) error {
	_, err := w.f.Seek(offset, io.SeekStart)
	return err
}

func (w *linuxWriter) Write(buf []byte) (int, error) {
	n, err := w.f.Write(buf)
	if err != nil {
		return n, classifyIOError(w.f.Name(), "write", err)
	}
	return n, nil
}

func (w *linuxWriter) FlushToMedia() error {
	return w.f.Sync()
}

func (w *linuxWriter) Close() error { return w.f.Close() }

func (r *linuxReader) Seek(offset int64) error {
	_, err := r.f.Seek(offset, io.SeekStart)
	return err
}

func (r *linuxReader) Read(buf []byte) (int, error) {
	n, err := r.f.Read(buf)
	if err != nil {
		return n, classifyIOError(r.f.Name(), "read", err)
	}
	return n, nil
}

func (r *linuxReader) Close() error { return r.f.Close() }

// classifyIOError maps a raw I/O error into one of the platform
// taxonomy's wrapped sentinel errors, so the Wipe Engine's retry/skip
// logic never has to inspect a raw errno itself.
func classifyIOError(path, op string, err error) error {
	switch {
	case errors.Is(err, unix.EIO):
		return &DeviceError{Device: path, Op: op, Err: ErrIoMedium}
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EROFS):
		return &DeviceError{Device: path, Op: op, Err: ErrWriteProtected}
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO):
		return &DeviceError{Device: path, Op: op, Err: ErrDeviceMissing}
	case errors.Is(err, unix.ETIMEDOUT), errors.Is(err, unix.EAGAIN):
		return &DeviceError{Device: path, Op: op, Err: ErrIoTransient}
	default:
		return &DeviceError{Device: path, Op: op, Err: ErrIoFatal}
	}
}

func (l *Linux) RawWriter(d device.Device) (Writer, error) {
	f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return nil, &DeviceError{Device: d.Path, Op: "open_writer", Err: ErrDeviceMissing}
	}
	return &linuxWriter{f: f}, nil
}

func (l *Linux) RawReader(d device.Device) (Reader, error) {
	f, err := os.Open(d.Path) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return nil, &DeviceError{Device: d.Path, Op: "open_reader", Err: ErrDeviceMissing}
	}
	return &linuxReader{f: f}, nil
}

const blkGetSize64 = 0x80081272 // BLKGETSIZE64, absent from golang.org/x/sys/unix

func (l *Linux) DeviceSize(d device.Device) (int64, error) {
	f, err := os.Open(d.Path) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return 0, &DeviceError{Device: d.Path, Op: "device_size", Err: ErrDeviceMissing}
	}
	defer func() { _ = f.Close() }()

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(blkGetSize64), uintptr(unsafe.Pointer(&size)))
	if errno == 0 {
		return int64(size), nil
	}

	// Fallback for platforms/filesystems where BLKGETSIZE64 is
	// unavailable (e.g. a regular-file stand-in used in integration
	// tests): seek to the end.
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("platform: device_size: %w", err)
	}
	return end, nil
}

const blkDiscard = 0x1277 // BLKDISCARD ioctl number

func (l *Linux) PostWipeTrim(ctx context.Context, d device.Device) error {
	if !d.MediumClass.IsSolidState() {
		return nil
	}
	f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return nil // never fatal per Adapter contract
	}
	defer func() { _ = f.Close() }()

	size, err := l.DeviceSize(d)
	if err != nil {
		return nil
	}
	rng := [2]uint64{0, uint64(size)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(blkDiscard), uintptr(unsafe.Pointer(&rng)))
	if errno != 0 {
		return nil // discard is best-effort; never fails the wipe
	}
	return nil
}

// identifyModelSerial queries the device's IDENTIFY data over the
// ATA/NVMe passthrough ioctl, used as a fallback when sysfs doesn't
// expose model/serial. Errors are swallowed: enumeration must not fail
// just because a device refuses the passthrough command.
func identifyModelSerial(path, iface string) (model, serial string) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return "", ""
	}
	defer func() { _ = f.Close() }()

	switch iface {
	case "nvme":
		data, err := nvmeIdentifyController(f.Fd())
		if err != nil {
			return "", ""
		}
		return strings.TrimSpace(string(data[24:64])), strings.TrimSpace(string(data[4:24]))
	case "ata":
		data, err := ataIdentify(f.Fd())
		if err != nil {
			return "", ""
		}
		return ataIdentifyString(data[54:94]), ataIdentifyString(data[20:40])
	default:
		return "", ""
	}
}

// ataIdentifyString decodes an ASCII field from ATA IDENTIFY DEVICE
// data: characters are stored byte-swapped within each 16-bit word.
func ataIdentifyString(b []byte) string {
	out := make([]byte, len(b))
	for i := 0; i+1 < len(b); i += 2 {
		out[i] = b[i+1]
		out[i+1] = b[i]
	}
	return strings.TrimSpace(string(out))
}

func (l *Linux) HiddenAreaReport(ctx context.Context, d device.Device) (HiddenAreaInfo, error) {
	if d.Interface == "nvme" {
		// NVMe has no HPA/DCO concept; any over-provisioning is internal
		// to the controller and invisible to the host.
		return HiddenAreaInfo{}, nil
	}
	f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return HiddenAreaInfo{}, &DeviceError{Device: d.Path, Op: "hidden_area_report", Err: ErrDeviceMissing}
	}
	defer func() { _ = f.Close() }()

	nativeMax, err := ataReadNativeMaxAddress(f.Fd())
	if err != nil {
		// A drive that rejects the passthrough command (e.g. behind a
		// USB-SATA bridge that does not forward ATA commands) is treated
		// as having no detectable hidden area, never as a wipe failure.
		return HiddenAreaInfo{}, nil
	}
	reportedMax, err := l.DeviceSize(d)
	if err != nil {
		return HiddenAreaInfo{}, nil
	}
	info := HiddenAreaInfo{}
	nativeBytes := int64(nativeMax) * d.SectorBytes
	if nativeMax > 0 && nativeBytes > reportedMax {
		info.HPAPresent = true
		info.HPASectorsHidden = (nativeBytes - reportedMax) / d.SectorBytes
		info.Detail = "native max address exceeds reported device size"
	}
	return info, nil
}

func (l *Linux) NeutralizeHiddenAreas(ctx context.Context, d device.Device) (HiddenAreaInfo, error) {
	info, err := l.HiddenAreaReport(ctx, d)
	if err != nil || !info.HPAPresent {
		return info, err
	}
	f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
	if err != nil {
		return info, nil
	}
	defer func() { _ = f.Close() }()

	nativeMax, err := ataReadNativeMaxAddress(f.Fd())
	if err != nil {
		info.Detail = "hidden area detected but could not be re-read for clearing"
		return info, nil
	}
	if err := ataSetMaxAddress(f.Fd(), nativeMax); err != nil {
		info.Detail = "SET MAX ADDRESS rejected by drive; hidden area left in place"
		return info, nil
	}
	info.Cleared = true
	info.Detail = "native max address restored via SET MAX ADDRESS EXT"
	return info, nil
}

func (l *Linux) TryHardwarePurge(ctx context.Context, d device.Device) (HardwareOutcome, error) {
	if !d.MediumClass.IsSolidState() {
		return HardwareUnsupported, nil
	}

	switch d.Interface {
	case "nvme":
		f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
		if err != nil {
			return HardwareUnsupported, nil
		}
		defer func() { _ = f.Close() }()
		if err := nvmeFormatSecureErase(f.Fd(), 1, 1); err != nil {
			return HardwareFailed, err
		}
		return HardwarePurged, nil
	case "ata", "usb":
		f, err := os.OpenFile(d.Path, os.O_RDWR, 0) // #nosec G304 -- device path produced by Enumerate
		if err != nil {
			return HardwareUnsupported, nil
		}
		defer func() { _ = f.Close() }()
		if err := ataSecurityEraseUnit(f.Fd(), true); err != nil {
			return HardwareFailed, err
		}
		return HardwarePurged, nil
	default:
		return HardwareUnsupported, nil
	}
}
