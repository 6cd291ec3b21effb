// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package wipe

import (
	"bytes"
	"crypto/rand"
	"math/big"

	"github.com/ewsafe/core/pkg/platform"
)

const sampleSize = 1 << 20 // 1 MiB sample window

// minSamples/maxSamples bound the sample count: between 5 and 20
// samples, scaled by device size.
const (
	minSamples = 5
	maxSamples = 20
)

// sampleCount scales linearly with device size between the two bounds,
// one additional sample per full 512 MiB of device size.
func sampleCount(deviceSize int64) int {
	n := minSamples + int(deviceSize/(512<<20))
	if n < minSamples {
		return minSamples
	}
	if n > maxSamples {
		return maxSamples
	}
	return n
}

// samplePositions returns sector-aligned byte offsets to read: offset 0,
// the last aligned position, and uniformly random positions in between.
func samplePositions(deviceSize int64, sectorBytes int64, n int) ([]int64, error) {
	if deviceSize < sampleSize {
		return []int64{0}, nil
	}
	lastAligned := alignDown(deviceSize-sampleSize, sectorBytes)

	positions := make([]int64, 0, n)
	positions = append(positions, 0)
	if lastAligned > 0 {
		positions = append(positions, lastAligned)
	}
	for len(positions) < n {
		maxOffset := lastAligned
		if maxOffset <= 0 {
			break
		}
		r, err := rand.Int(rand.Reader, big.NewInt(maxOffset/sectorBytes))
		if err != nil {
			return nil, err
		}
		positions = append(positions, alignDown(r.Int64()*sectorBytes, sectorBytes))
	}
	return positions, nil
}

func alignDown(offset, align int64) int64 {
	if align <= 0 {
		return offset
	}
	return (offset / align) * align
}

// verifyResult is the outcome of sampling a device for recoverable
// residue.
type verifyResult struct {
	Passed bool
	Detail string
}

// runVerification reads sampleCount(size) aligned 1 MiB windows from
// the device and applies the recoverability predicate to each. Passed
// is false as soon as any sample trips the predicate.
func runVerification(reader platform.Reader, deviceSize int64, sectorBytes int64) (verifyResult, error) {
	n := sampleCount(deviceSize)
	positions, err := samplePositions(deviceSize, sectorBytes, n)
	if err != nil {
		return verifyResult{}, err
	}

	buf := make([]byte, sampleSize)
	for _, pos := range positions {
		if err := reader.Seek(pos); err != nil {
			return verifyResult{}, err
		}
		want := sampleSize
		if remaining := deviceSize - pos; remaining < int64(want) {
			want = int(remaining)
		}
		total := 0
		for total < want {
			n, err := reader.Read(buf[total:want])
			if n == 0 && err != nil {
				return verifyResult{}, err
			}
			total += n
			if err != nil {
				break
			}
		}
		sample := buf[:total]
		if hit, detail := recoverable(sample, sectorBytes); hit {
			return verifyResult{Passed: false, Detail: detail}, nil
		}
	}
	return verifyResult{Passed: true}, nil
}

// fsSignatures lists known filesystem/container/file magics, each with
// the byte offset within a sample window at which it is considered
// plausible.
var fsSignatures = []struct {
	name   string
	offset int
	magic  []byte
}{
	{"NTFS", 3, []byte("NTFS    ")},
	{"FAT32", 82, []byte("FAT32   ")},
	{"FAT16", 54, []byte("FAT16   ")},
	{"exFAT", 3, []byte("EXFAT   ")},
	{"ext", 0x438, []byte{0x53, 0xEF}},
	{"XFS", 0, []byte("XFSB")},
	{"Btrfs", 0x10040, []byte("_BHRfS_M")},
	{"PNG", 0, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}},
	{"JPEG", 0, []byte{0xFF, 0xD8, 0xFF}},
	{"PDF", 0, []byte("%PDF-")},
	{"ZIP", 0, []byte{'P', 'K', 0x03, 0x04}},
	{"MZ", 0, []byte("MZ")},
	{"ELF", 0, []byte{0x7F, 'E', 'L', 'F'}},
	{"RIFF", 0, []byte("RIFF")},
	{"GIF", 0, []byte("GIF8")},
}

var keywords = [][]byte{
	[]byte(".doc"), []byte(".pdf"), []byte(".xls"), []byte(".jpg"),
	[]byte(".png"), []byte("C:\\Users"), []byte("/home/"), []byte("password"),
	[]byte(".txt"), []byte("README"),
}

// recoverable implements the recoverability predicate, including the
// explicitly non-triggering rules for uniform and high-entropy content
// so a clean random- or constant-byte wipe never produces a false
// positive.
func recoverable(sample []byte, sectorBytes int64) (bool, string) {
	if len(sample) < 512 {
		return false, ""
	}

	distinct := countDistinctBytes(sample)

	// Explicit non-triggers: uniform or two-byte-alternating content, or
	// high-entropy (random-pattern) content.
	if distinct <= 2 {
		return false, ""
	}
	if distinct > 204 { // > 80% of 256 possible byte values
		return false, ""
	}

	// Boot-sector trailer at every 512-byte sector tail.
	for off := 0; off+512 <= len(sample); off += 512 {
		tail := sample[off+510 : off+512]
		if tail[0] == 0x55 && tail[1] == 0xAA {
			return true, "boot sector trailer 0x55 0xAA"
		}
	}

	for _, sig := range fsSignatures {
		if sig.offset+len(sig.magic) > len(sample) {
			continue
		}
		if bytes.Equal(sample[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return true, "filesystem/file signature: " + sig.name
		}
	}

	if hit := printableAsciiWithKeyword(sample); hit {
		return true, "printable ASCII window with filename/document keyword"
	}

	if hit := repeatedSectorMetadata(sample, int(sectorBytes)); hit {
		return true, "repeated sector matching filesystem-metadata heuristic"
	}

	return false, ""
}

func countDistinctBytes(b []byte) int {
	var seen [256]bool
	n := 0
	for _, v := range b {
		if !seen[v] {
			seen[v] = true
			n++
		}
	}
	return n
}

// printableAsciiWithKeyword implements: "Printable-ASCII ratio exceeds
// 10% of a >100-byte window and the window contains at least one
// filename/document keyword from a fixed list."
func printableAsciiWithKeyword(sample []byte) bool {
	const window = 4096
	for start := 0; start < len(sample); start += window {
		end := start + window
		if end > len(sample) {
			end = len(sample)
		}
		w := sample[start:end]
		if len(w) <= 100 {
			continue
		}
		printable := 0
		for _, b := range w {
			if b >= 0x20 && b < 0x7F {
				printable++
			}
		}
		if float64(printable)/float64(len(w)) <= 0.10 {
			continue
		}
		for _, kw := range keywords {
			if bytes.Contains(w, kw) {
				return true
			}
		}
	}
	return false
}

// repeatedSectorMetadata implements: "≥ 80% of 512-byte sectors within
// the sample are identical and that sector matches the
// filesystem-metadata heuristic (boot signature, FAT marker, NTFS
// marker, or directory-entry layout with plausible attribute bytes)."
func repeatedSectorMetadata(sample []byte, sectorBytes int) bool {
	if sectorBytes <= 0 {
		sectorBytes = 512
	}
	counts := map[string]int{}
	total := 0
	for off := 0; off+sectorBytes <= len(sample); off += sectorBytes {
		key := string(sample[off : off+sectorBytes])
		counts[key]++
		total++
	}
	if total == 0 {
		return false
	}
	for key, c := range counts {
		if float64(c)/float64(total) < 0.80 {
			continue
		}
		if sectorLooksLikeMetadata([]byte(key)) {
			return true
		}
	}
	return false
}

func sectorLooksLikeMetadata(sector []byte) bool {
	if len(sector) >= 512 && sector[510] == 0x55 && sector[511] == 0xAA {
		return true
	}
	if bytes.Contains(sector, []byte("FAT")) {
		return true
	}
	if bytes.Contains(sector, []byte("NTFS")) {
		return true
	}
	// Directory-entry layout: an 8.3 short name followed by a plausible
	// DOS attribute byte (archive/directory/read-only bits only).
	if len(sector) >= 32 {
		attr := sector[11]
		if attr&0xC0 == 0 && attr != 0x00 && isUpperAlnumOrSpace(sector[:8]) {
			return true
		}
	}
	return false
}

func isUpperAlnumOrSpace(b []byte) bool {
	for _, c := range b {
		if c == ' ' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			continue
		}
		if c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}
