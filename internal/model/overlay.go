// SPDX-License-Identifier: LGPL-3.0-or-later

package model

import "fmt"

// OverlayStats holds the two measurements attached to an overlay long after
// creation: the estimate computed in §4.5 and the actual size measured
// after copy in §4.9 step 4. Per the §9 "Overlay identity" design note this
// is modeled as an interior-mutable cell on an otherwise immutable Overlay
// value, matching the linear, single-threaded pipeline.
type OverlayStats struct {
	EstimatedSize *int64
	ActualSize    *int64
}

// Overlay is the mutable wrapper the overlay manager (§4.3) creates around
// one SourceDisk: a freshly created qcow2 file backed by the source disk's
// URI, a synthetic device name, and the backing file's virtual size.
type Overlay struct {
	Source      SourceDisk
	Path        string // path to the qcow2 overlay file
	DeviceName  string // "sda", "sdb", ..., "sdaa", ... (§9 base-26 naming)
	VirtualSize int64  // backing file's virtual size in bytes; must be > 0

	Stats OverlayStats
}

// NewOverlay constructs an Overlay, enforcing the §4.3 invariant that the
// backing file's virtual size is known and positive.
func NewOverlay(src SourceDisk, path, deviceName string, virtualSize int64) (*Overlay, error) {
	if virtualSize <= 0 {
		return nil, fmt.Errorf("overlay for disk %d (%s): backing file has zero virtual size "+
			"(if the source is fetched over ssh-block, the remote device may not report its size)",
			src.ID, src.URI)
	}
	return &Overlay{
		Source:      src,
		Path:        path,
		DeviceName:  deviceName,
		VirtualSize: virtualSize,
	}, nil
}

// DeviceNameForIndex reproduces the spec's base-26 "sd" + letters sequence:
// a, b, ..., z, aa, ab, ..., az, ba, ... This is a bijection from 0..n onto
// that sequence; conversion modules depend on its exact shape for device
// remapping (§9 "Base-26 disk naming").
func DeviceNameForIndex(i int) string {
	if i < 0 {
		panic("model: negative disk index")
	}
	suffix := base26(i)
	return "sd" + suffix
}

// base26 is the "spreadsheet column" variant: 0->"a", 25->"z", 26->"aa",
// 27->"ab", 701->"zz", 702->"aaa". Unlike plain base-26 with digits 0-25,
// there is no representation collision because the leading letter always
// shifts once the low letters wrap (z -> aa, never -> ba).
func base26(i int) string {
	var letters []byte
	n := i
	for {
		letters = append([]byte{byte('a' + n%26)}, letters...)
		n = n/26 - 1
		if n < 0 {
			break
		}
	}
	return string(letters)
}

// MountpointStats is the per-mounted-filesystem statvfs record (§3, §4.4).
type MountpointStats struct {
	Device     string
	MountPath  string
	FSType     string
	BlockSize  uint64
	Blocks     uint64
	BlocksFree uint64
	BlocksAvail uint64
	Files      uint64
	FilesFree  uint64
}

// TotalBytes returns blocks*bsize.
func (m MountpointStats) TotalBytes() uint64 { return m.Blocks * m.BlockSize }

// FreeBytes returns bfree*bsize.
func (m MountpointStats) FreeBytes() uint64 { return m.BlocksFree * m.BlockSize }
