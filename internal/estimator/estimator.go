// SPDX-License-Identifier: LGPL-3.0-or-later

// Package estimator implements the §4.5 space estimation algorithm: a
// per-overlay upper bound on the bytes the target will need, given that
// fstrim will zero some guest free space before copy and the converter
// only copies non-zero sectors. It is a pure, deterministic function of
// its inputs, in the style of the teacher's cost-estimation package:
// versioned input in, a structured result out, no hidden state.
package estimator

import "hyperv2kvm/internal/model"

// TrimmableFilesystems is the fixed set of filesystem types fstrim is
// expected to succeed against (§4.5 step 5). NTFS and anything else count
// as zero free-space savings.
var TrimmableFilesystems = map[string]bool{
	"ext2": true,
	"ext3": true,
	"ext4": true,
	"xfs":  true,
}

// Estimate computes per-overlay estimated sizes in place (mutating each
// overlay's Stats.EstimatedSize) following §4.5 steps 1-7. When the total
// virtual size of all overlays is zero, estimation is a no-op: every
// estimate is left unset, matching the "src_total == 0 disables estimation
// without error" boundary case in §8.
func Estimate(mounts []model.MountpointStats, overlays []*model.Overlay) {
	var fsTotal, srcTotal float64
	for _, m := range mounts {
		fsTotal += float64(m.TotalBytes())
	}
	for _, ov := range overlays {
		srcTotal += float64(ov.VirtualSize)
	}

	if srcTotal == 0 {
		return
	}

	ratio := fsTotal / srcTotal

	var fsFree float64
	for _, m := range mounts {
		if TrimmableFilesystems[m.FSType] {
			fsFree += float64(m.FreeBytes())
		}
	}

	scaledSaving := int64(fsFree * ratio) // floor via truncation toward zero (fsFree, ratio >= 0)

	for _, ov := range overlays {
		p := float64(ov.VirtualSize) / srcTotal
		saving := int64(p * float64(scaledSaving))
		estimated := ov.VirtualSize - saving
		ov.Stats.EstimatedSize = &estimated
	}
}

// GuestFreeSpaceRequirement returns the minimum bfree*bsize bytes required
// for a mountpoint per §4.4: /boot needs 50 MiB; / needs 50 MiB unless
// there is no separate /boot and the guest isn't Windows (then 100 MiB);
// anything else needs 10 MiB.
func GuestFreeSpaceRequirement(mountPath string, hasSeparateBoot, isWindows bool) uint64 {
	const mib = 1 << 20
	switch mountPath {
	case "/boot":
		return 50 * mib
	case "/":
		if !hasSeparateBoot && !isWindows {
			return 100 * mib
		}
		return 50 * mib
	default:
		return 10 * mib
	}
}

// CheckGuestFreeSpace validates every mountpoint against
// GuestFreeSpaceRequirement and the ffree>=100 rule (when files>0) from
// §4.4. It returns the first violation found, or nil.
func CheckGuestFreeSpace(mounts []model.MountpointStats, isWindows bool) error {
	hasSeparateBoot := false
	for _, m := range mounts {
		if m.MountPath == "/boot" {
			hasSeparateBoot = true
			break
		}
	}

	for _, m := range mounts {
		required := GuestFreeSpaceRequirement(m.MountPath, hasSeparateBoot, isWindows)
		if free := m.FreeBytes(); free < required {
			return &insufficientSpaceError{mount: m.MountPath, free: free, required: required}
		}
		if m.Files > 0 && m.FilesFree < 100 {
			return &insufficientInodesError{mount: m.MountPath, free: m.FilesFree}
		}
	}
	return nil
}

type insufficientSpaceError struct {
	mount           string
	free, required  uint64
}

func (e *insufficientSpaceError) Error() string {
	return "mountpoint " + e.mount + " has insufficient free space for conversion"
}

type insufficientInodesError struct {
	mount string
	free  uint64
}

func (e *insufficientInodesError) Error() string {
	return "mountpoint " + e.mount + " has insufficient free inodes for conversion"
}
