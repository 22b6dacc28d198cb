// SPDX-License-Identifier: LGPL-3.0-or-later

package manifest

import "fmt"

// Validate checks a Manifest against the current schema, mirroring the
// teacher's manifest.Validate: disks are required, IDs must be unique and
// well-formed, and every enumerated field must be one of its known values.
func Validate(m *Manifest) error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if m.ManifestVersion != CurrentVersion {
		return fmt.Errorf("unsupported manifest version %q: expected %q", m.ManifestVersion, CurrentVersion)
	}
	if len(m.Disks) == 0 {
		return fmt.Errorf("manifest must have at least one disk")
	}

	seen := make(map[string]bool, len(m.Disks))
	for i, d := range m.Disks {
		if d.ID == "" {
			return fmt.Errorf("disks[%d].id is required", i)
		}
		if !ValidDiskIDPattern.MatchString(d.ID) {
			return fmt.Errorf("disks[%d].id %q must match %s", i, d.ID, ValidDiskIDPattern.String())
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate disk id %q", d.ID)
		}
		seen[d.ID] = true

		if d.TargetFormat != "raw" && d.TargetFormat != "qcow2" {
			return fmt.Errorf("disks[%d].target_format %q must be raw or qcow2", i, d.TargetFormat)
		}
		if d.VirtualBytes < 0 {
			return fmt.Errorf("disks[%d].virtual_bytes must be non-negative", i)
		}
		if d.BootOrderHint < 0 {
			return fmt.Errorf("disks[%d].boot_order_hint must be non-negative", i)
		}
	}

	switch m.VM.Firmware {
	case "bios", "uefi", "unknown", "":
	default:
		return fmt.Errorf("vm.firmware %q must be one of: bios, uefi, unknown", m.VM.Firmware)
	}
	if m.VM.VCPUs < 0 {
		return fmt.Errorf("vm.vcpus must be non-negative")
	}
	if m.VM.MemoryKiB < 0 {
		return fmt.Errorf("vm.memory_kib must be non-negative")
	}

	return nil
}
