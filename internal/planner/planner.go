// SPDX-License-Identifier: LGPL-3.0-or-later

// Package planner implements the §4.7 target layout decisions: mapping
// source disks and removable devices onto the granted block bus, and
// resolving which firmware the target domain boots with.
package planner

import (
	"fmt"

	"hyperv2kvm/internal/model"
)

// FirmwareView is the read-only slice of the output adapter the firmware
// resolver consults: which firmware kinds it can emit, and a last chance
// to reject the resolved choice for adapter-specific reasons.
type FirmwareView interface {
	SupportsUEFI() bool
	SupportsBIOS() bool
	CheckTargetFirmware(model.TargetFirmware) error
}

// AssignBuses maps each overlay (in its existing device-name order) and
// every removable device onto bus slots. Removables always land on an IDE
// controller regardless of the granted block bus: CD-ROM emulation over
// virtio-scsi or virtio-blk is not something every target hypervisor
// supports, while IDE CD-ROM emulation is universal.
func AssignBuses(overlays []*model.Overlay, removables []model.RemovableDevice, grantedBus model.ControllerKind) model.TargetBusAssignment {
	order := make([]string, 0, len(overlays))
	for _, ov := range overlays {
		order = append(order, ov.DeviceName)
	}
	return model.TargetBusAssignment{
		Bus:          grantedBus,
		DiskOrder:    order,
		RemovableBus: model.ControllerIDE,
	}
}

// ResolveFirmware takes the source's firmware hint, falling back to the
// appliance inspector's determination when the hint is Unknown, then
// validates the result against the output adapter's supported set and
// gives the adapter a final veto via CheckTargetFirmware. A UEFI result
// produces an informational (non-fatal) note for the caller to log or
// record as a manifest warning.
func ResolveFirmware(hint model.FirmwareHint, inspected model.InspectFirmware, output FirmwareView) (model.TargetFirmware, string, error) {
	var target model.TargetFirmware
	switch hint {
	case model.FirmwareUEFI:
		target = model.TargetFirmware{UEFI: true}
	case model.FirmwareBIOS:
		target = model.TargetFirmware{UEFI: false}
	default:
		target = model.TargetFirmware{UEFI: inspected.UEFI, Details: inspected.Details}
	}

	if target.UEFI && !output.SupportsUEFI() {
		return model.TargetFirmware{}, "", fmt.Errorf("output adapter does not support UEFI firmware")
	}
	if !target.UEFI && !output.SupportsBIOS() {
		return model.TargetFirmware{}, "", fmt.Errorf("output adapter does not support BIOS firmware")
	}

	if err := output.CheckTargetFirmware(target); err != nil {
		return model.TargetFirmware{}, "", fmt.Errorf("output adapter rejected target firmware: %w", err)
	}

	var note string
	if target.UEFI {
		note = "target firmware is UEFI"
	}
	return target, note, nil
}
