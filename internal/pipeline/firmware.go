// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"hyperv2kvm/internal/adapters"
	"hyperv2kvm/internal/model"
)

// outputFirmwareView adapts an adapters.Output's set-of-supported-firmware
// shape (§6 supported_firmware()) onto the narrower SupportsUEFI/SupportsBIOS
// boolean shape internal/planner consults, so the planner package doesn't
// need to know the full output adapter contract.
type outputFirmwareView struct {
	out adapters.Output
}

func (v outputFirmwareView) SupportsUEFI() bool { return v.supports(model.FirmwareUEFI) }
func (v outputFirmwareView) SupportsBIOS() bool { return v.supports(model.FirmwareBIOS) }

func (v outputFirmwareView) supports(want model.FirmwareHint) bool {
	for _, fw := range v.out.SupportedFirmware() {
		if fw == want {
			return true
		}
	}
	return false
}

func (v outputFirmwareView) CheckTargetFirmware(fw model.TargetFirmware) error {
	return v.out.CheckTargetFirmware(fw)
}
