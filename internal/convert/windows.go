// SPDX-License-Identifier: LGPL-3.0-or-later

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"hyperv2kvm/internal/appliance"
	"hyperv2kvm/internal/model"
)

// windowsModule writes a pnputil driver-install script into the guest
// (see stageVirtioDrivers) instead of editing the SYSTEM/SOFTWARE hives,
// which needs a registry codec this codebase doesn't carry.
type windowsModule struct{}

func (m *windowsModule) Convert(ctx context.Context, a appliance.Appliance, insp *model.Inspect, disks []model.SourceDisk, output OutputView, requested model.RequestedCapabilities, staticIPs []string) (model.GrantedCapabilities, error) {
	root, err := a.RootPath()
	if err != nil {
		return model.GrantedCapabilities{}, err
	}

	if err := stageVirtioDrivers(root); err != nil {
		return model.GrantedCapabilities{}, fmt.Errorf("stage virtio drivers: %w", err)
	}

	granted := model.GrantedCapabilities{
		BlockBus: model.ControllerIDE,
		NetBus:   "e1000",
		Video:    model.VideoStandard,
	}
	if requested.BlockBus != nil {
		granted.BlockBus = *requested.BlockBus
	}
	if requested.NetBus != nil {
		granted.NetBus = *requested.NetBus
	}
	if requested.Video != nil {
		granted.Video = *requested.Video
	}
	return granted, nil
}

// stageVirtioDrivers writes ProgramData\hyperv2kvm\install-virtio.cmd, a
// one-line script that runs pnputil on every .inf under
// ProgramData\hyperv2kvm\virtio. It copies no driver files into that
// folder and does not register the script to run at boot.
func stageVirtioDrivers(root string) error {
	dir := filepath.Join(root, "ProgramData", "hyperv2kvm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "install-virtio.cmd"),
		[]byte("pnputil /add-driver C:\\ProgramData\\hyperv2kvm\\virtio\\*.inf /install\r\n"), 0o644)
}
