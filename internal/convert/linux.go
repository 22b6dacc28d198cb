// SPDX-License-Identifier: LGPL-3.0-or-later

package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hyperv2kvm/internal/appliance"
	"hyperv2kvm/internal/model"
)

// linuxModule injects virtio drivers and rewrites network configuration
// directly in the mounted guest tree, adapted from the teacher's
// GuestConfig: the same NetworkInterface shape, but written into
// /etc/sysconfig/network-scripts instead of rendered as cloud-init
// user-data, since a v2v target boots straight into the converted disk
// rather than through a cloud provider's metadata service.
type linuxModule struct{}

func (m *linuxModule) Convert(ctx context.Context, a appliance.Appliance, insp *model.Inspect, disks []model.SourceDisk, output OutputView, requested model.RequestedCapabilities, staticIPs []string) (model.GrantedCapabilities, error) {
	root, err := a.RootPath()
	if err != nil {
		return model.GrantedCapabilities{}, err
	}

	if err := addVirtioModules(root); err != nil {
		return model.GrantedCapabilities{}, fmt.Errorf("inject virtio drivers: %w", err)
	}

	if err := rebuildInitramfs(ctx, root); err != nil {
		return model.GrantedCapabilities{}, fmt.Errorf("rebuild initramfs: %w", err)
	}

	for i, ip := range staticIPs {
		iface := fmt.Sprintf("eth%d", i)
		if err := writeStaticInterface(root, iface, ip); err != nil {
			return model.GrantedCapabilities{}, fmt.Errorf("write network config for %s: %w", iface, err)
		}
	}

	granted := model.GrantedCapabilities{
		BlockBus: model.ControllerVirtioBlk,
		NetBus:   "virtio",
		Video:    model.VideoVirtio,
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

// addVirtioModules ensures dracut includes the virtio family in the
// rebuilt initramfs; it writes a drop-in config rather than editing the
// distribution's own dracut.conf.
func addVirtioModules(root string) error {
	dir := filepath.Join(root, "etc/dracut.conf.d")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := `add_drivers+=" virtio virtio_pci virtio_blk virtio_scsi virtio_net virtio_console "` + "\n"
	return os.WriteFile(filepath.Join(dir, "10-hyperv2kvm-virtio.conf"), []byte(content), 0o644)
}

// rebuildInitramfs runs dracut inside the mounted tree via chroot, so the
// guest's own kernel version and module set are used.
func rebuildInitramfs(ctx context.Context, root string) error {
	kernels, err := filepath.Glob(filepath.Join(root, "lib/modules/*"))
	if err != nil || len(kernels) == 0 {
		return fmt.Errorf("no kernel module directories found under %s", root)
	}
	for _, dir := range kernels {
		version := filepath.Base(dir)
		if err := chrootRun(ctx, root, "dracut", "-f", "/boot/initramfs-"+version+".img", version); err != nil {
			return err
		}
	}
	return nil
}

func writeStaticInterface(root, iface, ip string) error {
	dir := filepath.Join(root, "etc/sysconfig/network-scripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DEVICE=%s\n", iface)
	fmt.Fprintf(&b, "BOOTPROTO=static\n")
	fmt.Fprintf(&b, "IPADDR=%s\n", ip)
	fmt.Fprintf(&b, "ONBOOT=yes\n")
	return os.WriteFile(filepath.Join(dir, "ifcfg-"+iface), []byte(b.String()), 0o644)
}
