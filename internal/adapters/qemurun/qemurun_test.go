// SPDX-License-Identifier: LGPL-3.0-or-later

package qemurun

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hyperv2kvm/internal/model"
)

func TestQemuBusName(t *testing.T) {
	assert.Equal(t, "virtio", qemuBusName("virtio-blk"))
	assert.Equal(t, "none", qemuBusName("virtio-scsi"))
	assert.Equal(t, "ide", qemuBusName("ide"))
	assert.Equal(t, "ide", qemuBusName("unknown"))
}

func TestBuildLaunchScript_UsesSourceMemoryWhenUnset(t *testing.T) {
	a := New(Config{RunDir: "/run", QemuBin: "qemu-system-x86_64"})
	a.diskPaths = []string{"/run/vm-sda.qcow2"}
	src := &model.Source{MemoryKiB: 2 * 1024 * 1024, VCPUs: 2}
	caps := model.GrantedCapabilities{BlockBus: model.ControllerVirtioBlk, NetBus: "virtio", Video: model.VideoVirtio}

	script := a.buildLaunchScript(src, nil, caps, model.TargetFirmware{UEFI: false})

	assert.Contains(t, script, "-m 2048")
	assert.Contains(t, script, "-smp 2")
	assert.Contains(t, script, "/run/vm-sda.qcow2")
	assert.NotContains(t, script, "-bios")
}

func TestBuildLaunchScript_OverridesMemoryAndAddsUEFIBios(t *testing.T) {
	a := New(Config{RunDir: "/run", MemoryMB: 4096})
	src := &model.Source{MemoryKiB: 1024 * 1024, VCPUs: 1}

	script := a.buildLaunchScript(src, nil, model.GrantedCapabilities{}, model.TargetFirmware{UEFI: true})

	assert.Contains(t, script, "-m 4096")
	assert.Contains(t, script, "-bios /usr/share/OVMF/OVMF_CODE.fd")
}
