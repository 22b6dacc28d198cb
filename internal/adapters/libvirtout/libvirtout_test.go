// SPDX-License-Identifier: LGPL-3.0-or-later

package libvirtout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/model"
)

func TestSanitizeDomainName(t *testing.T) {
	assert.Equal(t, "my_guest_01", sanitizeDomainName("my guest#01"))
	assert.Equal(t, "hyperv2kvm-vm", sanitizeDomainName(""))
	assert.Equal(t, "already-valid.name", sanitizeDomainName("already-valid.name"))
}

func TestRenderDomainXML_IncludesDisksNICsAndUEFI(t *testing.T) {
	a := &Adapter{cfg: Config{NetworkBridge: "br0"}, domainName: "test-guest"}
	src := &model.Source{
		MemoryKiB: 4 * 1024 * 1024,
		VCPUs:     2,
		NICs:      []model.NIC{{MACAddress: "52:54:00:aa:bb:cc"}},
	}
	targets := []model.TargetDisk{
		{File: model.TargetFileRef{Path: "/pool/test-guest-vda.qcow2"}, Format: "qcow2"},
		{File: model.TargetFileRef{Path: "/pool/test-guest-vdb.qcow2"}, Format: "qcow2"},
	}
	buses := model.TargetBusAssignment{Bus: model.ControllerVirtioBlk}
	caps := model.GrantedCapabilities{NetBus: "virtio", Video: model.VideoVirtio}
	fw := model.TargetFirmware{UEFI: true}

	xmlStr, err := a.renderDomainXML(src, targets, buses, caps, fw)
	require.NoError(t, err)

	assert.Contains(t, xmlStr, "<name>test-guest</name>")
	assert.Contains(t, xmlStr, "memory unit='KiB'>4194304")
	assert.Contains(t, xmlStr, "<loader readonly='yes' type='pflash'>/usr/share/OVMF/OVMF_CODE.fd</loader>")
	assert.Contains(t, xmlStr, "<smm state='on'/>")
	assert.Contains(t, xmlStr, "source file='/pool/test-guest-vda.qcow2'")
	assert.Contains(t, xmlStr, "source file='/pool/test-guest-vdb.qcow2'")
	assert.Contains(t, xmlStr, "target dev='vda' bus='virtio-blk'")
	assert.Contains(t, xmlStr, "target dev='vdb' bus='virtio-blk'")
	assert.Contains(t, xmlStr, "mac address='52:54:00:aa:bb:cc'")
	assert.Contains(t, xmlStr, "source bridge='br0'")
}

func TestRenderDomainXML_BIOSOmitsLoaderAndSMM(t *testing.T) {
	a := &Adapter{cfg: Config{}, domainName: "bios-guest"}
	src := &model.Source{MemoryKiB: 1024 * 1024, VCPUs: 1}
	caps := model.GrantedCapabilities{NetBus: "e1000"}
	fw := model.TargetFirmware{UEFI: false}

	xmlStr, err := a.renderDomainXML(src, nil, model.TargetBusAssignment{Bus: model.ControllerIDE}, caps, fw)
	require.NoError(t, err)

	assert.NotContains(t, xmlStr, "loader")
	assert.NotContains(t, xmlStr, "<smm")
}
