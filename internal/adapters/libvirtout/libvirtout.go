// SPDX-License-Identifier: LGPL-3.0-or-later

// Package libvirtout implements the §6 output adapter contract by writing
// converted disks to local storage and defining a libvirt domain for
// them via virsh, the write-side counterpart of internal/adapters/libvirtxml.
package libvirtout

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"text/template"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/model"
)

// Config selects the storage pool directory and network bridge for the
// generated domain.
type Config struct {
	StoragePoolDir string
	NetworkBridge  string
	Autostart      bool
	VirshBin       string // default "virsh"
}

// Adapter places converted disks under a local storage pool directory
// and defines a libvirt domain for them.
type Adapter struct {
	cfg Config

	domainName string
}

func New(cfg Config) *Adapter {
	if cfg.VirshBin == "" {
		cfg.VirshBin = "virsh"
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) AsOptions() string { return fmt.Sprintf("libvirtout(%s)", a.cfg.StoragePoolDir) }

func (a *Adapter) Precheck(ctx context.Context) error {
	if _, err := exec.LookPath(a.cfg.VirshBin); err != nil {
		return fmt.Errorf("libvirtout: %s not found on PATH: %w", a.cfg.VirshBin, err)
	}
	return os.MkdirAll(a.cfg.StoragePoolDir, 0o755)
}

func (a *Adapter) SupportedFirmware() []model.FirmwareHint {
	return []model.FirmwareHint{model.FirmwareBIOS, model.FirmwareUEFI}
}

func (a *Adapter) CheckTargetFirmware(model.TargetFirmware) error { return nil }

func (a *Adapter) OverrideOutputFormat(ov *model.Overlay) (string, bool) { return "", false }

// PrepareTargets assigns one local file path per overlay under the
// storage pool directory, named after the sanitized VM name and device.
func (a *Adapter) PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error) {
	a.domainName = sanitizeDomainName(name)
	refs := make([]model.TargetFileRef, len(overlays))
	for i, ov := range overlays {
		ext := formats[ov.DeviceName]
		path := filepath.Join(a.cfg.StoragePoolDir, fmt.Sprintf("%s-%s.%s", a.domainName, ov.DeviceName, ext))
		refs[i] = model.TargetFileRef{Path: path}
	}
	return refs, nil
}

func (a *Adapter) CreateDestination(ctx context.Context, target model.TargetDisk, opts copyengine.CreateOptions) error {
	args := []string{"create", "-f", target.Format}
	if opts.Preallocation != "" {
		args = append(args, "-o", "preallocation="+string(opts.Preallocation))
	}
	args = append(args, target.File.Path, fmt.Sprintf("%d", opts.SizeBytes))
	cmd := exec.CommandContext(ctx, "qemu-img", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("qemu-img create %s: %w: %s", target.File.Path, err, stderr.String())
	}
	return nil
}

func (a *Adapter) TransferFormat(target model.TargetDisk) string { return target.Format }

func (a *Adapter) DiskCopied(ctx context.Context, target model.TargetDisk, index, total int) error {
	return nil
}

// CreateMetadata writes the manifest next to the disks and defines (and
// optionally autostarts) the domain via virsh, grounded on the
// teacher's generateLibvirtXML template, generalized to N disks and the
// negotiated bus/firmware instead of a single hardcoded virtio disk.
func (a *Adapter) CreateMetadata(ctx context.Context, source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, insp *model.Inspect, fw model.TargetFirmware) error {
	xmlPath := filepath.Join(a.cfg.StoragePoolDir, a.domainName+".xml")
	domXML, err := a.renderDomainXML(source, targets, buses, caps, fw)
	if err != nil {
		return err
	}
	if err := os.WriteFile(xmlPath, []byte(domXML), 0o644); err != nil {
		return fmt.Errorf("write domain xml %s: %w", xmlPath, err)
	}

	if err := exec.CommandContext(ctx, a.cfg.VirshBin, "define", xmlPath).Run(); err != nil {
		return fmt.Errorf("virsh define %s: %w", xmlPath, err)
	}
	if a.cfg.Autostart {
		if err := exec.CommandContext(ctx, a.cfg.VirshBin, "autostart", a.domainName).Run(); err != nil {
			return fmt.Errorf("virsh autostart %s: %w", a.domainName, err)
		}
	}

	firmwareHint := model.FirmwareBIOS
	if fw.UEFI {
		firmwareHint = model.FirmwareUEFI
	}
	b := manifest.NewBuilder("hyperv2kvm").
		WithSource(source).
		WithVM(source, firmwareHint, insp.Type, insp.Distro).
		WithCapabilities(caps).
		WithInspection(insp)
	for i, t := range targets {
		d := manifest.Disk{TargetFormat: t.Format, LocalPath: t.File.Path, Bus: buses.Bus.String(), BootOrderHint: i}
		if t.Overlay != nil {
			d.ID, d.VirtualBytes = t.Overlay.DeviceName, t.Overlay.VirtualSize
		}
		b.AddDisk(d)
	}
	mf, err := b.Build()
	// The domain is already defined at this point, so a manifest that
	// fails to build or write is not reported as an error.
	if err == nil {
		mf.Notes = append(mf.Notes, "libvirt domain defined: "+a.domainName)
		_ = manifest.WriteToFile(mf, filepath.Join(a.cfg.StoragePoolDir, a.domainName+".manifest.json"))
	}
	return nil
}

var domainNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeDomainName(name string) string {
	if name == "" {
		name = "hyperv2kvm-vm"
	}
	return domainNameInvalid.ReplaceAllString(name, "_")
}

var domainXMLTemplate = template.Must(template.New("domain").Parse(`<domain type='kvm'>
  <name>{{.Name}}</name>
  <memory unit='KiB'>{{.MemoryKiB}}</memory>
  <currentMemory unit='KiB'>{{.MemoryKiB}}</currentMemory>
  <vcpu placement='static'>{{.VCPUs}}</vcpu>
  <os>{{if .UEFI}}
    <type arch='x86_64' machine='q35'>hvm</type>
    <loader readonly='yes' type='pflash'>/usr/share/OVMF/OVMF_CODE.fd</loader>{{else}}
    <type arch='x86_64' machine='pc'>hvm</type>{{end}}
    <boot dev='hd'/>
  </os>
  <features>
    <acpi/>
    <apic/>{{if .UEFI}}
    <smm state='on'/>{{end}}
  </features>
  <cpu mode='host-passthrough' check='none' migratable='on'/>
  <on_poweroff>destroy</on_poweroff>
  <on_reboot>restart</on_reboot>
  <on_crash>destroy</on_crash>
  <devices>
    <emulator>/usr/bin/qemu-system-x86_64</emulator>
{{range .Disks}}    <disk type='file' device='disk'>
      <driver name='qemu' type='{{.Format}}'/>
      <source file='{{.Path}}'/>
      <target dev='{{.Device}}' bus='{{$.Bus}}'/>
    </disk>
{{end}}{{range .NICs}}    <interface type='bridge'>
      <source bridge='{{$.NetworkBridge}}'/>{{if .MAC}}
      <mac address='{{.MAC}}'/>{{end}}
      <model type='{{$.NetBus}}'/>
    </interface>
{{end}}    <video>
      <model type='{{.VideoModel}}'/>
    </video>
    <graphics type='vnc' port='-1' autoport='yes' listen='127.0.0.1'/>
  </devices>
</domain>
`))

type templateDisk struct {
	Path, Format, Device string
}

type templateNIC struct{ MAC string }

func (a *Adapter) renderDomainXML(source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, fw model.TargetFirmware) (string, error) {
	disks := make([]templateDisk, len(targets))
	for i, t := range targets {
		device := "vd" + string(rune('a'+i))
		disks[i] = templateDisk{Path: t.File.Path, Format: t.Format, Device: device}
	}
	nics := make([]templateNIC, len(source.NICs))
	for i, n := range source.NICs {
		nics[i] = templateNIC{MAC: n.MACAddress}
	}

	data := struct {
		Name          string
		MemoryKiB     uint64
		VCPUs         uint
		UEFI          bool
		Disks         []templateDisk
		NICs          []templateNIC
		Bus           string
		NetBus        string
		VideoModel    string
		NetworkBridge string
	}{
		Name:          a.domainName,
		MemoryKiB:     source.MemoryKiB,
		VCPUs:         source.VCPUs,
		UEFI:          fw.UEFI,
		Disks:         disks,
		NICs:          nics,
		Bus:           buses.Bus.String(),
		NetBus:        caps.NetBus,
		VideoModel:    caps.Video.String(),
		NetworkBridge: a.cfg.NetworkBridge,
	}

	var buf bytes.Buffer
	if err := domainXMLTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render domain xml: %w", err)
	}
	return buf.String(), nil
}
