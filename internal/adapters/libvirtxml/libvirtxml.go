// SPDX-License-Identifier: LGPL-3.0-or-later

// Package libvirtxml implements the §6 input adapter contract against an
// existing libvirt domain XML definition, the read-side counterpart of
// the XML generation internal/adapters/libvirtout does for the target.
package libvirtxml

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"

	"hyperv2kvm/internal/model"
)

// Adapter reads a domain's hardware description and disk set from a
// libvirt domain XML file (e.g. `virsh dumpxml <domain> > domain.xml`).
type Adapter struct {
	Path string
}

func New(path string) *Adapter { return &Adapter{Path: path} }

func (a *Adapter) AsOptions() string { return fmt.Sprintf("libvirtxml(%s)", a.Path) }

func (a *Adapter) Precheck(ctx context.Context) error {
	_, err := os.Stat(a.Path)
	if err != nil {
		return fmt.Errorf("stat domain xml %s: %w", a.Path, err)
	}
	return nil
}

type domain struct {
	XMLName xml.Name    `xml:"domain"`
	Type    string      `xml:"type,attr"`
	Name    string      `xml:"name"`
	Memory  domainUnit  `xml:"memory"`
	VCPU    int         `xml:"vcpu"`
	CPU     *domainCPU  `xml:"cpu"`
	OS      domainOS    `xml:"os"`
	Devices domainDevices `xml:"devices"`
}

type domainUnit struct {
	Unit  string `xml:"unit,attr"`
	Value uint64 `xml:",chardata"`
}

type domainCPU struct {
	Topology *domainTopology `xml:"topology"`
}

type domainTopology struct {
	Sockets int `xml:"sockets,attr"`
	Cores   int `xml:"cores,attr"`
	Threads int `xml:"threads,attr"`
}

type domainOS struct {
	Loader string `xml:"loader"`
}

type domainDevices struct {
	Disks      []domainDisk      `xml:"disk"`
	Interfaces []domainInterface `xml:"interface"`
	Video      []domainVideo     `xml:"video"`
}

type domainDisk struct {
	Device string `xml:"device,attr"`
	Driver struct {
		Type string `xml:"type,attr"`
	} `xml:"driver"`
	Source struct {
		File string `xml:"file,attr"`
		Dev  string `xml:"dev,attr"`
	} `xml:"source"`
	Target struct {
		Bus string `xml:"bus,attr"`
	} `xml:"target"`
}

type domainInterface struct {
	Source struct {
		Bridge  string `xml:"bridge,attr"`
		Network string `xml:"network,attr"`
	} `xml:"source"`
	MAC struct {
		Address string `xml:"address,attr"`
	} `xml:"mac"`
	Model struct {
		Type string `xml:"type,attr"`
	} `xml:"model"`
}

type domainVideo struct {
	Model struct {
		Type string `xml:"type,attr"`
	} `xml:"model"`
}

// Source parses the domain XML into a model.Source and its disk list.
// bandwidthLimitBps is unused: a locally readable disk path needs no
// transfer throttling.
func (a *Adapter) Source(ctx context.Context, bandwidthLimitBps int64) (*model.Source, []model.SourceDisk, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("read domain xml %s: %w", a.Path, err)
	}
	var dom domain
	if err := xml.Unmarshal(data, &dom); err != nil {
		return nil, nil, fmt.Errorf("parse domain xml %s: %w", a.Path, err)
	}

	// libvirt's default "memory" unit attribute is KiB; only an explicit
	// MiB unit needs conversion.
	memKiB := dom.Memory.Value
	if dom.Memory.Unit == "MiB" {
		memKiB *= 1024
	}

	src := model.Source{
		Name:       dom.Name,
		Hypervisor: model.HypervisorKVM,
		MemoryKiB:  memKiB,
		VCPUs:      uint(dom.VCPU),
		Video:      videoFromDomain(dom.Devices.Video),
		Firmware:   firmwareFromDomain(dom.OS.Loader),
	}
	if dom.CPU != nil && dom.CPU.Topology != nil {
		src.Topology = &model.CPUTopology{
			Sockets: dom.CPU.Topology.Sockets,
			Cores:   dom.CPU.Topology.Cores,
			Threads: dom.CPU.Topology.Threads,
		}
	}
	for _, iface := range dom.Devices.Interfaces {
		network := iface.Source.Bridge
		if network == "" {
			network = iface.Source.Network
		}
		src.NICs = append(src.NICs, model.NIC{
			MACAddress: iface.MAC.Address,
			Network:    network,
			Model:      iface.Model.Type,
		})
	}

	var disks []model.SourceDisk
	id := 0
	for _, d := range dom.Devices.Disks {
		if d.Device == "cdrom" {
			src.Removables = append(src.Removables, model.RemovableDevice{Kind: model.RemovableCDROM, Path: d.Source.File})
			continue
		}
		if d.Device == "floppy" {
			src.Removables = append(src.Removables, model.RemovableDevice{Kind: model.RemovableFloppy, Path: d.Source.File})
			continue
		}
		path := d.Source.File
		if path == "" {
			path = d.Source.Dev
		}
		if path == "" {
			continue
		}
		disks = append(disks, model.SourceDisk{
			ID:             id,
			URI:            "file://" + path,
			DeclaredFormat: d.Driver.Type,
			Controller:     controllerFromBus(d.Target.Bus),
		})
		id++
	}

	return &src, disks, nil
}

func videoFromDomain(videos []domainVideo) model.VideoAdapter {
	if len(videos) == 0 {
		return model.VideoNone
	}
	switch videos[0].Model.Type {
	case "virtio":
		return model.VideoVirtio
	case "qxl":
		return model.VideoQXL
	case "vmvga":
		return model.VideoVMVGA
	default:
		return model.VideoStandard
	}
}

func firmwareFromDomain(loader string) model.FirmwareHint {
	if loader != "" {
		return model.FirmwareUEFI
	}
	return model.FirmwareBIOS
}

func controllerFromBus(bus string) model.ControllerKind {
	switch bus {
	case "ide":
		return model.ControllerIDE
	case "sata":
		return model.ControllerSATA
	case "virtio":
		return model.ControllerVirtioBlk
	case "scsi":
		return model.ControllerVirtioSCSI
	default:
		return model.OtherController(bus)
	}
}
