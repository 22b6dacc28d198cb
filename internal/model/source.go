// SPDX-License-Identifier: LGPL-3.0-or-later

// Package model holds the in-process data model the conversion pipeline
// reasons about: the immutable Source/SourceDisk pair read from the input
// adapter, the mutable Overlay wrappers created around them, the Inspect
// record produced by the guest appliance, and the capability/target types
// threaded through the back half of the pipeline. This is distinct from
// internal/manifest, which is the wire shape the pipeline *emits*.
package model

// HypervisorTag identifies the source hypervisor family. The zero value is
// never valid; use Other for anything not explicitly named.
type HypervisorTag struct {
	known string
	other string
}

var (
	HypervisorVMware   = HypervisorTag{known: "vmware"}
	HypervisorHyperV   = HypervisorTag{known: "hyperv"}
	HypervisorKVM      = HypervisorTag{known: "kvm"}
	HypervisorXen      = HypervisorTag{known: "xen"}
	HypervisorPhysical = HypervisorTag{known: "physical"}
)

// OtherHypervisor builds the Other(string) variant for an unrecognized tag.
func OtherHypervisor(name string) HypervisorTag { return HypervisorTag{other: name} }

func (h HypervisorTag) String() string {
	if h.known != "" {
		return h.known
	}
	if h.other != "" {
		return "other:" + h.other
	}
	return "unknown"
}

// IsOther reports whether this is the catch-all Other(string) variant,
// which open_source (§4.1) warns about but never rejects.
func (h HypervisorTag) IsOther() bool { return h.known == "" && h.other != "" }

// VideoAdapter identifies the source's video device.
type VideoAdapter struct {
	known string
	other string
}

var (
	VideoNone     = VideoAdapter{known: "none"}
	VideoStandard = VideoAdapter{known: "standard"}
	VideoVMVGA    = VideoAdapter{known: "vmvga"}
	VideoQXL      = VideoAdapter{known: "qxl"}
	VideoVirtio   = VideoAdapter{known: "virtio"}
)

func OtherVideo(name string) VideoAdapter { return VideoAdapter{other: name} }

func (v VideoAdapter) String() string {
	if v.known != "" {
		return v.known
	}
	return "other:" + v.other
}

// FirmwareHint is the source's declared firmware, possibly unknown until
// the inspector determines it (§4.7).
type FirmwareHint int

const (
	FirmwareUnknown FirmwareHint = iota
	FirmwareBIOS
	FirmwareUEFI
)

func (f FirmwareHint) String() string {
	switch f {
	case FirmwareBIOS:
		return "bios"
	case FirmwareUEFI:
		return "uefi"
	default:
		return "unknown"
	}
}

// CPUTopology is the optional {sockets, cores, threads} triple. When
// present, NewSource checks sockets*cores*threads == vcpu count and
// warns (never fails) on mismatch.
type CPUTopology struct {
	Sockets int
	Cores   int
	Threads int
}

// NIC describes one source network interface.
type NIC struct {
	MACAddress string
	Network    string // source-side network/portgroup/bridge name
	Model      string
}

// RemovableKind distinguishes optical/floppy removable devices that still
// need a bus slot on the target even though they carry no SourceDisk.
type RemovableKind int

const (
	RemovableCDROM RemovableKind = iota
	RemovableFloppy
)

type RemovableDevice struct {
	Kind RemovableKind
	Path string // host path of inserted media, if any
}

// Source is the immutable record describing the guest as read from input
// metadata (§3). Construct via NewSource, which enforces the name/memory/
// vcpu/topology invariants and returns warnings rather than failing on the
// non-fatal ones.
type Source struct {
	Name         string
	OriginalName string // optional

	Hypervisor HypervisorTag
	MemoryKiB  uint64
	VCPUs      uint

	Topology *CPUTopology // optional

	CPUVendor string // optional
	CPUModel  string // optional

	NICs       []NIC
	Removables []RemovableDevice
	Video      VideoAdapter
	Firmware   FirmwareHint
}

// NewSource validates the mandatory invariants from §3 (name non-empty,
// memory > 0, vcpu >= 1) and returns any non-fatal warnings (unknown
// hypervisor tag, topology/vcpu mismatch) alongside the constructed Source.
func NewSource(s Source) (*Source, []string, error) {
	if s.Name == "" {
		return nil, nil, errf("source name must not be empty")
	}
	if s.MemoryKiB == 0 {
		return nil, nil, errf("source memory must be positive")
	}
	if s.VCPUs == 0 {
		return nil, nil, errf("source vcpu count must be at least 1")
	}
	if s.Topology != nil {
		t := s.Topology
		if t.Sockets < 1 || t.Cores < 1 || t.Threads < 1 {
			return nil, nil, errf("source topology fields must each be >= 1")
		}
	}

	var warnings []string
	if s.Hypervisor.IsOther() {
		warnings = append(warnings, "unrecognized hypervisor tag: "+s.Hypervisor.String())
	}
	if s.Topology != nil {
		product := uint(s.Topology.Sockets * s.Topology.Cores * s.Topology.Threads)
		if product != s.VCPUs {
			warnings = append(warnings, "cpu topology sockets*cores*threads does not match vcpu count")
		}
	}

	out := s
	return &out, warnings, nil
}

// ControllerKind identifies the source-side disk controller, used by the
// target layout planner to decide whether a bus remap is needed.
type ControllerKind struct {
	known string
	other string
}

var (
	ControllerIDE        = ControllerKind{known: "ide"}
	ControllerSATA       = ControllerKind{known: "sata"}
	ControllerVirtioBlk  = ControllerKind{known: "virtio-blk"}
	ControllerVirtioSCSI = ControllerKind{known: "virtio-scsi"}
)

func OtherController(name string) ControllerKind { return ControllerKind{other: name} }

func (c ControllerKind) String() string {
	if c.known != "" {
		return c.known
	}
	return "other:" + c.other
}

// SourceDisk is the immutable per-disk record (§3). ID must be unique
// across the source's disk list; URI must be openable by the image
// conversion tool.
type SourceDisk struct {
	ID              int
	URI             string // opaque QEMU-compatible URI
	DeclaredFormat  string // optional, e.g. "vmdk", "raw"
	Controller      ControllerKind
}

func errf(msg string) error { return &validationError{msg: msg} }

type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }
