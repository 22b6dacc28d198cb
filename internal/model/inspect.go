// SPDX-License-Identifier: LGPL-3.0-or-later

package model

// InspectFirmware is the firmware kind the guest appliance determines by
// inspecting the mounted filesystem (§3, distinct from Source.Firmware
// which is only a hint from the input metadata).
type InspectFirmware struct {
	UEFI    bool
	Details string // e.g. the ESP mountpoint, when UEFI
}

// MountedFilesystem is one filesystem the appliance mounted inside the
// guest, with enough detail for the trim step (§4.6) to decide whether
// fstrim applies.
type MountedFilesystem struct {
	Device    string
	MountPath string
	FSType    string // "ext4", "xfs", "ntfs", "swap", "unknown", ...
}

// Inspect is the output of the guest inspector (§3, §4.4). The core treats
// it mostly as opaque data handed to the matched conversion module; only
// Firmware, Distro, and ProductName are read directly by the core.
type Inspect struct {
	Type        string // "linux", "windows", ...
	Distro      string // "rhel", "ubuntu", "windows", ...
	ProductName string
	Firmware    InspectFirmware

	Mounts []MountedFilesystem

	// InstalledPackages is a coarse summary the conversion modules use to
	// decide whether virtio drivers are already present; the core only
	// forwards it.
	InstalledPackages []string
}

// RequestedCapabilities is what the core asks the conversion module to try
// to install drivers for (§3). In copy mode every field is nil/zero
// (permissive); in in-place mode it is populated from the source's current
// configuration.
type RequestedCapabilities struct {
	BlockBus *ControllerKind
	NetBus   *string
	Video    *VideoAdapter
}

// GrantedCapabilities is always fully determined by the conversion module
// (§3); downstream stages (planner, manifest) consume it to pick device
// models.
type GrantedCapabilities struct {
	BlockBus ControllerKind
	NetBus   string
	Video    VideoAdapter
}

// TargetFileRef is either a plain path or an opaque output-adapter URI
// (§3 TargetDisk.file).
type TargetFileRef struct {
	Path string
	URI  string
}

func (t TargetFileRef) IsURI() bool { return t.URI != "" }

func (t TargetFileRef) String() string {
	if t.IsURI() {
		return t.URI
	}
	return t.Path
}

// TargetDisk is created per SourceDisk in copy mode (§3).
type TargetDisk struct {
	File    TargetFileRef
	Format  string // "raw" | "qcow2"
	Overlay *Overlay
}

// TargetBusAssignment maps each target disk (by overlay device name) and
// each removable device to a bus slot on the granted block bus (§4.7).
type TargetBusAssignment struct {
	Bus          ControllerKind
	DiskOrder    []string // overlay device names, in target attach order
	RemovableBus ControllerKind
}

// TargetFirmware is the resolved firmware for the target domain (§3, §4.7).
type TargetFirmware struct {
	UEFI    bool
	Details string
}
