// SPDX-License-Identifier: LGPL-3.0-or-later

// Package manifest defines the §4.10 create_metadata output contract: the
// record a conversion run leaves behind describing the source it read, the
// target hardware/firmware it planned, and the disk artifacts it produced.
// It is the on-disk counterpart of internal/model, grounded on the
// teacher's ArtifactManifest (the integration contract between its export
// and offline-fix/convert stages) but reshaped to describe one already
// finished in-process conversion rather than a pending remote export.
package manifest

import "time"

// CurrentVersion is the manifest schema version this package emits and
// validates. Bump it, and Validate's check, together.
const CurrentVersion = "1.0"

// Manifest is the top-level document written by a conversion run.
type Manifest struct {
	ManifestVersion string    `json:"manifest_version" yaml:"manifest_version"`
	Source          Source    `json:"source" yaml:"source"`
	VM              VM        `json:"vm" yaml:"vm"`
	Disks           []Disk    `json:"disks" yaml:"disks"`
	NICs            []NIC     `json:"nics,omitempty" yaml:"nics,omitempty"`
	Capabilities    Granted   `json:"granted_capabilities" yaml:"granted_capabilities"`
	Inspection      *Guest    `json:"inspection,omitempty" yaml:"inspection,omitempty"`
	Warnings        []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Notes           []string  `json:"notes,omitempty" yaml:"notes,omitempty"`
	Metadata        Metadata  `json:"metadata" yaml:"metadata"`
}

// Source records identifying information about the VM the conversion read.
type Source struct {
	Name         string `json:"name" yaml:"name"`
	OriginalName string `json:"original_name,omitempty" yaml:"original_name,omitempty"`
	Hypervisor   string `json:"hypervisor" yaml:"hypervisor"`
}

// VM records the hardware shape of the guest, as planned for the target.
type VM struct {
	VCPUs      int    `json:"vcpus" yaml:"vcpus"`
	MemoryKiB  int64  `json:"memory_kib" yaml:"memory_kib"`
	Firmware   string `json:"firmware" yaml:"firmware"` // "bios", "uefi", "unknown"
	OSHint     string `json:"os_hint,omitempty" yaml:"os_hint,omitempty"`
	Distro     string `json:"distro,omitempty" yaml:"distro,omitempty"`
}

// Disk describes one converted disk artifact.
type Disk struct {
	ID            string `json:"id" yaml:"id"`
	SourceFormat  string `json:"source_format,omitempty" yaml:"source_format,omitempty"`
	TargetFormat  string `json:"target_format" yaml:"target_format"`
	LocalPath     string `json:"local_path,omitempty" yaml:"local_path,omitempty"`
	URI           string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Bus           string `json:"bus" yaml:"bus"`
	VirtualBytes  int64  `json:"virtual_bytes" yaml:"virtual_bytes"`
	EstimatedBytes *int64 `json:"estimated_bytes,omitempty" yaml:"estimated_bytes,omitempty"`
	ActualBytes   *int64 `json:"actual_bytes,omitempty" yaml:"actual_bytes,omitempty"`
	BootOrderHint int    `json:"boot_order_hint" yaml:"boot_order_hint"`
}

// NIC describes one network interface carried over to the target.
type NIC struct {
	MACAddress string `json:"mac_address,omitempty" yaml:"mac_address,omitempty"`
	Network    string `json:"network,omitempty" yaml:"network,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Granted mirrors model.GrantedCapabilities for the on-disk record.
type Granted struct {
	BlockBus     string `json:"block_bus" yaml:"block_bus"`
	NetBus       string `json:"net_bus" yaml:"net_bus"`
	Video        string `json:"video" yaml:"video"`
}

// Guest is a trimmed summary of the appliance inspection (§4.4), kept for
// human review; it is not re-validated on load.
type Guest struct {
	Type              string   `json:"type,omitempty" yaml:"type,omitempty"`
	Distro            string   `json:"distro,omitempty" yaml:"distro,omitempty"`
	ProductName       string   `json:"product_name,omitempty" yaml:"product_name,omitempty"`
	Mountpoints       []string `json:"mountpoints,omitempty" yaml:"mountpoints,omitempty"`
	InstalledPackages int      `json:"installed_packages,omitempty" yaml:"installed_packages,omitempty"`
}

// Warning is one non-fatal condition observed during conversion (§4.1 through
// §4.10 all contribute to this list rather than aborting on soft problems).
type Warning struct {
	Stage     string    `json:"stage" yaml:"stage"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Metadata is run bookkeeping, not part of the VM description proper.
type Metadata struct {
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	Tool      string            `json:"tool" yaml:"tool"`
	Tags      map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}
