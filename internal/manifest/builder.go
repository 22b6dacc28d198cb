// SPDX-License-Identifier: LGPL-3.0-or-later

package manifest

import (
	"fmt"
	"regexp"
	"time"

	"hyperv2kvm/internal/model"
)

// ValidDiskIDPattern mirrors the teacher's disk-ID validation: disk IDs must
// be filesystem- and shell-safe, since they end up in generated libvirt XML
// and output filenames.
var ValidDiskIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Builder provides a fluent API for assembling a Manifest across a
// conversion run, in the style of the teacher's manifest.Builder: errors
// accumulate rather than panicking mid-build, and are surfaced by Build.
type Builder struct {
	m      *Manifest
	errors []error
}

// NewBuilder starts a manifest for the given tool/version string.
func NewBuilder(tool string) *Builder {
	return &Builder{
		m: &Manifest{
			ManifestVersion: CurrentVersion,
			Metadata: Metadata{
				CreatedAt: time.Now(),
				Tool:      tool,
				Tags:      make(map[string]string),
			},
		},
	}
}

// WithSource records the source VM's identity and hypervisor.
func (b *Builder) WithSource(src *model.Source) *Builder {
	b.m.Source = Source{
		Name:         src.Name,
		OriginalName: src.OriginalName,
		Hypervisor:   src.Hypervisor.String(),
	}
	return b
}

// WithVM records the planned target hardware shape.
func (b *Builder) WithVM(src *model.Source, firmware model.FirmwareHint, osHint, distro string) *Builder {
	b.m.VM = VM{
		VCPUs:     int(src.VCPUs),
		MemoryKiB: int64(src.MemoryKiB),
		Firmware:  firmware.String(),
		OSHint:    osHint,
		Distro:    distro,
	}
	return b
}

// WithCapabilities records the negotiated target capabilities (§4.7).
func (b *Builder) WithCapabilities(g model.GrantedCapabilities) *Builder {
	b.m.Capabilities = Granted{
		BlockBus: g.BlockBus.String(),
		NetBus:   g.NetBus,
		Video:    g.Video.String(),
	}
	return b
}

// WithInspection attaches a trimmed guest inspection summary.
func (b *Builder) WithInspection(insp *model.Inspect) *Builder {
	if insp == nil {
		return b
	}
	mounts := make([]string, 0, len(insp.Mounts))
	for _, mnt := range insp.Mounts {
		mounts = append(mounts, mnt.MountPath)
	}
	b.m.Inspection = &Guest{
		Type:              insp.Type,
		Distro:            insp.Distro,
		ProductName:       insp.ProductName,
		Mountpoints:       mounts,
		InstalledPackages: len(insp.InstalledPackages),
	}
	return b
}

// AddDisk appends one disk artifact, validating its ID and rejecting
// duplicates the same way the teacher's AddDisk does.
func (b *Builder) AddDisk(d Disk) *Builder {
	if !ValidDiskIDPattern.MatchString(d.ID) {
		b.errors = append(b.errors, fmt.Errorf("invalid disk id %q: must match %s", d.ID, ValidDiskIDPattern.String()))
		return b
	}
	for _, existing := range b.m.Disks {
		if existing.ID == d.ID {
			b.errors = append(b.errors, fmt.Errorf("duplicate disk id %q", d.ID))
			return b
		}
	}
	b.m.Disks = append(b.m.Disks, d)
	return b
}

// AddNIC appends one network interface record.
func (b *Builder) AddNIC(n NIC) *Builder {
	b.m.NICs = append(b.m.NICs, n)
	return b
}

// AddWarning records one non-fatal condition observed during the run.
func (b *Builder) AddWarning(stage, message string) *Builder {
	b.m.Warnings = append(b.m.Warnings, Warning{
		Stage:     stage,
		Message:   message,
		Timestamp: time.Now(),
	})
	return b
}

// AddNote attaches a free-form human-readable note.
func (b *Builder) AddNote(note string) *Builder {
	b.m.Notes = append(b.m.Notes, note)
	return b
}

// Tag sets one run metadata tag.
func (b *Builder) Tag(key, value string) *Builder {
	b.m.Metadata.Tags[key] = value
	return b
}

// Build finalizes the manifest, running Validate and returning any
// accumulated builder errors alongside it.
func (b *Builder) Build() (*Manifest, error) {
	if len(b.errors) > 0 {
		return nil, fmt.Errorf("manifest builder: %w", b.errors[0])
	}
	if err := Validate(b.m); err != nil {
		return nil, err
	}
	return b.m, nil
}
