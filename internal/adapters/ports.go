// SPDX-License-Identifier: LGPL-3.0-or-later

// Package adapters defines the §6 input/output adapter contracts as plain
// Go interfaces — tagged variants over a fixed, closed capability set
// (§9 "Adapter polymorphism"), not an inheritance hierarchy — plus the
// concrete adapters under its subpackages.
package adapters

import (
	"context"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/model"
)

// Input produces the source model and disk list for one VM (§6 input
// adapter contract).
type Input interface {
	Precheck(ctx context.Context) error
	AsOptions() string
	Source(ctx context.Context, bandwidthLimitBps int64) (*model.Source, []model.SourceDisk, error)
}

// Output places converted disks and emits the final metadata (§6 output
// adapter contract). It also satisfies copyengine.Sink.
type Output interface {
	Precheck(ctx context.Context) error
	AsOptions() string
	SupportedFirmware() []model.FirmwareHint
	CheckTargetFirmware(fw model.TargetFirmware) error
	OverrideOutputFormat(ov *model.Overlay) (string, bool)
	PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error)

	copyengine.Sink

	CreateMetadata(ctx context.Context, source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, insp *model.Inspect, fw model.TargetFirmware) error
}
