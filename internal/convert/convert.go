// SPDX-License-Identifier: LGPL-3.0-or-later

// Package convert selects and runs the per-guest-type conversion module
// that injects virtio drivers, bootloader, and network configuration into
// the mounted guest filesystem (§4.6). The registry pattern is grounded on
// the teacher's ConversionManager: a single entry point, a validated
// implementation looked up by key, errors surfaced rather than panicked.
package convert

import (
	"context"
	"fmt"

	"hyperv2kvm/internal/appliance"
	"hyperv2kvm/internal/model"
)

// OutputView is the read-only slice of the output adapter a conversion
// module is allowed to see (§4.6): enough to know what the target
// hypervisor can accept without letting guest-side code reach into target
// placement decisions, which stay the planner's job.
type OutputView interface {
	SupportedFirmware() []model.FirmwareHint
}

// Module mutates a mounted guest filesystem to prepare it for the target
// hypervisor and reports which capabilities it was actually able to grant.
type Module interface {
	Convert(ctx context.Context, a appliance.Appliance, insp *model.Inspect, disks []model.SourceDisk, output OutputView, requested model.RequestedCapabilities, staticIPs []string) (model.GrantedCapabilities, error)
}

// key identifies a module by exact (type, distro) match, as required by
// §4.6 ("select a conversion module by exact match... abort... when no
// module matches").
type key struct {
	osType, distro string
}

// Registry looks up a Module by the guest type and distro the appliance
// inspector reported.
type Registry struct {
	modules map[key]Module
}

// NewRegistry returns a Registry pre-populated with the built-in linux and
// windows modules.
func NewRegistry() *Registry {
	r := &Registry{modules: make(map[key]Module)}
	r.Register("linux", "rhel", &linuxModule{})
	r.Register("linux", "centos", &linuxModule{})
	r.Register("linux", "fedora", &linuxModule{})
	r.Register("linux", "ubuntu", &linuxModule{})
	r.Register("linux", "debian", &linuxModule{})
	r.Register("linux", "sles", &linuxModule{})
	r.Register("windows", "windows", &windowsModule{})
	return r
}

// Register adds or replaces the module for one (osType, distro) pair.
func (r *Registry) Register(osType, distro string, m Module) {
	r.modules[key{osType, distro}] = m
}

// Select returns the module matching insp's type and distro, or an error
// naming the guest type when none matches.
func (r *Registry) Select(insp *model.Inspect) (Module, error) {
	m, ok := r.modules[key{insp.Type, insp.Distro}]
	if !ok {
		return nil, fmt.Errorf("unable to convert this guest type: %s/%s", insp.Type, insp.Distro)
	}
	return m, nil
}
