// SPDX-License-Identifier: LGPL-3.0-or-later

// Package vsphere implements the §6 input adapter contract against a live
// vCenter/ESXi endpoint via govmomi: connect, locate the named VM, and
// translate its hardware config and virtual disks into the core model.
package vsphere

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"

	"hyperv2kvm/internal/logger"
	"hyperv2kvm/internal/model"
)

// Config holds the connection settings for one vCenter/ESXi endpoint.
type Config struct {
	URL      string // e.g. https://vcenter.example.com/sdk
	Username string
	Password string
	Insecure bool
	VMName   string
}

// Adapter reads one VM's metadata and disk set from vSphere.
type Adapter struct {
	cfg Config
	log logger.Logger

	client *govmomi.Client
	finder *find.Finder
}

func New(cfg Config, log logger.Logger) *Adapter {
	return &Adapter{cfg: cfg, log: log}
}

func (a *Adapter) AsOptions() string {
	return fmt.Sprintf("vsphere(%s, vm=%s)", a.cfg.URL, a.cfg.VMName)
}

// Precheck logs into vCenter and locates the default datacenter, the
// same sequence as the teacher's VSphereClient constructor, minus its
// retry wrapper (single attempt; the orchestrator decides whether to
// retry the whole run).
func (a *Adapter) Precheck(ctx context.Context) error {
	u, err := soap.ParseURL(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse vcenter url: %w", err)
	}
	u.User = url.UserPassword(a.cfg.Username, a.cfg.Password)

	soapClient := soap.NewClient(u, a.cfg.Insecure)
	soapClient.DefaultTransport().TLSClientConfig = &tls.Config{InsecureSkipVerify: a.cfg.Insecure}

	vimClient, err := vim25.NewClient(ctx, soapClient)
	if err != nil {
		return fmt.Errorf("create vim25 client: %w", err)
	}
	client := &govmomi.Client{Client: vimClient, SessionManager: session.NewManager(vimClient)}
	if err := client.Login(ctx, u.User); err != nil {
		return fmt.Errorf("login to vcenter: %w", err)
	}

	finder := find.NewFinder(client.Client, true)
	dc, err := finder.DefaultDatacenter(ctx)
	if err != nil {
		return fmt.Errorf("find datacenter: %w", err)
	}
	finder.SetDatacenter(dc)

	a.client = client
	a.finder = finder
	a.log.Info("connected to vsphere", "url", a.cfg.URL, "datacenter", dc.Name())
	return nil
}

// Source locates the configured VM and returns its hardware shape and
// disk set. bandwidthLimitBps is accepted but unused here: vsphere
// disks are read locally by qemu-img over the resulting URI, not
// streamed by this adapter, so there is nothing in this process to
// throttle (sshblock is the adapter that does its own transfer).
func (a *Adapter) Source(ctx context.Context, bandwidthLimitBps int64) (*model.Source, []model.SourceDisk, error) {
	if a.finder == nil {
		return nil, nil, fmt.Errorf("vsphere adapter: Precheck was not called")
	}
	vm, err := a.finder.VirtualMachine(ctx, a.cfg.VMName)
	if err != nil {
		return nil, nil, fmt.Errorf("find vm %s: %w", a.cfg.VMName, err)
	}

	var moVM mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"config", "runtime"}, &moVM); err != nil {
		return nil, nil, fmt.Errorf("read vm properties: %w", err)
	}
	if moVM.Config == nil {
		return nil, nil, fmt.Errorf("vm %s has no config", a.cfg.VMName)
	}

	src := model.Source{
		Name:       moVM.Config.Name,
		Hypervisor: model.HypervisorVMware,
		MemoryKiB:  uint64(moVM.Config.Hardware.MemoryMB) * 1024,
		VCPUs:      uint(moVM.Config.Hardware.NumCPU),
		Video:      model.VideoVMVGA,
		Firmware:   firmwareFromConfig(moVM.Config.Firmware),
	}

	var disks []model.SourceDisk
	diskID := 0
	for _, device := range moVM.Config.Hardware.Device {
		vd, ok := device.(*types.VirtualDisk)
		if !ok {
			continue
		}
		backing, ok := vd.Backing.(*types.VirtualDiskFlatVer2BackingInfo)
		if !ok {
			continue
		}
		disks = append(disks, model.SourceDisk{
			ID:             diskID,
			URI:            "vsphere-disk://" + backing.FileName,
			DeclaredFormat: "vmdk",
			Controller:     model.ControllerSATA,
		})
		diskID++
	}

	return &src, disks, nil
}

func firmwareFromConfig(fw string) model.FirmwareHint {
	if fw == "efi" {
		return model.FirmwareUEFI
	}
	return model.FirmwareBIOS
}
