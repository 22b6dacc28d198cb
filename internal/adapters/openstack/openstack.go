// SPDX-License-Identifier: LGPL-3.0-or-later

// Package openstack implements the §6 output adapter contract by
// uploading converted disks to Glance as images, grounded directly on
// the teacher's Client.UploadImage (create image, stream upload via
// imagedata.Upload, clean up the image on a failed upload).
package openstack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/imagedata"
	"github.com/gophercloud/gophercloud/openstack/imageservice/v2/images"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/model"
)

type Config struct {
	AuthURL    string
	Username   string
	Password   string
	TenantName string
	DomainName string
	Region     string

	StagingDir string
}

type Adapter struct {
	cfg Config

	provider    *gophercloud.ProviderClient
	imageClient *gophercloud.ServiceClient

	imageIDs []string
}

func New(cfg Config) *Adapter { return &Adapter{cfg: cfg} }

func (a *Adapter) AsOptions() string { return fmt.Sprintf("openstack(%s)", a.cfg.AuthURL) }

func (a *Adapter) Precheck(ctx context.Context) error {
	authOpts := gophercloud.AuthOptions{
		IdentityEndpoint: a.cfg.AuthURL,
		Username:         a.cfg.Username,
		Password:         a.cfg.Password,
		TenantName:       a.cfg.TenantName,
		DomainName:       a.cfg.DomainName,
	}
	provider, err := openstack.AuthenticatedClient(authOpts)
	if err != nil {
		return fmt.Errorf("authenticate to openstack: %w", err)
	}
	imageClient, err := openstack.NewImageServiceV2(provider, gophercloud.EndpointOpts{Region: a.cfg.Region})
	if err != nil {
		return fmt.Errorf("create image service client: %w", err)
	}
	a.provider = provider
	a.imageClient = imageClient
	return os.MkdirAll(a.cfg.StagingDir, 0o755)
}

func (a *Adapter) SupportedFirmware() []model.FirmwareHint {
	return []model.FirmwareHint{model.FirmwareBIOS, model.FirmwareUEFI}
}

func (a *Adapter) CheckTargetFirmware(model.TargetFirmware) error { return nil }

func (a *Adapter) OverrideOutputFormat(ov *model.Overlay) (string, bool) { return "qcow2", true }

func (a *Adapter) PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error) {
	refs := make([]model.TargetFileRef, len(overlays))
	a.imageIDs = make([]string, len(overlays))
	for i, ov := range overlays {
		refs[i] = model.TargetFileRef{Path: filepath.Join(a.cfg.StagingDir, name+"-"+ov.DeviceName+".qcow2")}
	}
	return refs, nil
}

func (a *Adapter) CreateDestination(ctx context.Context, target model.TargetDisk, opts copyengine.CreateOptions) error {
	return nil // qemu-img convert creates the staged file
}

func (a *Adapter) TransferFormat(target model.TargetDisk) string { return "qcow2" }

// DiskCopied creates a Glance image and uploads the staged file's data,
// deleting the image if the upload fails, exactly as the teacher's
// UploadImage does.
func (a *Adapter) DiskCopied(ctx context.Context, target model.TargetDisk, index, total int) error {
	file, err := os.Open(target.File.Path)
	if err != nil {
		return fmt.Errorf("open staged disk %s: %w", target.File.Path, err)
	}
	defer file.Close()

	imageName := filepath.Base(target.File.Path)
	image, err := images.Create(a.imageClient, images.CreateOpts{
		Name:            imageName,
		DiskFormat:      "qcow2",
		ContainerFormat: "bare",
	}).Extract()
	if err != nil {
		return fmt.Errorf("create glance image %s: %w", imageName, err)
	}

	if err := imagedata.Upload(a.imageClient, image.ID, file).ExtractErr(); err != nil {
		images.Delete(a.imageClient, image.ID)
		return fmt.Errorf("upload image data for %s: %w", imageName, err)
	}

	// index is 1-based (the copy engine's disk_copied numbering).
	if index >= 1 && index <= len(a.imageIDs) {
		a.imageIDs[index-1] = image.ID
	}
	return nil
}

func (a *Adapter) CreateMetadata(ctx context.Context, source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, insp *model.Inspect, fw model.TargetFirmware) error {
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
		deviceName, virtual := "", int64(0)
		if t.Overlay != nil {
			deviceName, virtual = t.Overlay.DeviceName, t.Overlay.VirtualSize
		}
		imageID := ""
		if i < len(a.imageIDs) {
			imageID = a.imageIDs[i]
		}
		b.AddDisk(manifest.Disk{
			ID:            deviceName,
			TargetFormat:  t.Format,
			URI:           "glance://" + imageID,
			Bus:           buses.Bus.String(),
			VirtualBytes:  virtual,
			BootOrderHint: i,
		})
	}

	mf, err := b.Build()
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	return manifest.WriteToFile(mf, filepath.Join(a.cfg.StagingDir, source.Name+".manifest.json"))
}
