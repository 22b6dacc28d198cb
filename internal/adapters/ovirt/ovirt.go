// SPDX-License-Identifier: LGPL-3.0-or-later

// Package ovirt implements the §6 output adapter contract against an
// oVirt/RHV imageio endpoint: disks are staged to local temp files by
// the copy engine, then pushed to imageio via ranged PUT requests, the
// same request shape the teacher's cloud upload adapters use against
// object-storage HTTP APIs.
package ovirt

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/model"
)

const uploadChunkSize = 32 << 20 // 32MiB, same chunk size the teacher's config defaults to for cloud uploads

type Config struct {
	EngineURL   string
	Username    string
	Password    string
	Insecure    bool
	StorageName string
	StagingDir  string
}

type Adapter struct {
	cfg Config

	client *http.Client
}

func New(cfg Config) *Adapter {
	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure}},
		},
	}
}

func (a *Adapter) AsOptions() string { return fmt.Sprintf("ovirt(%s)", a.cfg.EngineURL) }

func (a *Adapter) Precheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.EngineURL+"/ovirt-engine/api", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach ovirt engine %s: %w", a.cfg.EngineURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ovirt engine %s returned %s", a.cfg.EngineURL, resp.Status)
	}
	return os.MkdirAll(a.cfg.StagingDir, 0o755)
}

func (a *Adapter) SupportedFirmware() []model.FirmwareHint {
	return []model.FirmwareHint{model.FirmwareBIOS, model.FirmwareUEFI}
}

func (a *Adapter) CheckTargetFirmware(model.TargetFirmware) error { return nil }

// OverrideOutputFormat forces every overlay to qcow2: imageio disk
// transfers always target a managed disk created by oVirt, and oVirt's
// managed disks are qcow2-backed regardless of the source's declared
// format.
func (a *Adapter) OverrideOutputFormat(ov *model.Overlay) (string, bool) { return "qcow2", true }

// PrepareTargets stages each disk to a local qcow2 file under StagingDir;
// DiskCopied later uploads that file to the imageio endpoint. This
// adapter does not create oVirt disk objects itself.
func (a *Adapter) PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error) {
	refs := make([]model.TargetFileRef, len(overlays))
	for i, ov := range overlays {
		refs[i] = model.TargetFileRef{Path: filepath.Join(a.cfg.StagingDir, name+"-"+ov.DeviceName+".qcow2")}
	}
	return refs, nil
}

// CreateDestination is a no-op: qemu-img convert creates the staged
// qcow2 file itself during the copy step, there is nothing to
// pre-allocate against an imageio endpoint ahead of time.
func (a *Adapter) CreateDestination(ctx context.Context, target model.TargetDisk, opts copyengine.CreateOptions) error {
	return nil
}

func (a *Adapter) TransferFormat(target model.TargetDisk) string { return "qcow2" }

// DiskCopied uploads the staged file to imageio in fixed-size chunks
// via ranged PUT requests once the copy engine has finished writing it.
func (a *Adapter) DiskCopied(ctx context.Context, target model.TargetDisk, index, total int) error {
	f, err := os.Open(target.File.Path)
	if err != nil {
		return fmt.Errorf("open staged disk %s: %w", target.File.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	uploadURL := fmt.Sprintf("%s/images/%s-%d", a.cfg.EngineURL, a.cfg.StorageName, index)
	buf := make([]byte, uploadChunkSize)
	var offset int64
	for offset < info.Size() {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := a.putChunk(ctx, uploadURL, buf[:n], offset, info.Size()); err != nil {
				return err
			}
			offset += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read staged disk %s: %w", target.File.Path, readErr)
		}
	}
	return nil
}

func (a *Adapter) putChunk(ctx context.Context, url string, chunk []byte, offset, total int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(chunk))
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))
	req.ContentLength = int64(len(chunk))

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload chunk at offset %d: %w", offset, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("imageio rejected chunk at offset %d: %s", offset, resp.Status)
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
		WithInspection(insp).
		AddNote("imported into oVirt storage domain " + a.cfg.StorageName)
	for i, t := range targets {
		deviceName, virtual := "", int64(0)
		if t.Overlay != nil {
			deviceName, virtual = t.Overlay.DeviceName, t.Overlay.VirtualSize
		}
		b.AddDisk(manifest.Disk{
			ID:            deviceName,
			TargetFormat:  t.Format,
			LocalPath:     t.File.Path,
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
