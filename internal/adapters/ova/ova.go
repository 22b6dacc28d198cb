// SPDX-License-Identifier: LGPL-3.0-or-later

// Package ova implements the §6 input adapter contract for a local OVA
// (or bare OVF directory) source: unpack the OVA tar archive if needed,
// parse the OVF XML envelope for the VM's hardware description, and
// expose its disk URIs as file:// paths for qemu-img to open directly.
package ova

import (
	"archive/tar"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"hyperv2kvm/internal/logger"
	"hyperv2kvm/internal/model"
)

// Adapter reads a VM description and disk set from an OVA file or an
// already-extracted OVF directory.
type Adapter struct {
	Path string // .ova file or a directory containing the .ovf

	log logger.Logger

	extractDir string // set after Precheck unpacks a .ova
}

func New(path string, log logger.Logger) *Adapter {
	return &Adapter{Path: path, log: log}
}

func (a *Adapter) AsOptions() string { return fmt.Sprintf("ova(%s)", a.Path) }

// Precheck unpacks the OVA into a scratch directory if Path is a .ova
// archive; an already-extracted OVF directory is used as-is.
func (a *Adapter) Precheck(ctx context.Context) error {
	info, err := os.Stat(a.Path)
	if err != nil {
		return fmt.Errorf("stat ova source %s: %w", a.Path, err)
	}
	if info.IsDir() {
		a.extractDir = a.Path
		return nil
	}
	if !strings.EqualFold(filepath.Ext(a.Path), ".ova") {
		return fmt.Errorf("ova source %s is neither a directory nor a .ova file", a.Path)
	}
	dir, err := os.MkdirTemp("", "hyperv2kvm-ova-")
	if err != nil {
		return fmt.Errorf("create ova extract dir: %w", err)
	}
	if err := extractTar(a.Path, dir); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("extract ova %s: %w", a.Path, err)
	}
	a.extractDir = dir
	return nil
}

func extractTar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.Base(hdr.Name))
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		out.Close()
	}
}

// ovfEnvelope is a trimmed OVF 1.0/2.0 schema covering only the fields
// needed to build a model.Source: VM name, memory, vCPU count, and the
// disk file references.
type ovfEnvelope struct {
	XMLName            xml.Name `xml:"Envelope"`
	References         ovfReferences
	DiskSection        ovfDiskSection
	VirtualSystem      ovfVirtualSystem `xml:"VirtualSystem"`
}

type ovfReferences struct {
	Files []ovfFile `xml:"File"`
}

type ovfFile struct {
	ID   string `xml:"id,attr"`
	Href string `xml:"href,attr"`
}

type ovfDiskSection struct {
	Disks []ovfDisk `xml:"Disk"`
}

type ovfDisk struct {
	DiskID      string `xml:"diskId,attr"`
	FileRef     string `xml:"fileRef,attr"`
	Format      string `xml:"format,attr"`
}

type ovfVirtualSystem struct {
	Name            string                `xml:"Name"`
	VirtualHardware ovfVirtualHardware    `xml:"VirtualHardwareSection"`
}

type ovfVirtualHardware struct {
	Items []ovfHardwareItem `xml:"Item"`
}

type ovfHardwareItem struct {
	ResourceType    int    `xml:"ResourceType"`
	VirtualQuantity uint64 `xml:"VirtualQuantity"`
}

const (
	resourceTypeCPU    = 3
	resourceTypeMemory = 4
)

func (a *Adapter) findOVF() (string, error) {
	entries, err := os.ReadDir(a.extractDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if strings.EqualFold(filepath.Ext(e.Name()), ".ovf") {
			return filepath.Join(a.extractDir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no .ovf file found in %s", a.extractDir)
}

// Source parses the OVF envelope and returns the VM model plus one
// SourceDisk per referenced disk file, in OVF disk-section order.
func (a *Adapter) Source(ctx context.Context, bandwidthLimitBps int64) (*model.Source, []model.SourceDisk, error) {
	ovfPath, err := a.findOVF()
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(ovfPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read ovf %s: %w", ovfPath, err)
	}
	var env ovfEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("parse ovf %s: %w", ovfPath, err)
	}

	var memKiB uint64
	var vcpus uint
	for _, item := range env.VirtualSystem.VirtualHardware.Items {
		switch item.ResourceType {
		case resourceTypeMemory:
			memKiB = item.VirtualQuantity * 1024 // OVF reports memory in MB
		case resourceTypeCPU:
			vcpus = uint(item.VirtualQuantity)
		}
	}

	src := model.Source{
		Name:       env.VirtualSystem.Name,
		Hypervisor: model.HypervisorVMware,
		MemoryKiB:  memKiB,
		VCPUs:      vcpus,
		Video:      model.VideoVMVGA,
		Firmware:   model.FirmwareBIOS,
	}

	fileByID := make(map[string]string, len(env.References.Files))
	for _, f := range env.References.Files {
		fileByID[f.ID] = f.Href
	}

	disks := make([]model.SourceDisk, 0, len(env.DiskSection.Disks))
	for i, d := range env.DiskSection.Disks {
		href, ok := fileByID[d.FileRef]
		if !ok {
			return nil, nil, fmt.Errorf("ovf disk %s references unknown file id %s", d.DiskID, d.FileRef)
		}
		disks = append(disks, model.SourceDisk{
			ID:             i,
			URI:            "file://" + filepath.Join(a.extractDir, href),
			DeclaredFormat: formatFromOVF(d.Format),
			Controller:     model.ControllerIDE,
		})
	}

	return &src, disks, nil
}

func formatFromOVF(ovfFormatURI string) string {
	if strings.Contains(ovfFormatURI, "vmdk") {
		return "vmdk"
	}
	return "raw"
}
