// SPDX-License-Identifier: LGPL-3.0-or-later

// Package appliance wraps the libguestfs-family tooling (virt-inspector,
// guestmount, fstrim) the core uses to boot a guest's disks in a sandboxed
// appliance, inspect its filesystems, and trim free space before copy
// (§4.4). Subprocess wrapping follows the teacher's V2VConverter: resolve
// binaries once, build argument slices, run with CombinedOutput. Free-space
// statistics are read with golang.org/x/sys/unix.Statfs, the same call the
// teacher's own pre-export validator makes through the standard library's
// syscall package, but through the portable x/sys/unix wrapper instead.
package appliance

import (
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"hyperv2kvm/internal/model"
)

// RequiredTools is the set of binaries a conversion run depends on,
// checked once during preflight (§4.1), in the style of the teacher's
// CheckDependencies.
var RequiredTools = []string{"virt-inspector", "guestmount", "fstrim", "qemu-img"}

// CheckDependencies verifies every required tool is present on PATH,
// returning a single error naming all that are missing.
func CheckDependencies() error {
	var missing []string
	for _, tool := range RequiredTools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required tools: %s (install libguestfs-tools and qemu-img)", strings.Join(missing, ", "))
	}
	return nil
}

// Appliance is the guest-filesystem sandbox used by §4.4 inspection and
// §4.9 pre-copy trimming. One instance wraps one launched appliance and
// must be shut down with Shutdown.
type Appliance interface {
	AddDrive(overlayPath string) error
	SetDecryptionKeys(keys map[string]string)
	Launch(ctx context.Context) error
	Mount(ctx context.Context) error
	Inspect(ctx context.Context) (*model.Inspect, error)
	StatVFS(mountPath string) (model.MountpointStats, error)
	RootPath() (string, error)
	Fstrim(ctx context.Context, mounts []model.MountedFilesystem) []string
	Shutdown(ctx context.Context) error
}

// guestfsAppliance is the real, subprocess-backed implementation.
type guestfsAppliance struct {
	drives    []string
	mountRoot string
	mounted   bool
	readWrite bool
	keys      map[string]string // device -> passphrase, for --key (§4.4)
}

// New returns an Appliance that mounts disks under mountRoot (a caller-owned
// scratch directory, typically cleaned up by copyengine.CleanupGuard).
func New(mountRoot string) Appliance {
	return &guestfsAppliance{mountRoot: mountRoot}
}

// NewReadWrite is like New, but mounts the guest filesystem read-write; the
// conversion module needs this to inject drivers and bootloader changes
// (§4.6), where every other appliance use in this package is read-only.
func NewReadWrite(mountRoot string) Appliance {
	return &guestfsAppliance{mountRoot: mountRoot, readWrite: true}
}

func (a *guestfsAppliance) AddDrive(overlayPath string) error {
	a.drives = append(a.drives, overlayPath)
	return nil
}

// SetDecryptionKeys records the {device -> passphrase} map the user
// supplied for unlocking encrypted volumes (§4.4); it must be called
// before Mount or Inspect for the keys to take effect.
func (a *guestfsAppliance) SetDecryptionKeys(keys map[string]string) {
	a.keys = keys
}

// keyArgs renders a.keys as repeated `--key dev:key:passphrase:PASS`
// flags, the libguestfs-tools convention for unlocking a LUKS mapping
// inline without writing the passphrase to a temp file.
func (a *guestfsAppliance) keyArgs() []string {
	var args []string
	for dev, pass := range a.keys {
		args = append(args, "--key", fmt.Sprintf("%s:key:passphrase:%s", dev, pass))
	}
	return args
}

// Launch is a no-op for the guestmount-backed implementation: there is no
// separate appliance VM to boot, the whole inspected OS tree is mounted in
// one Mount call. It exists so callers written against other backends (a
// future libguestfs direct-API binding, say) have somewhere to put that
// startup cost.
func (a *guestfsAppliance) Launch(ctx context.Context) error {
	return nil
}

// Mount inspects all added drives together and mounts the detected
// operating system's filesystems as one unified tree at RootPath, the way
// `guestmount -a disk1 -a disk2 -i` mounts a multi-disk OS as a single
// root rather than one mountpoint per disk.
func (a *guestfsAppliance) Mount(ctx context.Context) error {
	if len(a.drives) == 0 {
		return fmt.Errorf("mount: no drives added")
	}
	args := []string{}
	for _, d := range a.drives {
		args = append(args, "-a", d)
	}
	args = append(args, a.keyArgs()...)
	args = append(args, "-i")
	if !a.readWrite {
		args = append(args, "--ro")
	}
	args = append(args, a.mountRoot)

	cmd := exec.CommandContext(ctx, "guestmount", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("guestmount: %w: %s", err, strings.TrimSpace(string(out)))
	}
	a.mounted = true
	return nil
}

// RootPath returns the host-side directory the guest's inspected
// filesystem tree is mounted under, for conversion modules that need to
// read or write guest files directly.
func (a *guestfsAppliance) RootPath() (string, error) {
	if !a.mounted {
		return "", fmt.Errorf("root path requested before Mount")
	}
	return a.mountRoot, nil
}

// virtInspectorXML is the minimal shape of virt-inspector's --xml output
// this package needs; the real schema carries far more, but only these
// fields feed §4.4's inspection result.
type virtInspectorXML struct {
	Operatingsystems []struct {
		Name        string `xml:"name"`
		Distro      string `xml:"distro"`
		ProductName string `xml:"product_name"`
		Mountpoints []struct {
			Dev string `xml:"dev,attr"`
			Path string `xml:",chardata"`
		} `xml:"mountpoints>mountpoint"`
		Applications []struct {
			Name string `xml:"name"`
		} `xml:"applications>application"`
	} `xml:"operatingsystems>operatingsystem"`
}

func (a *guestfsAppliance) Inspect(ctx context.Context) (*model.Inspect, error) {
	if len(a.drives) == 0 {
		return nil, fmt.Errorf("inspect: no drives added")
	}
	args := []string{"--xml"}
	for _, d := range a.drives {
		args = append(args, "-a", d)
	}
	args = append(args, a.keyArgs()...)
	cmd := exec.CommandContext(ctx, "virt-inspector", args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("virt-inspector: %w", err)
	}

	var parsed virtInspectorXML
	if err := xml.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse virt-inspector output: %w", err)
	}
	if len(parsed.Operatingsystems) == 0 {
		return nil, fmt.Errorf("virt-inspector found no operating system")
	}
	os := parsed.Operatingsystems[0]

	insp := &model.Inspect{
		Type:   "linux",
		Distro: os.Distro,
		ProductName: os.ProductName,
	}
	if strings.Contains(strings.ToLower(os.Distro), "windows") || strings.Contains(strings.ToLower(os.Name), "windows") {
		insp.Type = "windows"
	}
	for _, mnt := range os.Mountpoints {
		insp.Mounts = append(insp.Mounts, model.MountedFilesystem{Device: mnt.Dev, MountPath: mnt.Path})
	}
	for _, app := range os.Applications {
		insp.InstalledPackages = append(insp.InstalledPackages, app.Name)
	}
	return insp, nil
}

func (a *guestfsAppliance) StatVFS(mountPath string) (model.MountpointStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(mountPath, &st); err != nil {
		return model.MountpointStats{}, fmt.Errorf("statvfs %s: %w", mountPath, err)
	}
	return model.MountpointStats{
		MountPath:   mountPath,
		BlockSize:   uint64(st.Bsize),
		Blocks:      st.Blocks,
		BlocksFree:  st.Bfree,
		BlocksAvail: st.Bavail,
		Files:       st.Files,
		FilesFree:   st.Ffree,
	}, nil
}

// Fstrim issues fstrim against the mounted root for each filesystem that
// isn't swap or of unknown type (§4.6); a failed fstrim is collected as a
// warning string rather than returned as an error, since it is never
// fatal to the run.
func (a *guestfsAppliance) Fstrim(ctx context.Context, mounts []model.MountedFilesystem) []string {
	if !a.mounted {
		return nil
	}
	var warnings []string
	for _, mnt := range mounts {
		if mnt.FSType == "swap" || mnt.FSType == "unknown" || mnt.FSType == "" {
			continue
		}
		cmd := exec.CommandContext(ctx, "fstrim", "-v", a.mountRoot+mnt.MountPath)
		if out, err := cmd.CombinedOutput(); err != nil {
			warnings = append(warnings, fmt.Sprintf("fstrim %s: %v: %s", mnt.MountPath, err, strings.TrimSpace(string(out))))
		}
	}
	return warnings
}

func (a *guestfsAppliance) Shutdown(ctx context.Context) error {
	if !a.mounted {
		return nil
	}
	cmd := exec.CommandContext(ctx, "guestunmount", a.mountRoot)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("guestunmount %s: %w: %s", a.mountRoot, err, strings.TrimSpace(string(out)))
	}
	a.mounted = false
	return nil
}

// CheckHostTempSpace enforces the §4.1 preflight rule that the host
// scratch directory used for overlays must have at least minFreeBytes
// available before a run starts.
func CheckHostTempSpace(path string, minFreeBytes uint64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return fmt.Errorf("statvfs %s: %w", path, err)
	}
	avail := st.Bavail * uint64(st.Bsize)
	if avail < minFreeBytes {
		return fmt.Errorf("insufficient free space in %s: have %d bytes, need %d", path, avail, minFreeBytes)
	}
	return nil
}

// MinTempFreeBytes is the heuristic floor for host scratch-directory free
// space (§9 open question: kept as an untyped constant rather than a
// configurable threshold, since overlay sizes aren't known until after
// estimation runs).
const MinTempFreeBytes = 1 << 30
