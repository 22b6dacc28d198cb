// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/pterm/pterm"

	"hyperv2kvm/internal/adapters"
	"hyperv2kvm/internal/adapters/libvirtout"
	"hyperv2kvm/internal/adapters/libvirtxml"
	"hyperv2kvm/internal/adapters/localfile"
	"hyperv2kvm/internal/adapters/openstack"
	"hyperv2kvm/internal/adapters/ova"
	"hyperv2kvm/internal/adapters/ovirt"
	"hyperv2kvm/internal/adapters/qemurun"
	"hyperv2kvm/internal/adapters/sshblock"
	"hyperv2kvm/internal/adapters/vsphere"
	"hyperv2kvm/internal/config"
	"hyperv2kvm/internal/convert"
	"hyperv2kvm/internal/logger"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/overlay"
	"hyperv2kvm/internal/pipeline"
	"hyperv2kvm/internal/progress"
)

const version = "1.0.0"

type stringListFlag []string

func (s *stringListFlag) String() string     { return fmt.Sprint([]string(*s)) }
func (s *stringListFlag) Set(v string) error { *s = append(*s, v); return nil }

func main() {
	var (
		inputKind  = flag.String("input", "", "input adapter: ova, vsphere, ssh, libvirt-xml (required)")
		inputPath  = flag.String("input-path", "", "path or URI the input adapter reads from")
		outputKind = flag.String("output", "localfile", "output adapter: localfile, libvirt, ovirt, openstack, qemurun")
		outputPath = flag.String("output-path", "", "directory or storage target the output adapter writes to")

		adapterConfig = flag.String("adapter-config", "", "YAML file of adapter credentials (vsphere/ssh/ovirt/openstack/libvirt)")

		inPlace       = flag.Bool("in-place", false, "convert the source disks directly, skipping overlays and a target layout")
		compressed    = flag.Bool("compressed", false, "request compressed qcow2 output")
		outputFormat  = flag.String("output-format", "", "force the target disk format instead of letting the cascade decide")
		preallocation = flag.String("preallocation", "", "qcow2 preallocation mode: sparse, full")

		printSource   = flag.Bool("print-source", false, "print the detected source configuration and exit")
		printEstimate = flag.Bool("print-estimate", false, "print the per-disk space estimate and exit before copying")
		machineReadable = flag.Bool("machine-readable", false, "emit --print-estimate output as JSON")

		verbose = flag.Bool("v", false, "verbose logging")
		quiet   = flag.Bool("q", false, "quiet logging (errors only)")

		rename         = flag.String("rename", "", "new VM name; empty keeps the source name")
		bandwidthLimit = flag.String("bandwidth-limit", "", "cap input transfer rate, e.g. 50MB/s")

		versionFlag = flag.Bool("version", false, "print version and exit")
	)

	var networkMap, diskKeys, staticIPs stringListFlag
	flag.Var(&networkMap, "network-map", "source=target network name mapping, repeatable")
	flag.Var(&diskKeys, "disk-key", "device=passphrase for an encrypted volume, repeatable")
	flag.Var(&staticIPs, "static-ip", "static IP configuration passed through to the conversion module, repeatable")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("hyperv2kvm version %s\n", version)
		os.Exit(0)
	}

	networkMapParsed, err := config.ParseKeyValueList(networkMap)
	if err != nil {
		pterm.Error.Printfln("invalid --network-map: %v", err)
		os.Exit(1)
	}
	diskKeysParsed, err := config.ParseKeyValueList(diskKeys)
	if err != nil {
		pterm.Error.Printfln("invalid --disk-key: %v", err)
		os.Exit(1)
	}
	bwLimit, err := config.ParseBandwidthLimit(*bandwidthLimit)
	if err != nil {
		pterm.Error.Printfln("invalid --bandwidth-limit: %v", err)
		os.Exit(1)
	}

	flags := config.Flags{
		InPlace:         *inPlace,
		Compressed:      *compressed,
		OutputFormat:    *outputFormat,
		Preallocation:   *preallocation,
		PrintSource:     *printSource,
		PrintEstimate:   *printEstimate,
		MachineReadable: *machineReadable,
		Verbose:         *verbose,
		Quiet:           *quiet,
		Rename:          *rename,
		NetworkMap:      networkMapParsed,
		DiskKeys:        diskKeysParsed,
		StaticIPs:       staticIPs,
		BandwidthLimit:  bwLimit,
		AdapterConfig:   *adapterConfig,
	}

	opts, err := flags.ToOptions()
	if err != nil {
		pterm.Error.Printfln("invalid flags: %v", err)
		os.Exit(1)
	}

	log := logger.New(flags.LogLevel())

	creds, err := config.LoadAdapterCredentials(flags.AdapterConfig)
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}

	input, err := buildInput(*inputKind, *inputPath, creds, log)
	if err != nil {
		pterm.Error.Printfln("input adapter: %v", err)
		os.Exit(1)
	}
	output, err := buildOutput(*outputKind, *outputPath, creds)
	if err != nil {
		pterm.Error.Printfln("output adapter: %v", err)
		os.Exit(1)
	}

	overlayMgr, err := overlay.NewManager()
	if err != nil {
		pterm.Error.Printfln("overlay manager: %v", err)
		os.Exit(1)
	}

	driver := &pipeline.Driver{
		Input:    input,
		Output:   output,
		Overlays: overlayMgr,
		Convert:  convert.NewRegistry(),
		Logger:   log,
		ToolName: "hyperv2kvm",
		Stdout:   os.Stdout,
		ProgressFactory: func(deviceName string, totalBytes int64) progress.Reporter {
			return progress.NewDiskCopyProgress(os.Stderr, deviceName, totalBytes)
		},
	}

	ctx := context.Background()
	mf, err := driver.Run(ctx, opts)
	if err != nil {
		pterm.Error.Printfln("conversion failed: %v", err)
		os.Exit(1)
	}
	if mf == nil {
		// --print-source, --print-estimate, and --in-place all succeed
		// without producing a manifest.
		return
	}

	data, err := manifest.ToJSON(mf)
	if err != nil {
		pterm.Error.Printfln("encode manifest: %v", err)
		os.Exit(1)
	}
	pterm.Success.Println("conversion complete")
	fmt.Println(string(data))
}

func buildInput(kind, path string, creds *config.AdapterCredentials, log logger.Logger) (adapters.Input, error) {
	switch kind {
	case "ova":
		return ova.New(path, log), nil
	case "vsphere":
		if creds.VSphere == nil {
			return nil, fmt.Errorf("--input=vsphere requires a [vsphere] section in --adapter-config")
		}
		return vsphere.New(vsphere.Config{
			URL:      creds.VSphere.URL,
			Username: creds.VSphere.Username,
			Password: creds.VSphere.Password,
			Insecure: creds.VSphere.Insecure,
			VMName:   path,
		}, log), nil
	case "ssh":
		if creds.SSH == nil {
			return nil, fmt.Errorf("--input=ssh requires a [ssh] section in --adapter-config")
		}
		return sshblock.New(sshblock.Config{
			Host:           creds.SSH.Host,
			Port:           creds.SSH.Port,
			User:           creds.SSH.User,
			PrivateKeyPath: creds.SSH.PrivateKeyPath,
			KnownHostsPath: creds.SSH.KnownHostsPath,
			RemotePath:     path,
		}, log), nil
	case "libvirt-xml":
		return libvirtxml.New(path), nil
	default:
		return nil, fmt.Errorf("unknown --input %q (want ova, vsphere, ssh, libvirt-xml)", kind)
	}
}

func buildOutput(kind, path string, creds *config.AdapterCredentials) (adapters.Output, error) {
	switch kind {
	case "localfile":
		return localfile.New(localfile.Config{OutputDir: path}), nil
	case "libvirt":
		return libvirtout.New(libvirtout.Config{StoragePoolDir: path}), nil
	case "ovirt":
		if creds.OVirt == nil {
			return nil, fmt.Errorf("--output=ovirt requires an [ovirt] section in --adapter-config")
		}
		return ovirt.New(ovirt.Config{
			EngineURL:   creds.OVirt.URL,
			Username:    creds.OVirt.Username,
			Password:    creds.OVirt.Password,
			StorageName: path,
			StagingDir:  os.TempDir(),
		}), nil
	case "openstack":
		if creds.OpenStack == nil {
			return nil, fmt.Errorf("--output=openstack requires an [openstack] section in --adapter-config")
		}
		return openstack.New(openstack.Config{
			AuthURL:    creds.OpenStack.AuthURL,
			Username:   creds.OpenStack.Username,
			Password:   creds.OpenStack.Password,
			TenantName: creds.OpenStack.TenantName,
			DomainName: creds.OpenStack.DomainName,
			Region:     creds.OpenStack.Region,
			StagingDir: os.TempDir(),
		}), nil
	case "qemurun":
		return qemurun.New(qemurun.Config{RunDir: path}), nil
	default:
		return nil, fmt.Errorf("unknown --output %q (want localfile, libvirt, ovirt, openstack, qemurun)", kind)
	}
}
