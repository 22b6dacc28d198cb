// SPDX-License-Identifier: LGPL-3.0-or-later

// Package config builds a pipeline.Options value from CLI flags, the
// process environment, and an optional YAML file carrying adapter
// credentials, in the style of the teacher's config package: flags and
// env cover the run's behavioral knobs, YAML backs provider settings
// that don't belong on a command line (endpoints, passwords, keys).
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/pipeline"
)

// TempDirEnvVar overrides the scratch directory used for mount points and
// overlay files (§4.3, §4.4) when set.
const TempDirEnvVar = "HYPERV2KVM_TMPDIR"

// LogLevelEnvVar overrides the logger's level when set, the same way the
// teacher's logger reads LOG_LEVEL.
const LogLevelEnvVar = "HYPERV2KVM_LOG_LEVEL"

// Flags mirrors the CLI surface cmd/hyperv2kvm parses with the stdlib
// flag package. It is a plain struct, not a flag.FlagSet wrapper, so
// callers can also build one directly in tests without touching
// os.Args.
type Flags struct {
	InPlace         bool
	Compressed      bool
	OutputFormat    string
	Preallocation   string
	PrintSource     bool
	PrintEstimate   bool
	MachineReadable bool
	Verbose         bool
	Quiet           bool
	Rename          string
	NetworkMap      map[string]string
	DiskKeys        map[string]string
	StaticIPs       []string
	BandwidthLimit  int64
	AdapterConfig   string // path to a YAML file of adapter credentials
}

// AdapterCredentials holds the provider-specific settings the §6 input
// and output adapters need, decoded from YAML the same way the
// teacher's config.Config backs its cloud provider sections.
type AdapterCredentials struct {
	VSphere   *VSphereCredentials   `yaml:"vsphere"`
	SSH       *SSHCredentials       `yaml:"ssh"`
	OVirt     *OVirtCredentials     `yaml:"ovirt"`
	OpenStack *OpenStackCredentials `yaml:"openstack"`
	Libvirt   *LibvirtCredentials   `yaml:"libvirt"`
}

type VSphereCredentials struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
}

type SSHCredentials struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	PrivateKeyPath string `yaml:"private_key_path"`
	KnownHostsPath string `yaml:"known_hosts_path"`
}

type OVirtCredentials struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	CAFile   string `yaml:"ca_file"`
}

type OpenStackCredentials struct {
	AuthURL    string `yaml:"auth_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TenantName string `yaml:"tenant_name"`
	DomainName string `yaml:"domain_name"`
	Region     string `yaml:"region"`
}

type LibvirtCredentials struct {
	ConnectURI string `yaml:"connect_uri"`
}

// LoadAdapterCredentials reads and decodes a YAML credentials file. An
// empty path is not an error; it returns a zero-value set.
func LoadAdapterCredentials(path string) (*AdapterCredentials, error) {
	if path == "" {
		return &AdapterCredentials{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapter config %s: %w", path, err)
	}
	creds := &AdapterCredentials{}
	if err := yaml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parse adapter config %s: %w", path, err)
	}
	return creds, nil
}

// ToOptions translates parsed flags and the environment into a
// pipeline.Options value. It does not touch the adapter credentials;
// those are wired into concrete adapters separately in cmd/hyperv2kvm,
// since Options only carries pipeline-level behavior, not per-adapter
// connection settings.
func (f Flags) ToOptions() (pipeline.Options, error) {
	prealloc, err := parsePreallocation(f.Preallocation)
	if err != nil {
		return pipeline.Options{}, err
	}

	opts := pipeline.Options{
		InPlace:           f.InPlace,
		Compressed:        f.Compressed,
		OutputFormat:      f.OutputFormat,
		Preallocation:     prealloc,
		PrintSource:       f.PrintSource,
		PrintEstimate:     f.PrintEstimate,
		MachineReadable:   f.MachineReadable,
		Rename:            f.Rename,
		NetworkMap:        f.NetworkMap,
		DecryptionKeys:    f.DiskKeys,
		StaticIPs:         f.StaticIPs,
		BandwidthLimitBps: f.BandwidthLimit,
		TempDir:           os.Getenv(TempDirEnvVar),
	}
	return opts, nil
}

func parsePreallocation(s string) (copyengine.Preallocation, error) {
	switch s {
	case "":
		return copyengine.PreallocationNone, nil
	case "sparse":
		return copyengine.PreallocationSparse, nil
	case "full":
		return copyengine.PreallocationPreallocated, nil
	default:
		return "", fmt.Errorf("unknown preallocation mode %q", s)
	}
}

// LogLevel resolves the effective logger level from the -v/-q flags and
// the environment, -v/-q taking precedence over HYPERV2KVM_LOG_LEVEL.
func (f Flags) LogLevel() string {
	switch {
	case f.Verbose:
		return "debug"
	case f.Quiet:
		return "error"
	}
	if lvl := os.Getenv(LogLevelEnvVar); lvl != "" {
		return lvl
	}
	return "info"
}

// ParseKeyValueList parses a repeated `key=value` flag (used for both
// --network-map and --disk-key) into a map, the way the teacher's CLI
// flags build provider tag maps.
func ParseKeyValueList(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := splitOnce(pair, '=')
		if !ok {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out[key] = value
	}
	return out, nil
}

func splitOnce(s string, sep byte) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// ParseBandwidthLimit parses a human bandwidth limit like "50MB/s" into
// bytes per second, or 0 (unlimited) for an empty string.
func ParseBandwidthLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n := len(s)
	suffix := ""
	for n > 0 && !isDigit(s[n-1]) {
		n--
	}
	numPart, suffixPart := s[:n], s[n:]
	suffix = suffixPart

	val, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth limit %q: %w", s, err)
	}

	mult := 1.0
	switch suffix {
	case "", "B/s":
		mult = 1
	case "KB/s":
		mult = 1 << 10
	case "MB/s":
		mult = 1 << 20
	case "GB/s":
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("invalid bandwidth limit unit %q", suffix)
	}
	return int64(val * mult), nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
