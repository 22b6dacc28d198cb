// SPDX-License-Identifier: LGPL-3.0-or-later

// Package pipeline is the orchestrator: it sequences the eleven components
// of §2 into the single linear run a CLI invocation performs, with the two
// branch points (copy vs in-place, copy vs estimate-only) §2 and §4.2
// describe. It plays the role the teacher's providers/common/pipeline.go
// and conversion_manager.go play for the external hyper2kvm binary, except
// this package *is* that core rather than a wrapper that shells out to it.
package pipeline

import (
	"os"

	"hyperv2kvm/internal/copyengine"
)

// Options carries the CLI/config-layer inputs a single conversion run
// needs (§6 "environment variables", §4.1-§4.2 CLI overrides). The
// internal/config package is responsible for turning parsed
// flags and YAML credentials into one of these.
type Options struct {
	InPlace         bool
	Compressed      bool
	OutputFormat    string // CLI --output-format; empty means "let the cascade decide"
	Preallocation   copyengine.Preallocation

	PrintSource     bool
	PrintEstimate   bool
	MachineReadable bool

	Rename     string            // new name; empty means "keep the source name"
	NetworkMap map[string]string // source network name -> target network name

	DecryptionKeys map[string]string // device -> passphrase, for encrypted volumes (§4.4)
	StaticIPs      []string          // passed through to the conversion module (§4.6)

	BandwidthLimitBps int64

	// TempDir is the large scratch directory overlays and the appliance
	// mount point are created under (§6). Empty defaults to os.TempDir(),
	// itself overridable by the usual TMPDIR-style environment variable.
	TempDir string
}

func (o Options) tempDir() string {
	if o.TempDir != "" {
		return o.TempDir
	}
	return os.TempDir()
}
