// SPDX-License-Identifier: LGPL-3.0-or-later

// Package formatresolve implements the §4.8 per-overlay output format
// cascade and the compression/format compatibility check, grounded on the
// teacher's DiskFormat enum in providers/formats/detector.go.
package formatresolve

import (
	"fmt"
	"strings"

	"hyperv2kvm/internal/model"
)

// Format is an output disk format. Only Raw and QCow2 are ever valid
// targets (§4.8); any other value the cascade resolves to is an error.
type Format string

const (
	Raw   Format = "raw"
	QCow2 Format = "qcow2"
)

// ParseFormat mirrors the teacher's ParseFormatString, but only needs to
// recognize the handful of spellings a CLI flag or declared source format
// might use.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qcow2", "qcow":
		return QCow2, true
	case "raw", "img":
		return Raw, true
	default:
		return "", false
	}
}

// OverrideFunc is the output adapter's per-overlay format override (§6
// override_output_format). A false second return means "no override".
type OverrideFunc func(ov *model.Overlay) (string, bool)

// Resolve applies the §4.8 cascade: output adapter override, then the CLI
// --output-format flag, then the source disk's declared format, failing if
// none yield a value.
func Resolve(ov *model.Overlay, override OverrideFunc, cliFormat string) (Format, error) {
	if override != nil {
		if v, ok := override(ov); ok {
			return validate(v, ov)
		}
	}
	if cliFormat != "" {
		return validate(cliFormat, ov)
	}
	if ov.Source.DeclaredFormat != "" {
		return validate(ov.Source.DeclaredFormat, ov)
	}
	return "", fmt.Errorf("disk %s has no defined format", ov.DeviceName)
}

func validate(raw string, ov *model.Overlay) (Format, error) {
	f, ok := ParseFormat(raw)
	if !ok {
		return "", fmt.Errorf("disk %s: unsupported output format %q (must be raw or qcow2)", ov.DeviceName, raw)
	}
	return f, nil
}

// ValidateCompression enforces that --compressed requires a qcow2 target
// (§4.8). The pipeline calls it before overlay creation when
// --output-format is given, and again for each overlay's resolved format
// after overlay creation, before the copy engine runs.
func ValidateCompression(f Format, compressed bool) error {
	if compressed && f != QCow2 {
		return fmt.Errorf("--compressed requires qcow2 output, got %q", f)
	}
	return nil
}
