// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"encoding/json"
	"fmt"
	"io"

	"hyperv2kvm/internal/model"
)

// estimateDocument is the §6 "machine-readable output" shape:
// {"disks": [<int>, …], "total": <int>}, 2-space indented.
type estimateDocument struct {
	Disks []int64 `json:"disks"`
	Total int64   `json:"total"`
}

// printEstimate renders §4.10's estimate-only output: a line per disk and
// a total in human mode, or the machine-readable JSON document. Overlays
// without a computed estimate (src_total == 0, §8 boundary case) fall back
// to reporting their virtual size.
func printEstimate(w io.Writer, overlays []*model.Overlay, machineReadable bool) {
	sizes := make([]int64, len(overlays))
	var total int64
	for i, ov := range overlays {
		size := ov.VirtualSize
		if ov.Stats.EstimatedSize != nil {
			size = *ov.Stats.EstimatedSize
		}
		sizes[i] = size
		total += size
	}

	if machineReadable {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(estimateDocument{Disks: sizes, Total: total})
		return
	}

	for i, ov := range overlays {
		fmt.Fprintf(w, "%s: %d bytes\n", ov.DeviceName, sizes[i])
	}
	fmt.Fprintf(w, "total: %d bytes\n", total)
}
