// SPDX-License-Identifier: LGPL-3.0-or-later

package formatresolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/model"
)

func overlay(declared string) *model.Overlay {
	ov, _ := model.NewOverlay(model.SourceDisk{ID: 0, URI: "x", DeclaredFormat: declared}, "/tmp/o", "sda", 1<<20)
	return ov
}

func TestResolve_CascadeOrder(t *testing.T) {
	ov := overlay("vmdk")

	// Rule 4: no override, no CLI flag, undeclared format -> error.
	bare := overlay("")
	_, err := Resolve(bare, nil, "")
	require.Error(t, err)

	// Rule 3: declared format wins when nothing else is set.
	f, err := Resolve(ov, nil, "")
	require.Error(t, err, "vmdk is not a valid target format on its own")

	raw := overlay("raw")
	f, err = Resolve(raw, nil, "")
	require.NoError(t, err)
	assert.Equal(t, Raw, f)

	// Rule 2: CLI flag overrides declared format.
	f, err = Resolve(raw, nil, "qcow2")
	require.NoError(t, err)
	assert.Equal(t, QCow2, f)

	// Rule 1: output adapter override wins over everything.
	override := func(*model.Overlay) (string, bool) { return "qcow2", true }
	f, err = Resolve(raw, override, "raw")
	require.NoError(t, err)
	assert.Equal(t, QCow2, f)
}

func TestResolve_OverrideDeclinesFallsThrough(t *testing.T) {
	raw := overlay("raw")
	override := func(*model.Overlay) (string, bool) { return "", false }
	f, err := Resolve(raw, override, "")
	require.NoError(t, err)
	assert.Equal(t, Raw, f)
}

func TestValidateCompression(t *testing.T) {
	require.NoError(t, ValidateCompression(QCow2, true))
	require.NoError(t, ValidateCompression(Raw, false))
	require.Error(t, ValidateCompression(Raw, true))
}

func TestResolve_StableUnderPermutation(t *testing.T) {
	overlays := []*model.Overlay{overlay("raw"), overlay("qcow2"), overlay("raw")}
	var formats1, formats2 []Format
	for _, ov := range overlays {
		f, err := Resolve(ov, nil, "")
		require.NoError(t, err)
		formats1 = append(formats1, f)
	}
	for i := len(overlays) - 1; i >= 0; i-- {
		f, err := Resolve(overlays[i], nil, "")
		require.NoError(t, err)
		formats2 = append([]Format{f}, formats2...)
	}
	assert.Equal(t, formats1, formats2)
}
