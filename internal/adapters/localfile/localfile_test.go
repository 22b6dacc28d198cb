// SPDX-License-Identifier: LGPL-3.0-or-later

package localfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/model"
)

func TestPrecheck_CreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "out")
	a := New(Config{OutputDir: dir})
	require.NoError(t, a.Precheck(context.Background()))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPrepareTargets_NamesFilesByDeviceAndFormat(t *testing.T) {
	a := New(Config{OutputDir: "/tmp/out"})
	overlays := []*model.Overlay{
		{DeviceName: "sda"},
		{DeviceName: "sdb"},
	}
	formats := map[string]string{"sda": "qcow2", "sdb": "raw"}

	refs, err := a.PrepareTargets(context.Background(), "myvm", overlays, formats, model.GrantedCapabilities{})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "/tmp/out/myvm-sda.qcow2", refs[0].Path)
	assert.Equal(t, "/tmp/out/myvm-sdb.raw", refs[1].Path)
}

func TestOverrideOutputFormat_NeverOverrides(t *testing.T) {
	a := New(Config{})
	format, ok := a.OverrideOutputFormat(&model.Overlay{})
	assert.False(t, ok)
	assert.Empty(t, format)
}
