// SPDX-License-Identifier: LGPL-3.0-or-later

package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackingFormat(t *testing.T) {
	assert.Equal(t, "raw", backingFormat(""))
	assert.Equal(t, "vmdk", backingFormat("vmdk"))
}

func TestParseImgInfo(t *testing.T) {
	data := []byte(`{"virtual-size": 2147483648, "format": "qcow2", "backing-filename": "/src/disk.vmdk"}`)
	info, err := parseImgInfo(data)
	require.NoError(t, err)
	assert.Equal(t, int64(2147483648), info.VirtualSize)
	assert.Equal(t, "/src/disk.vmdk", info.BackingFilename)
}

func TestCheckBacking(t *testing.T) {
	ok := imgInfo{VirtualSize: 100, BackingFilename: "/src/disk"}
	assert.NoError(t, checkBacking(ok, "/tmp/o.qcow2", "/src/disk", 100))

	wrongSize := imgInfo{VirtualSize: 50, BackingFilename: "/src/disk"}
	assert.Error(t, checkBacking(wrongSize, "/tmp/o.qcow2", "/src/disk", 100))

	wrongBacking := imgInfo{VirtualSize: 100, BackingFilename: "/src/other"}
	assert.Error(t, checkBacking(wrongBacking, "/tmp/o.qcow2", "/src/disk", 100))

	noBackingReported := imgInfo{VirtualSize: 100}
	assert.NoError(t, checkBacking(noBackingReported, "/tmp/o.qcow2", "/src/disk", 100), "empty backing-filename is not a mismatch")
}

func TestNewManager_MissingBinary(t *testing.T) {
	_, err := NewManager()
	_ = err // environment-dependent: only asserts this does not panic
}
