// SPDX-License-Identifier: LGPL-3.0-or-later

package ova

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/logger"
)

const sampleOVF = `<?xml version="1.0"?>
<Envelope xmlns="http://schemas.dmtf.org/ovf/envelope/1">
  <References>
    <File ovf:id="file1" ovf:href="disk1.vmdk"/>
  </References>
  <DiskSection>
    <Disk ovf:diskId="vmdisk1" ovf:fileRef="file1" ovf:format="http://www.vmware.com/specifications/vmdk.html#streamOptimized"/>
  </DiskSection>
  <VirtualSystem ovf:id="vm">
    <Name>sample-vm</Name>
    <VirtualHardwareSection>
      <Item>
        <rasd:ResourceType>3</rasd:ResourceType>
        <rasd:VirtualQuantity>2</rasd:VirtualQuantity>
      </Item>
      <Item>
        <rasd:ResourceType>4</rasd:ResourceType>
        <rasd:VirtualQuantity>2048</rasd:VirtualQuantity>
      </Item>
    </VirtualHardwareSection>
  </VirtualSystem>
</Envelope>
`

func writeExtractedOVF(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.ovf"), []byte(sampleOVF), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disk1.vmdk"), []byte("fake-disk"), 0o644))
	return dir
}

func TestPrecheck_UsesDirectoryAsIs(t *testing.T) {
	dir := writeExtractedOVF(t)
	a := New(dir, logger.New("error"))
	require.NoError(t, a.Precheck(context.Background()))
	assert.Equal(t, dir, a.extractDir)
}

func TestSource_ParsesNameMemoryAndDisks(t *testing.T) {
	dir := writeExtractedOVF(t)
	a := New(dir, logger.New("error"))
	require.NoError(t, a.Precheck(context.Background()))

	src, disks, err := a.Source(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, "sample-vm", src.Name)
	assert.Equal(t, uint64(2048*1024), src.MemoryKiB)
	assert.Equal(t, uint(2), src.VCPUs)

	require.Len(t, disks, 1)
	assert.Equal(t, "vmdk", disks[0].DeclaredFormat)
	assert.Contains(t, disks[0].URI, "disk1.vmdk")
}

func TestPrecheck_RejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-an-ova.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	a := New(path, logger.New("error"))
	err := a.Precheck(context.Background())
	assert.Error(t, err)
}
