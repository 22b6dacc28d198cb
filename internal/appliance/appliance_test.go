// SPDX-License-Identifier: LGPL-3.0-or-later

package appliance

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVirtInspectorXML(t *testing.T) {
	doc := `<operatingsystems>
  <operatingsystem>
    <name>linux</name>
    <distro>rhel</distro>
    <product_name>Red Hat Enterprise Linux 9</product_name>
    <mountpoints>
      <mountpoint dev="/dev/sda1">/boot</mountpoint>
      <mountpoint dev="/dev/sda2">/</mountpoint>
    </mountpoints>
    <applications>
      <application><name>bash</name></application>
    </applications>
  </operatingsystem>
</operatingsystems>`

	var parsed virtInspectorXML
	require.NoError(t, xml.Unmarshal([]byte(doc), &parsed))
	require.Len(t, parsed.Operatingsystems, 1)
	os := parsed.Operatingsystems[0]
	assert.Equal(t, "rhel", os.Distro)
	require.Len(t, os.Mountpoints, 2)
	assert.Equal(t, "/boot", os.Mountpoints[0].Path)
	assert.Equal(t, "/dev/sda2", os.Mountpoints[1].Dev)
	require.Len(t, os.Applications, 1)
	assert.Equal(t, "bash", os.Applications[0].Name)
}

func TestCheckHostTempSpace_TempDirHasSomeRoom(t *testing.T) {
	dir := t.TempDir()
	// A freshly created temp dir should have at least a few KiB free;
	// this only exercises the statvfs call path, not a specific amount.
	err := CheckHostTempSpace(dir, 1)
	assert.NoError(t, err)
}

func TestCheckHostTempSpace_UnreasonableFloorFails(t *testing.T) {
	dir := t.TempDir()
	err := CheckHostTempSpace(dir, 1<<62)
	assert.Error(t, err)
}

func TestCheckDependencies_ReportsAllMissingToolsTogether(t *testing.T) {
	// Tool names that cannot exist on PATH, so the result does not depend
	// on what the test runner has installed.
	saved := RequiredTools
	defer func() { RequiredTools = saved }()
	RequiredTools = []string{"hyperv2kvm-test-missing-a", "hyperv2kvm-test-missing-b"}

	err := CheckDependencies()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hyperv2kvm-test-missing-a, hyperv2kvm-test-missing-b")
}
