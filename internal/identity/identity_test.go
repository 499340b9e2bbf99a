package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMintsDeviceIDOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, first.DeviceID())

	second, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID(), second.DeviceID())
}

func TestIdentityFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	_, err := Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestModeAndLinkSurviveReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	m, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, m.SetMode("overlooker"))
	require.NoError(t, m.SaveLinkedSurveillanceID("surv-123"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "overlooker", reloaded.Mode())
	assert.Equal(t, "surv-123", reloaded.LinkedSurveillanceID())
}

func TestLoadCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "identity.json")

	m, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, m.DeviceID())
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
