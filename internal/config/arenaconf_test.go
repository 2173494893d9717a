package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConf(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDefaultsAndOverlay(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "defaults.yaml", `
Misc:
  ShipChangeInterval: 500
  AntiwarpShipChange: 0
Soccer:
  Mode: 0
`)
	writeConf(t, dir, "league.yaml", `
Soccer:
  Mode: 1
  CapturePoints: 3
`)

	c, err := LoadArenaConf(dir, "league2")
	require.NoError(t, err)

	// Overlay wins, defaults show through, instance digits are stripped.
	assert.Equal(t, 1, c.GetInt("Soccer", "Mode", -1))
	assert.Equal(t, 3, c.GetInt("Soccer", "CapturePoints", -1))
	assert.Equal(t, 500, c.GetInt("Misc", "ShipChangeInterval", 0))
}

func TestMissingKeysYieldDefaults(t *testing.T) {
	c, err := LoadArenaConf(t.TempDir(), "0")
	require.NoError(t, err)

	assert.Equal(t, 42, c.GetInt("King", "MinPlayers", 42))
	assert.Equal(t, "none", c.GetStr("Flag", "Music", "none"))
	assert.True(t, c.GetBool("Flag", "SplitPoints", true))
}

func TestCaseInsensitiveLookup(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "defaults.yaml", `
misc:
  shipchangeinterval: 123
`)
	c, err := LoadArenaConf(dir, "0")
	require.NoError(t, err)
	assert.Equal(t, 123, c.GetInt("Misc", "ShipChangeInterval", 0))
}

func TestGetTicks(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "defaults.yaml", `
Misc:
  ShipChangeInterval: 500
`)
	c, err := LoadArenaConf(dir, "0")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.GetTicks("Misc", "ShipChangeInterval", 0))
}

func TestBoolForms(t *testing.T) {
	dir := t.TempDir()
	writeConf(t, dir, "defaults.yaml", `
Periodic:
  IncludeSpectators: "yes"
  IncludeSafeZones: 0
`)
	c, err := LoadArenaConf(dir, "0")
	require.NoError(t, err)
	assert.True(t, c.GetBool("Periodic", "IncludeSpectators", false))
	assert.False(t, c.GetBool("Periodic", "IncludeSafeZones", true))
}

func TestSetOverride(t *testing.T) {
	c, err := LoadArenaConf(t.TempDir(), "0")
	require.NoError(t, err)
	c.Set("Soccer", "CapturePoints", "5")
	assert.Equal(t, 5, c.GetInt("Soccer", "CapturePoints", -1))
}
