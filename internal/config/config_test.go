package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the home directory at an empty temp dir so a real config file is never read
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.False(t, cfg.Mock)
	assert.Equal(t, filepath.Join(home, ".smart-trainer", "smart-trainer.log"), cfg.Log.File)
	assert.Equal(t, 10*time.Second, cfg.Bluetooth.ScanTimeout)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.True(t, cfg.Trainer.DeriveCadence)
	assert.InDelta(t, 2.105, cfg.Trainer.WheelCircumferenceM, 1e-9)
	assert.Equal(t, HeartRateSourceBLE, cfg.HeartRateSource)
	assert.Equal(t, uint16(0x0fcf), cfg.ANT.VID)
	assert.Equal(t, uint16(0x1009), cfg.ANT.PID)
	assert.False(t, cfg.OSC.Enabled)
	assert.Equal(t, 9000, cfg.OSC.Port)
	assert.Empty(t, cfg.ConfigFile)
}

func TestLoad_Flags(t *testing.T) {
	isolate(t)

	cfg, err := Load([]string{"--mock", "--poll-interval=250ms", "--heart-rate-source=ANT", "--osc", "--osc-port=9100"})
	require.NoError(t, err)

	assert.True(t, cfg.Mock)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, HeartRateSourceANT, cfg.HeartRateSource)
	assert.True(t, cfg.OSC.Enabled)
	assert.Equal(t, 9100, cfg.OSC.Port)
}

func TestLoad_ConfigFileFromHome(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".smart-trainer")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := writeConfig(t, dir, "trainer:\n  derive_cadence: false\n  wheel_circumference_m: 2.096\nosc:\n  host: 10.0.0.5\n")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.False(t, cfg.Trainer.DeriveCadence)
	assert.InDelta(t, 2.096, cfg.Trainer.WheelCircumferenceM, 1e-9)
	assert.Equal(t, "10.0.0.5", cfg.OSC.Host)
}

func TestLoad_Precedence(t *testing.T) {
	isolate(t)
	path := writeConfig(t, t.TempDir(), "osc:\n  port: 9200\nsensor:\n  poll_interval: 2s\n")
	t.Setenv("SMART_TRAINER_OSC_PORT", "9300")

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.OSC.Port, "env beats file")
	assert.Equal(t, 2*time.Second, cfg.PollInterval)

	cfg, err = Load([]string{"--config", path, "--osc-port", "9400"})
	require.NoError(t, err)
	assert.Equal(t, 9400, cfg.OSC.Port, "flag beats env")
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = Load([]string{"--heart-rate-source", "zigbee"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load([]string{"--poll-interval", "0s"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}
