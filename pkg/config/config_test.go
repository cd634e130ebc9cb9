package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadPortRange(t *testing.T) {
	cfg := Default()
	cfg.PortRange.Start = 4000
	cfg.PortRange.End = 3000
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadStrategy(t *testing.T) {
	cfg := Default()
	cfg.Context.Strategy = "bogus"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsCriticalBelowWarning(t *testing.T) {
	cfg := Default()
	cfg.Context.Warning = 0.8
	cfg.Context.Critical = 0.5
	require.Error(t, cfg.Validate())
}

func TestExpandEnv(t *testing.T) {
	os.Setenv("BROKER_TEST_VAR", "resolved")
	defer os.Unsetenv("BROKER_TEST_VAR")

	require.Equal(t, "resolved", ExpandEnv("${BROKER_TEST_VAR}"))
	require.Equal(t, "resolved", ExpandEnv("$BROKER_TEST_VAR"))
	require.Equal(t, "fallback", ExpandEnv("${BROKER_TEST_VAR_UNSET:-fallback}"))
	require.Equal(t, "resolved", ExpandEnv("${BROKER_TEST_VAR:-fallback}"))
	require.Equal(t, "plain text", ExpandEnv("plain text"))
}

func TestLoaderLoadMissingFileUsesDefaults(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, Default().PortRange, cfg.PortRange)
}

func TestLoaderLoadsYAMLAndExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
assetsDir: ./my-assets
apiKeys:
  elevenlabs: ${BROKER_TEST_KEY}
portRange:
  start: 6600
  end: 6620
  deny: []
context:
  maxWeight: 5000
  strategy: lru
`), 0o644))

	os.Setenv("BROKER_TEST_KEY", "secret-value")
	defer os.Unsetenv("BROKER_TEST_KEY")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.Equal(t, "./my-assets", cfg.AssetsDir)
	require.Equal(t, "secret-value", cfg.APIKeys.ElevenLabs)
	require.Equal(t, 6600, cfg.PortRange.Start)
	require.Equal(t, 5000, cfg.Context.MaxWeight)
	require.True(t, cfg.APIKeys.Has("elevenlabs"))
	require.False(t, cfg.APIKeys.Has("freesound"))
}

func TestLoaderEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	os.Setenv("LOG_LEVEL", "debug")
	defer os.Unsetenv("LOG_LEVEL")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestDefaultAudioEnabledIsTrue(t *testing.T) {
	require.True(t, Default().AudioEnabled)
}

func TestLoaderEnvOverridesAudioEnabled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("assetsDir: ./assets\n"), 0o644))

	os.Setenv("AUDIO_ENABLED", "false")
	defer os.Unsetenv("AUDIO_ENABLED")

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.False(t, cfg.AudioEnabled)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context:\n  maxWeight: 1000\n  strategy: smart\n"), 0o644))

	reloaded := make(chan *Config, 1)
	l := NewLoader(path, WithOnChange(func(c *Config) { reloaded <- c }))
	require.NoError(t, l.Watch())
	defer l.Stop()

	require.NoError(t, os.WriteFile(path, []byte("context:\n  maxWeight: 2000\n  strategy: smart\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 2000, cfg.Context.MaxWeight)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
