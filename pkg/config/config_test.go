package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthd/hearth/pkg/security"
)

func writeSuiteConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "suite_config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLayeredPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{"http": {"port": 5100}, "cloud": {"enabled": true}}`)

	t.Setenv("HEARTH_HTTP_PORT", "5200")

	s, err := Load(path)
	require.NoError(t, err)

	// Environment beats the file.
	assert.Equal(t, 5200, s.GetInt(KeyHTTPPort, 0))
	// File beats defaults.
	assert.True(t, s.GetBool(KeyCloudEnabled, false))
	// Defaults fill the rest.
	assert.Equal(t, 5000, s.GetInt(KeyPortRangeMin, 0))
	assert.Equal(t, 900, s.GetInt(KeyCloudSyncInterval, 0))
}

func TestEnvOverrideUnderscoreLeaf(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{"cloud": {"peer_url": "https://file.example"}}`)

	// Both separator and leaf underscores: cloud.peer_url, auth_token,
	// modules.port_range_min.
	t.Setenv("HEARTH_CLOUD_PEER_URL", "https://env.example:8443")
	t.Setenv("HEARTH_AUTH_TOKEN", "env-token")
	t.Setenv("HEARTH_MODULES_PORT_RANGE_MIN", "6000")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example:8443", s.GetString(KeyCloudPeerURL, "UNSET"))
	assert.Equal(t, "env-token", s.GetString(KeyAuthToken, "UNSET"))
	assert.Equal(t, 6000, s.GetInt(KeyPortRangeMin, 0))
}

func TestEnvOverrideNeverPersisted(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{}`)
	t.Setenv("HEARTH_CLOUD_PEER_URL", "https://env.example")

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyLogLevel, "debug", true))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "env.example")
}

func TestGetMissingPath(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "suite_config.json"))
	require.NoError(t, err)

	_, err = s.Get("no.such.path")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "fallback", s.GetString("no.such.path", "fallback"))
}

func TestSetPersistentRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{}`)

	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyCloudPeerURL, "https://peer.example:8443", true))

	// A fresh store sees the persisted value.
	s2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example:8443", s2.GetString(KeyCloudPeerURL, ""))
}

func TestSecretWrappedAtRest(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{}`)

	box, err := security.NewBoxFromPassphrase("test-wrapper")
	require.NoError(t, err)

	s, err := Load(path, WithSecretBox(box), WithSecretPaths(SecretPaths()...))
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyAuthToken, "super-secret-token", true))

	// On disk the value is wrapped, not plaintext.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")
	assert.Contains(t, string(raw), "enc:")

	// Reads unwrap transparently.
	got, err := s.Get(KeyAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", got)
}

func TestSecretsLockedWithoutBox(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{}`)

	box, err := security.NewBoxFromPassphrase("test-wrapper")
	require.NoError(t, err)
	s, err := Load(path, WithSecretBox(box), WithSecretPaths(SecretPaths()...))
	require.NoError(t, err)
	require.NoError(t, s.Set(KeyAuthToken, "tok", true))

	locked, err := Load(path, WithSecretPaths(SecretPaths()...))
	require.NoError(t, err)

	_, err = locked.Get(KeyAuthToken)
	assert.ErrorIs(t, err, ErrSecretsLocked)

	err = locked.Set(KeyAuthToken, "other", false)
	assert.ErrorIs(t, err, ErrSecretsLocked)
}

func TestModuleLayerOverridesSuite(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{"provider": "local-llm", "shared": "suite"}`)
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "voice_config.json"),
		[]byte(`{"provider": "remote-llm"}`), 0o640))

	s, err := Load(path)
	require.NoError(t, err)

	m := s.Module("voice")
	assert.Equal(t, "remote-llm", m["provider"])
	assert.Equal(t, "suite", m["shared"])
}

func TestReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeSuiteConfig(t, dir, `{"log": {"level": "info"}}`)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", s.GetString(KeyLogLevel, ""))

	writeSuiteConfig(t, dir, `{"log": {"level": "debug"}}`)
	require.NoError(t, s.Reload())
	assert.Equal(t, "debug", s.GetString(KeyLogLevel, ""))
}
