package tls

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSelfSigned(t *testing.T) {
	dir := t.TempDir()
	f := Files{
		Cert: filepath.Join(dir, "certs", "server.crt"),
		Key:  filepath.Join(dir, "certs", "server.key"),
	}

	generated, err := EnsureSelfSigned(f, "10.0.0.5", "pulse.local")
	require.NoError(t, err)
	assert.True(t, generated)

	info, err := os.Stat(f.Key)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	generated, err = EnsureSelfSigned(f)
	require.NoError(t, err)
	assert.False(t, generated)

	cfg, err := ServerConfig(f)
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
}

func TestServerConfig_WithCA(t *testing.T) {
	dir := t.TempDir()
	f := Files{Cert: filepath.Join(dir, "s.crt"), Key: filepath.Join(dir, "s.key")}
	_, err := EnsureSelfSigned(f)
	require.NoError(t, err)

	f.CA = f.Cert
	cfg, err := ServerConfig(f)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
}

func TestClientConfig(t *testing.T) {
	cfg, err := ClientConfig(Files{})
	require.NoError(t, err)
	assert.Nil(t, cfg.RootCAs)
	assert.Empty(t, cfg.Certificates)

	dir := t.TempDir()
	f := Files{Cert: filepath.Join(dir, "s.crt"), Key: filepath.Join(dir, "s.key")}
	_, err = EnsureSelfSigned(f)
	require.NoError(t, err)

	cfg, err = ClientConfig(Files{CA: f.Cert})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ServerConfig(Files{Cert: filepath.Join(dir, "missing.crt"), Key: filepath.Join(dir, "missing.key")})
	assert.Error(t, err)

	bogus := filepath.Join(dir, "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a cert"), 0644))
	_, err = ClientConfig(Files{CA: bogus})
	assert.ErrorContains(t, err, "no certificates found")
}
