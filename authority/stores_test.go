package authority_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmcleod/tunnelca/authority"
	"github.com/jmcleod/tunnelca/config"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{config.BackendNone, config.BackendINI} {
		repo, err := authority.OpenStore(backend, dir)
		require.NoError(t, err)
		assert.Nil(t, repo, backend)
	}

	repo, err := authority.OpenStore(config.BackendMemory, dir)
	require.NoError(t, err)
	require.NotNil(t, repo)

	repo, err = authority.OpenStore(config.BackendBolt, dir)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	_, err = os.Stat(filepath.Join(dir, authority.BoltFile))
	assert.NoError(t, err)

	repo, err = authority.OpenStore(config.BackendSQLite, dir)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	_, err = os.Stat(filepath.Join(dir, authority.SQLiteFile))
	assert.NoError(t, err)

	_, err = authority.OpenStore("etcd", dir)
	assert.Error(t, err)
}

func TestOpenStores_SharedHandle(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Serial.Backend = config.BackendBolt
	cfg.Ledger.Backend = config.BackendBolt

	stores, err := authority.OpenStores(cfg)
	require.NoError(t, err)
	assert.Same(t, stores.Serials, stores.Ledger)
	assert.Len(t, stores.Options(), 2)
	require.NoError(t, stores.Close())
}

func TestOpenStores_DefaultsHaveNoRepositories(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDir = t.TempDir()

	stores, err := authority.OpenStores(cfg)
	require.NoError(t, err)
	assert.Nil(t, stores.Serials)
	assert.Nil(t, stores.Ledger)
	assert.Empty(t, stores.Options())
	assert.NoError(t, stores.Close())
}

func TestIssue_OnDiskWithBoltAndSQLite(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDir = t.TempDir()
	cfg.Serial.Backend = config.BackendBolt
	cfg.Ledger.Backend = config.BackendSQLite

	stores, err := authority.OpenStores(cfg)
	require.NoError(t, err)
	defer stores.Close()

	a, err := authority.New(cfg, afero.NewOsFs(), slog.New(slog.DiscardHandler), stores.Options()...)
	require.NoError(t, err)

	server, client := issueAcmePair(t, a)
	assert.Equal(t, int64(2), server.SerialNumber)
	assert.Equal(t, int64(3), client.SerialNumber)

	dir := filepath.Join(cfg.BaseDir, "acme", "openvpn")
	for _, name := range []string{"ca.crt", "ca.key", "acme-server1.ovpn", "acme-client1.ovpn", "certs/2-server1.crt", "certs/3-client1.crt"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(dir, "serials.ini"))
	assert.True(t, os.IsNotExist(err))

	entries, err := a.List(t.Context(), "acme")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "client1", entries[1].Name)
}
