package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distmon/distmon/internal/config"
)

func TestLoad_AppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.yaml")
	contents := "self: 1\npeers:\n  - \"127.0.0.1:9001\"\n  - \"127.0.0.1:9002\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	group, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9002", group.SelfAddress())
	require.Equal(t, 5*time.Second, group.DialTimeout)
	require.Equal(t, 100*time.Millisecond, group.DialBackoff)
}

func TestLoad_RejectsSelfOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.yaml")
	contents := "self: 5\npeers:\n  - \"127.0.0.1:9001\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsEmptyPeerList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("self: 0\npeers: []\n"), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
}
