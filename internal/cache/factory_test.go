package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreSQLite(t *testing.T) {
	s, err := NewStore("sqlite", filepath.Join(t.TempDir(), "kv.db"), nil)
	require.NoError(t, err)
	sq, ok := s.(*SQLiteStore)
	require.True(t, ok)
	require.NoError(t, sq.Close())
}

func TestNewStoreEmptyBackendDefaultsToSQLite(t *testing.T) {
	s, err := NewStore("", filepath.Join(t.TempDir(), "kv.db"), nil)
	require.NoError(t, err)
	_, ok := s.(*SQLiteStore)
	assert.True(t, ok)
}

func TestNewStoreRedisRequiresClient(t *testing.T) {
	_, err := NewStore("redis", "", nil)
	require.Error(t, err)
}

func TestNewStoreUnknownBackend(t *testing.T) {
	_, err := NewStore("dynamo", "", nil)
	require.Error(t, err)
}
