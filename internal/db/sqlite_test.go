package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestDB(t *testing.T) {
	testDB, err := NewTestDB()
	require.NoError(t, err)
	defer testDB.Close()

	var name string
	err = testDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='session_history'`).Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "session_history", name)

	version, dirty, err := SchemaVersion(testDB)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}

func TestInitDB(t *testing.T) {
	ResetDB()
	defer ResetDB()

	path := filepath.Join(t.TempDir(), "sessions.db")
	first, err := InitDB(path)
	require.NoError(t, err)
	assert.Same(t, first, GetDB())

	second, err := InitDB(path)
	require.NoError(t, err)
	assert.Same(t, first, second, "InitDB is a singleton")

	// Migrations are idempotent across reopen.
	require.NoError(t, runMigrations(first))
}
