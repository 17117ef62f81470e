package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "coach.db")

	db, err := NewDB(path, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"backend_calls", "chats"} {
		var name string
		err := db.SQL.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.db")

	require.NoError(t, RunMigrations(path, nil))
	require.NoError(t, RunMigrations(path, nil))
}
