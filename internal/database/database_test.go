package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "dir", "queue.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
}

func TestNewDB_Error(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "db_err")
	defer os.RemoveAll(tmpDir)

	logger := zerolog.Nop()
	// A directory is not a valid database file.
	_, err := NewDB(tmpDir, &logger)
	assert.Error(t, err)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)

	err := db.PingContext(context.Background())
	assert.NoError(t, err)
}

func TestBuildWhere(t *testing.T) {
	allowed := map[string]bool{"status": true, "name": true}

	t.Run("Empty", func(t *testing.T) {
		where, args, err := buildWhere(nil, allowed)
		require.NoError(t, err)
		assert.Empty(t, where)
		assert.Empty(t, args)
	})

	t.Run("AndJoined", func(t *testing.T) {
		where, args, err := buildWhere([]Filter{Eq("status", "new"), Like("name", "product%")}, allowed)
		require.NoError(t, err)
		assert.Equal(t, " WHERE status = ? AND name LIKE ?", where)
		assert.Equal(t, []interface{}{"new", "product%"}, args)
	})

	t.Run("UnknownColumn", func(t *testing.T) {
		_, _, err := buildWhere([]Filter{Eq("meta_data", "x")}, allowed)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("UnsupportedOperator", func(t *testing.T) {
		_, _, err := buildWhere([]Filter{{Field: "status", Op: ">", Value: 1}}, allowed)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}
