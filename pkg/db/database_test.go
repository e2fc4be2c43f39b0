package db

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:"), Config())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })
	return gdb
}

func TestPool_Apply(t *testing.T) {
	gdb := openSQLite(t)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)

	Pool{MaxOpen: 4, MaxIdle: 8}.Apply(sqlDB)
	assert.Equal(t, 4, sqlDB.Stats().MaxOpenConnections)

	Pool{}.Apply(sqlDB)
	assert.Equal(t, DefaultPool().MaxOpen, sqlDB.Stats().MaxOpenConnections)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "", DefaultPool())
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestPing(t *testing.T) {
	require.NoError(t, Ping(context.Background(), openSQLite(t)))
}
