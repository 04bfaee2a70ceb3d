package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/expense-ledger/internal/storage/memory"
	"github.com/example/expense-ledger/internal/storage/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, s)

	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err = Open(ctx, Options{Driver: DriverSQLite, SQLitePath: path, Migrate: true})
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &sqlite.Store{}, s)

	accounts, err := s.Accounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = Open(ctx, Options{Driver: "mongo"})
	require.Error(t, err)
	require.Error(t, Migrate(Options{Driver: "mongo"}))
	require.NoError(t, Migrate(Options{Driver: DriverMemory}))
}
