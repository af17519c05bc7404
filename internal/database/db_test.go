package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionString(t *testing.T) {
	conn := buildConnectionString("/tmp/journal.db", ProfileLedger)
	assert.Equal(t, "/tmp/journal.db?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=auto_vacuum(NONE)"+
		"&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=wal_autocheckpoint(1000)", conn)

	withQuery := buildConnectionString("file:test.db?mode=rwc", ProfileStandard)
	assert.Contains(t, withQuery, "file:test.db?mode=rwc&_pragma=journal_mode(WAL)")
	assert.Contains(t, withQuery, "synchronous(NORMAL)")
}

func TestNew_MigratesJournal(t *testing.T) {
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "data", "journal.db"),
		Profile: ProfileLedger,
		Name:    "journal",
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate(), "migration is idempotent")

	var count int
	err = db.Conn().QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	stats, err := db.GetStats(context.Background())
	require.NoError(t, err)
	assert.Greater(t, stats.PageSize, int64(0))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "tx.db"), Name: "scratch"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().Exec("CREATE TABLE items (name TEXT)")
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO items (name) VALUES ('a')"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM items").Scan(&count))
	assert.Equal(t, 0, count)
}
