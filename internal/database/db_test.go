package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile Profile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "nested", "test.db"),
		Profile: profile,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_CreatesFileAndParentDirectory(t *testing.T) {
	db := newTestDB(t, ProfileLedger)

	assert.True(t, filepath.IsAbs(db.Path()))
	assert.Equal(t, "test.db", filepath.Base(db.Path()))

	// WAL mode is set through the DSN pragma for every profile.
	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestConnectionString_Profiles(t *testing.T) {
	ledger := connectionString("/tmp/x.db", ProfileLedger)
	assert.Contains(t, ledger, "_pragma=synchronous(FULL)")
	assert.Contains(t, ledger, "_pragma=auto_vacuum(NONE)")

	standard := connectionString("/tmp/x.db", ProfileStandard)
	assert.Contains(t, standard, "_pragma=synchronous(NORMAL)")
	assert.Contains(t, standard, "_pragma=temp_store(MEMORY)")

	for _, s := range []string{ledger, standard} {
		assert.Contains(t, s, "_pragma=journal_mode(WAL)")
		assert.Contains(t, s, "_pragma=foreign_keys(1)")
	}
}

func TestDB_ExecAndQuery(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES (?, ?)`, "a", "1")
	require.NoError(t, err)

	var v string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, "a").Scan(&v))
	assert.Equal(t, "1", v)

	rows, err := db.QueryContext(ctx, `SELECT k FROM kv`)
	require.NoError(t, err)
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, 1, count)
}

func TestDB_WithTransaction(t *testing.T) {
	db := newTestDB(t, ProfileLedger)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	rowCount := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n))
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := db.WithTransaction(func(tx *sql.Tx) error {
			_, err := tx.Exec(`INSERT INTO kv (k) VALUES ('committed')`)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, rowCount())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		err := db.WithTransaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`INSERT INTO kv (k) VALUES ('doomed')`); err != nil {
				return err
			}
			return errors.New("abort")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, rowCount())
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		err := db.WithTransaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(`INSERT INTO kv (k) VALUES ('doomed')`); err != nil {
				return err
			}
			panic("boom")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panic in transaction")
		assert.Equal(t, 1, rowCount())
	})
}

func TestDB_WALCheckpoint(t *testing.T) {
	db := newTestDB(t, ProfileLedger)

	_, err := db.ExecContext(context.Background(), `CREATE TABLE kv (k TEXT)`)
	require.NoError(t, err)
	assert.NoError(t, db.WALCheckpoint())
}

func TestDB_HealthCheck(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	assert.NoError(t, db.HealthCheck(context.Background()))
}
