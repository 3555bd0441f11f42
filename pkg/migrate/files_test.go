package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	require.NoError(t, ValidateEmbedded())
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	ok := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	cases := map[string]fstest.MapFS{
		"bad name": {
			"migrations/create_orders.sql": {Data: []byte(ok)},
		},
		"duplicate version": {
			"migrations/20260105090000_a.sql": {Data: []byte(ok)},
			"migrations/20260105090000_b.sql": {Data: []byte(ok)},
		},
		"missing down": {
			"migrations/20260105090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateFS(fsys, "migrations"))
		})
	}
}

func TestValidateFSIgnoresNonSQL(t *testing.T) {
	fsys := fstest.MapFS{"migrations/README.md": {Data: []byte("notes")}}
	assert.NoError(t, ValidateFS(fsys, "migrations"))
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "  Add Escrow Index! ", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260304050607_add_escrow_index.sql"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "-- +goose Up"))
	assert.Contains(t, string(body), "-- rollback add_escrow_index")
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "add escrow index", now)
	assert.Error(t, err, "same version and name must not overwrite")

	_, err = CreateSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}

func TestAutoMigrateModelsCreatesTables(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:automigrate?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrateModels(db))

	for _, table := range []string{"orders", "wallets", "wallet_transactions", "shipping_logs", "outbox_events", "outbox_dlq"} {
		assert.True(t, db.Migrator().HasTable(table), "expected table %s", table)
	}
	assert.Error(t, AutoMigrateModels(nil))
}
