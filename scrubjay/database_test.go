package scrubjay

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCreateDBMigrates(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")
	ctx := context.Background()

	gdb, err := CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)

	for _, model := range []any{
		&Location{},
		&Observation{},
		&FeedItem{},
		&Subscription{},
		&FeedSubscription{},
		&SpeciesFilter{},
		&Delivery{},
	} {
		assert.True(t, gdb.Migrator().HasTable(model), "%T", model)
	}

	// re-running migrations against an existing file is a no-op
	_, err = CreateDB(ctx, dbTypeSQLite, dbPath)
	require.NoError(t, err)
}

func TestCreateDBUnsupportedType(t *testing.T) {
	_, err := CreateDB(context.Background(), "mysql", "dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestDatabaseTransactionRollback(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if createErr := tx.Create(
				&Delivery{
					Kind:      KindObservation,
					ItemKey:   "sp1:S1",
					ChannelID: "c1",
				},
			).Error; createErr != nil {
				return createErr
			}
			return boom
		},
	)
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, gdb.Model(&Delivery{}).Count(&count).Error)
	assert.Zero(t, count, "failed transaction must leave no rows behind")
}

func TestDatabaseCreateAndDelete(t *testing.T) {
	writeDB, _ := newTestDB(t)
	ctx := context.Background()

	rows, err := writeDB.Create(
		ctx,
		&SpeciesFilter{ChannelID: "c1", SpeciesKey: "wild turkey"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = writeDB.Delete(
		&SpeciesFilter{},
		"channel_id = ? AND species_key = ?", "c1", "wild turkey",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
}
