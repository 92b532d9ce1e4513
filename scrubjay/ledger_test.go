package scrubjay

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryLedgerInsertIfAbsent(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	ledger := NewDeliveryLedger(writeDB, nil)
	ctx := context.Background()

	exists, err := ledger.Exists(ctx, KindObservation, "grccra1:S1", "c1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(
		t,
		ledger.InsertIfAbsent(ctx, KindObservation, "grccra1:S1", "c1"),
	)

	// duplicate insert is a silent no-op
	require.NoError(
		t,
		ledger.InsertIfAbsent(ctx, KindObservation, "grccra1:S1", "c1"),
	)

	var count int64
	require.NoError(t, gdb.Model(&Delivery{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	exists, err = ledger.Exists(ctx, KindObservation, "grccra1:S1", "c1")
	require.NoError(t, err)
	assert.True(t, exists)

	// same item key under a different kind or channel is a distinct row
	require.NoError(
		t,
		ledger.InsertIfAbsent(ctx, KindFeedItem, "grccra1:S1", "c1"),
	)
	require.NoError(
		t,
		ledger.InsertIfAbsent(ctx, KindObservation, "grccra1:S1", "c2"),
	)
	require.NoError(t, gdb.Model(&Delivery{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestDeliveryLedgerInsertManyIfAbsent(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	ledger := NewDeliveryLedger(writeDB, nil)
	ctx := context.Background()

	// more than two full chunks, to exercise the chunked insert path
	rowCount := deliveryInsertBatchSize*2 + 50
	rows := make([]Delivery, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		rows = append(
			rows,
			Delivery{
				Kind:      KindObservation,
				ItemKey:   fmt.Sprintf("sp%d:S%d", i, i),
				ChannelID: "c1",
			},
		)
	}
	require.NoError(t, ledger.InsertManyIfAbsent(ctx, rows))

	var count int64
	require.NoError(t, gdb.Model(&Delivery{}).Count(&count).Error)
	assert.Equal(t, int64(rowCount), count)

	// re-inserting the same rows, plus one new, only adds the new row
	rows = append(
		rows,
		Delivery{Kind: KindObservation, ItemKey: "new:S1", ChannelID: "c1"},
	)
	require.NoError(t, ledger.InsertManyIfAbsent(ctx, rows))
	require.NoError(t, gdb.Model(&Delivery{}).Count(&count).Error)
	assert.Equal(t, int64(rowCount+1), count)

	assert.NoError(t, ledger.InsertManyIfAbsent(ctx, nil))
}

func TestDeliveryLedgerPruneOlderThan(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	ledger := NewDeliveryLedger(writeDB, nil)
	ctx := context.Background()

	old := Delivery{Kind: KindObservation, ItemKey: "old:S1", ChannelID: "c1"}
	recent := Delivery{Kind: KindObservation, ItemKey: "new:S1", ChannelID: "c1"}
	require.NoError(t, gdb.Create(&old).Error)
	require.NoError(t, gdb.Create(&recent).Error)

	// backdate one row past the retention window
	backdated := time.Now().UTC().AddDate(0, 0, -45).UnixMilli()
	require.NoError(
		t,
		gdb.Model(&old).Update(columnDeliveryCreatedAt, backdated).Error,
	)

	pruned, err := ledger.PruneOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var remaining []Delivery
	require.NoError(t, gdb.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new:S1", remaining[0].ItemKey)

	// non-positive retention disables pruning
	pruned, err = ledger.PruneOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
