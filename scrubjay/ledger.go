package scrubjay

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// deliveryInsertBatchSize bounds how many ledger rows go into a single
// INSERT. Keeps statement/parameter size and lock duration bounded for
// large dispatch cycles.
const deliveryInsertBatchSize = 100

// DeliveryLedger is the persistent record of (kind, itemKey, channel)
// triples already sent. Inserts are conflict-safe: a duplicate insert
// from a concurrent or repeated run is a silent no-op, never an error,
// which is what makes at-most-once delivery hold across overlapping
// dispatch and reconciliation passes.
type DeliveryLedger struct {
	db     DBI
	logger *slog.Logger
}

func NewDeliveryLedger(db DBI, log *slog.Logger) *DeliveryLedger {
	if log == nil {
		log = slog.Default()
	}
	return &DeliveryLedger{
		db:     db,
		logger: log.With(loggerNameKey, "delivery_ledger"),
	}
}

// Exists reports whether a delivery row exists for the given triple.
// Used for low-volume single-item checks; bulk paths should rely on
// the undelivered query's anti-join instead.
func (l *DeliveryLedger) Exists(
	ctx context.Context,
	kind ItemKind,
	itemKey string,
	channelID string,
) (bool, error) {
	var count int64
	err := l.db.DB().WithContext(ctx).Model(&Delivery{}).Where(
		"kind = ? AND item_key = ? AND channel_id = ?",
		kind, itemKey, channelID,
	).Count(&count).Error
	return count > 0, err
}

// InsertIfAbsent records a single delivery, swallowing the unique-key
// conflict if the row already exists.
func (l *DeliveryLedger) InsertIfAbsent(
	ctx context.Context,
	kind ItemKind,
	itemKey string,
	channelID string,
) error {
	l.db.Lock()
	defer l.db.Unlock()
	row := Delivery{Kind: kind, ItemKey: itemKey, ChannelID: channelID}
	return l.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{DoNothing: true},
	).Create(&row).Error
}

// InsertManyIfAbsent records deliveries in chunks of
// deliveryInsertBatchSize, swallowing conflicts. A failed chunk is
// returned as an error; the affected pairs stay "not yet delivered"
// and will be retried (and possibly re-sent) on a later cycle.
func (l *DeliveryLedger) InsertManyIfAbsent(
	ctx context.Context,
	rows []Delivery,
) error {
	if len(rows) == 0 {
		return nil
	}
	l.db.Lock()
	defer l.db.Unlock()
	return l.insertChunked(l.db.DB().WithContext(ctx), rows)
}

// insertManyTx is InsertManyIfAbsent inside a caller-held transaction.
// Used by the subscription backfill so the subscription insert and its
// ledger writes commit or roll back together.
func (l *DeliveryLedger) insertManyTx(tx *gorm.DB, rows []Delivery) error {
	return l.insertChunked(tx, rows)
}

func (l *DeliveryLedger) insertChunked(db *gorm.DB, rows []Delivery) error {
	for _, chunk := range chunkItems(deliveryInsertBatchSize, rows...) {
		chunk := chunk
		if err := db.Clauses(
			clause.OnConflict{DoNothing: true},
		).Create(&chunk).Error; err != nil {
			return err
		}
	}
	return nil
}

// PruneOlderThan deletes ledger rows older than the given number of
// days, returning the number removed. Advisory maintenance only: if
// the watermark logic is correct, items old enough to be pruned are
// never dispatch candidates again, so correctness doesn't depend on
// retained rows.
func (l *DeliveryLedger) PruneOlderThan(
	ctx context.Context,
	days int,
) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days).UnixMilli()
	l.db.Lock()
	defer l.db.Unlock()
	rv := l.db.DB().WithContext(ctx).Where(
		columnDeliveryCreatedAt+" < ?", cutoff,
	).Delete(&Delivery{})
	if rv.Error != nil {
		return 0, rv.Error
	}
	l.logger.InfoContext(
		ctx,
		"pruned delivery ledger",
		"days", days,
		"rows", rv.RowsAffected,
	)
	return rv.RowsAffected, nil
}
