package scrubjay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrFilterNameEmpty is returned when a species filter normalizes to
// an empty content key.
var ErrFilterNameEmpty = errors.New("filter name is empty")

// SubscriptionStore owns the channel subscription and filter tables,
// including the transactional insert-with-backfill that keeps a new
// subscription from replaying its entire history into the channel.
type SubscriptionStore struct {
	db     DBI
	ledger *DeliveryLedger
	logger *slog.Logger
}

func NewSubscriptionStore(
	db DBI,
	ledger *DeliveryLedger,
	log *slog.Logger,
) *SubscriptionStore {
	if log == nil {
		log = slog.Default()
	}
	return &SubscriptionStore{
		db:     db,
		ledger: ledger,
		logger: log.With(loggerNameKey, "subscription_store"),
	}
}

// SubscribeResult reports what Subscribe actually did.
type SubscribeResult struct {
	Created    bool `json:"created"`
	Backfilled int  `json:"backfilled"`
}

// Subscribe creates an active region subscription for the channel and
// backfills the delivery ledger with every currently-matching
// observation, all inside one transaction: a crash mid-operation can't
// leave an active subscription with a partial backfill, which would
// burst duplicate sends on the next dispatch cycle.
//
// Re-subscribing with an identical (channel, scope) is idempotent: no
// duplicate row, no repeated backfill. A previously deactivated
// subscription is reactivated, with a fresh backfill covering whatever
// was ingested while it was inactive.
func (s *SubscriptionStore) Subscribe(
	ctx context.Context,
	channelID string,
	scope RegionScope,
) (SubscribeResult, error) {
	var result SubscribeResult
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			sub := Subscription{
				ChannelID: channelID,
				Region:    scope.Region,
				Subregion: scope.Subregion,
				Active:    true,
			}
			rv := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub)
			if rv.Error != nil {
				return rv.Error
			}
			result.Created = rv.RowsAffected > 0

			if !result.Created {
				var existing Subscription
				if err := tx.Where(
					"channel_id = ? AND region = ? AND subregion = ?",
					channelID, scope.Region, scope.Subregion,
				).Take(&existing).Error; err != nil {
					return err
				}
				if existing.Active {
					return nil
				}
				if err := tx.Model(&existing).Update(
					columnSubscriptionActive, true,
				).Error; err != nil {
					return err
				}
			}

			backfilled, err := s.backfillObservations(tx, channelID, scope)
			if err != nil {
				return err
			}
			result.Backfilled = backfilled
			return nil
		},
	)
	if err != nil {
		return SubscribeResult{}, fmt.Errorf("error subscribing: %w", err)
	}
	s.logger.InfoContext(
		ctx,
		"subscription updated",
		"channel_id", channelID,
		"scope", scope.Code(),
		"created", result.Created,
		"backfilled", result.Backfilled,
	)
	return result, nil
}

// backfillObservations marks every observation currently matching the
// scope as delivered for the channel, within the caller's transaction.
func (s *SubscriptionStore) backfillObservations(
	tx *gorm.DB,
	channelID string,
	scope RegionScope,
) (int, error) {
	var keys []string
	err := tx.Table("observations AS o").
		Select("o.obs_key").
		Joins("JOIN locations l ON l.loc_id = o.loc_id").
		Joins(
			`LEFT JOIN deliveries dv ON dv.kind = ?
				AND dv.item_key = o.obs_key
				AND dv.channel_id = ?`,
			KindObservation, channelID,
		).
		Where(
			"l.region_code = ? AND (? = ? OR l.county_code = ?)",
			scope.Region,
			scope.Subregion, SubregionWildcard, scope.Subregion,
		).
		Where("dv.id IS NULL").
		Scan(&keys).Error
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	rows := make([]Delivery, 0, len(keys))
	for _, key := range keys {
		rows = append(
			rows,
			Delivery{
				Kind:      KindObservation,
				ItemKey:   key,
				ChannelID: channelID,
			},
		)
	}
	if err := s.ledger.insertManyTx(tx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Unsubscribe removes the channel's subscription for the given scope.
// Returns false when no matching subscription existed.
func (s *SubscriptionStore) Unsubscribe(
	ctx context.Context,
	channelID string,
	scope RegionScope,
) (bool, error) {
	rows, err := s.db.Delete(
		&Subscription{},
		"channel_id = ? AND region = ? AND subregion = ?",
		channelID, scope.Region, scope.Subregion,
	)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SubscribeFeed creates an active feed-source subscription with the
// same transactional backfill shape as Subscribe.
func (s *SubscriptionStore) SubscribeFeed(
	ctx context.Context,
	channelID string,
	source string,
) (SubscribeResult, error) {
	var result SubscribeResult
	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			sub := FeedSubscription{
				ChannelID: channelID,
				Source:    source,
				Active:    true,
			}
			rv := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sub)
			if rv.Error != nil {
				return rv.Error
			}
			result.Created = rv.RowsAffected > 0

			if !result.Created {
				var existing FeedSubscription
				if err := tx.Where(
					"channel_id = ? AND source = ?", channelID, source,
				).Take(&existing).Error; err != nil {
					return err
				}
				if existing.Active {
					return nil
				}
				if err := tx.Model(&existing).Update(
					columnSubscriptionActive, true,
				).Error; err != nil {
					return err
				}
			}

			backfilled, err := s.backfillFeedItems(tx, channelID, source)
			if err != nil {
				return err
			}
			result.Backfilled = backfilled
			return nil
		},
	)
	if err != nil {
		return SubscribeResult{}, fmt.Errorf("error subscribing to feed: %w", err)
	}
	s.logger.InfoContext(
		ctx,
		"feed subscription updated",
		"channel_id", channelID,
		"source", source,
		"created", result.Created,
		"backfilled", result.Backfilled,
	)
	return result, nil
}

func (s *SubscriptionStore) backfillFeedItems(
	tx *gorm.DB,
	channelID string,
	source string,
) (int, error) {
	var guids []string
	err := tx.Table("feed_items AS i").
		Select("i.guid").
		Joins(
			`LEFT JOIN deliveries dv ON dv.kind = ?
				AND dv.item_key = i.guid
				AND dv.channel_id = ?`,
			KindFeedItem, channelID,
		).
		Where("i.source = ?", source).
		Where("dv.id IS NULL").
		Scan(&guids).Error
	if err != nil {
		return 0, err
	}
	if len(guids) == 0 {
		return 0, nil
	}
	rows := make([]Delivery, 0, len(guids))
	for _, guid := range guids {
		rows = append(
			rows,
			Delivery{
				Kind:      KindFeedItem,
				ItemKey:   guid,
				ChannelID: channelID,
			},
		)
	}
	if err := s.ledger.insertManyTx(tx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// UnsubscribeFeed removes the channel's subscription for the source.
func (s *SubscriptionStore) UnsubscribeFeed(
	ctx context.Context,
	channelID string,
	source string,
) (bool, error) {
	rows, err := s.db.Delete(
		&FeedSubscription{},
		"channel_id = ? AND source = ?", channelID, source,
	)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// AddFilter adds a species/content exclusion for the channel, keyed by
// the normalized content key. Returns false when the filter already
// existed.
func (s *SubscriptionStore) AddFilter(
	ctx context.Context,
	channelID string,
	name string,
) (bool, error) {
	key := normalizeContentKey(name)
	if key == "" {
		return false, ErrFilterNameEmpty
	}
	s.db.Lock()
	defer s.db.Unlock()
	rv := s.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{DoNothing: true},
	).Create(&SpeciesFilter{ChannelID: channelID, SpeciesKey: key})
	if rv.Error != nil {
		return false, rv.Error
	}
	return rv.RowsAffected > 0, nil
}

// RemoveFilter removes a species/content exclusion. Returns false when
// no matching filter existed.
func (s *SubscriptionStore) RemoveFilter(
	ctx context.Context,
	channelID string,
	name string,
) (bool, error) {
	key := normalizeContentKey(name)
	if key == "" {
		return false, ErrFilterNameEmpty
	}
	rows, err := s.db.Delete(
		&SpeciesFilter{},
		"channel_id = ? AND species_key = ?", channelID, key,
	)
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ChannelOverview lists a channel's active subscriptions and filters
// for the `/watching` command.
type ChannelOverview struct {
	Subscriptions     []Subscription     `json:"subscriptions"`
	FeedSubscriptions []FeedSubscription `json:"feed_subscriptions"`
	Filters           []SpeciesFilter    `json:"filters"`
}

func (s *SubscriptionStore) Overview(
	ctx context.Context,
	channelID string,
) (ChannelOverview, error) {
	var overview ChannelOverview
	db := s.db.DB().WithContext(ctx)
	if err := db.Where(
		"channel_id = ? AND active = ?", channelID, true,
	).Order("region, subregion").Find(&overview.Subscriptions).Error; err != nil {
		return overview, err
	}
	if err := db.Where(
		"channel_id = ? AND active = ?", channelID, true,
	).Order("source").Find(&overview.FeedSubscriptions).Error; err != nil {
		return overview, err
	}
	if err := db.Where(
		"channel_id = ?", channelID,
	).Order("species_key").Find(&overview.Filters).Error; err != nil {
		return overview, err
	}
	return overview, nil
}
