package scrubjay

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// ebirdDateTimeLayout is eBird's observation timestamp format.
// Lexicographic order on these strings matches chronological order.
const ebirdDateTimeLayout = "2006-01-02 15:04"

// UndeliveredObservation is one (channel, observation) candidate pair
// from the undelivered query, carrying the denormalized location
// attributes needed for rendering so no second round trip is required.
type UndeliveredObservation struct {
	ChannelID   string `json:"channel_id"`
	ObsKey      string `json:"obs_key"`
	SpeciesCode string `json:"species_code"`
	CommonName  string `json:"common_name"`
	SpeciesKey  string `json:"species_key"`
	SciName     string `json:"sci_name"`
	SubID       string `json:"sub_id"`
	ObsDt       string `json:"obs_dt"`
	HowMany     int    `json:"how_many"`
	Valid       bool   `json:"valid"`
	Reviewed    bool   `json:"reviewed"`
	PhotoCount  int    `json:"photo_count"`
	AudioCount  int    `json:"audio_count"`
	VideoCount  int    `json:"video_count"`
	LocID       string `json:"loc_id"`
	LocName     string `json:"loc_name"`
	LocPrivate  bool   `json:"loc_private"`
	RegionCode  string `json:"region_code"`
	CountyCode  string `json:"county_code"`
}

// UndeliveredFeedItem is one (channel, feed entry) candidate pair.
type UndeliveredFeedItem struct {
	ChannelID   string `json:"channel_id"`
	GUID        string `json:"guid"`
	Source      string `json:"source"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Published   string `json:"published"`
}

// UndeliveredQuery computes, in a single set-based query per kind, the
// (channel, item) pairs that match an active subscription, are not
// suppressed by a content filter, and have no delivery ledger row yet.
//
// The candidate space is (channels x items), so this is deliberately
// one outer-join query filtered on "no match found" rather than a
// per-item existence-check loop.
type UndeliveredQuery struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewUndeliveredQuery(db *gorm.DB, log *slog.Logger) *UndeliveredQuery {
	if log == nil {
		log = slog.Default()
	}
	return &UndeliveredQuery{
		db:     db,
		logger: log.With(loggerNameKey, "undelivered_query"),
	}
}

// Observations returns undelivered (channel, observation) pairs whose
// ingestion watermark is at or after since. A zero since means
// unbounded, which only the bootstrap reconciler and subscription
// backfill use.
//
// The subscription join is the SQL form of [RegionScope.Matches]:
// wildcard-or-exact on the subregion, exact on the region.
func (q *UndeliveredQuery) Observations(
	ctx context.Context,
	since time.Time,
) ([]UndeliveredObservation, error) {
	var rows []UndeliveredObservation
	query := q.db.WithContext(ctx).
		Table("observations AS o").
		Select(`s.channel_id AS channel_id,
			o.obs_key, o.species_code, o.common_name, o.species_key,
			o.sci_name, o.sub_id, o.obs_dt, o.how_many,
			o.valid, o.reviewed,
			o.photo_count, o.audio_count, o.video_count,
			l.loc_id, l.name AS loc_name, l.private AS loc_private,
			l.region_code, l.county_code`).
		Joins("JOIN locations l ON l.loc_id = o.loc_id").
		Joins(
			`JOIN subscriptions s ON s.active = ?
				AND s.region = l.region_code
				AND (s.subregion = ? OR s.subregion = l.county_code)`,
			true, SubregionWildcard,
		).
		Joins(
			`LEFT JOIN species_filters f ON f.channel_id = s.channel_id
				AND f.species_key = o.species_key`,
		).
		Joins(
			`LEFT JOIN deliveries dv ON dv.kind = ?
				AND dv.item_key = o.obs_key
				AND dv.channel_id = s.channel_id`,
			KindObservation,
		).
		Where("f.id IS NULL AND dv.id IS NULL")
	if !since.IsZero() {
		query = query.Where("o.created_at >= ?", since.UnixMilli())
	}
	err := query.Order("s.channel_id, o.obs_dt").Scan(&rows).Error
	return rows, err
}

// FeedItems is the feed-entry analogue of Observations: same
// anti-join shape over feed_items/feed_subscriptions, with content
// filters matched against the normalized title key.
func (q *UndeliveredQuery) FeedItems(
	ctx context.Context,
	since time.Time,
) ([]UndeliveredFeedItem, error) {
	var rows []UndeliveredFeedItem
	query := q.db.WithContext(ctx).
		Table("feed_items AS i").
		Select(`s.channel_id AS channel_id,
			i.guid, i.source, i.title, i.link, i.description, i.published`).
		Joins(
			"JOIN feed_subscriptions s ON s.active = ? AND s.source = i.source",
			true,
		).
		Joins(
			`LEFT JOIN species_filters f ON f.channel_id = s.channel_id
				AND f.species_key = i.title_key`,
		).
		Joins(
			`LEFT JOIN deliveries dv ON dv.kind = ?
				AND dv.item_key = i.guid
				AND dv.channel_id = s.channel_id`,
			KindFeedItem,
		).
		Where("f.id IS NULL AND dv.id IS NULL")
	if !since.IsZero() {
		query = query.Where("i.created_at >= ?", since.UnixMilli())
	}
	err := query.Order("s.channel_id, i.published").Scan(&rows).Error
	return rows, err
}

// ConfirmedKeys returns the set of (species, location) bucket keys with
// at least one validated-and-reviewed observation inside the trailing
// window. The flag this feeds only affects rendering emphasis, never
// delivery decisions.
func (q *UndeliveredQuery) ConfirmedKeys(
	ctx context.Context,
	window time.Duration,
) (map[string]struct{}, error) {
	cutoff := time.Now().UTC().Add(-window).Format(ebirdDateTimeLayout)
	var pairs []struct {
		SpeciesCode string
		LocID       string
	}
	err := q.db.WithContext(ctx).
		Model(&Observation{}).
		Select("DISTINCT species_code, loc_id").
		Where("valid = ? AND reviewed = ? AND obs_dt >= ?", true, true, cutoff).
		Scan(&pairs).Error
	if err != nil {
		return nil, err
	}
	keys := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		keys[bucketKey(p.SpeciesCode, p.LocID)] = struct{}{}
	}
	return keys, nil
}
