package scrubjay

import (
	"fmt"
	"log/slog"
)

// ItemKind distinguishes the two kinds of ingested content the bot
// delivers. The kind is part of the delivery ledger's compound key, so
// an observation and a feed entry can never collide on item key.
type ItemKind string

const (
	// KindObservation is an eBird observation.
	KindObservation ItemKind = "ebird"

	// KindFeedItem is an RSS/Atom feed entry.
	KindFeedItem ItemKind = "rss"
)

const (
	columnSubscriptionActive = "active"
	columnObservationObsKey  = "obs_key"
	columnLocationLocID      = "loc_id"
	columnFeedItemGUID       = "guid"
	columnDeliveryCreatedAt  = "created_at"
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation and update, stored in milliseconds.
type ModelUnixTime struct {
	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// Location is an eBird hotspot or personal location, upserted
// idempotently by its eBird-assigned ID. Private locations must never
// have their name or coordinates revealed in rendered output.
type Location struct {
	LocID       string  `gorm:"primaryKey" json:"loc_id"`
	Name        string  `json:"name"`
	Private     bool    `json:"private"`
	CountryCode string  `json:"country_code"`
	RegionCode  string  `gorm:"index" json:"region_code"`
	CountyCode  string  `gorm:"index" json:"county_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ModelUnixTime
}

// Observation is a single eBird report of a species at a location.
//
// ObsKey is the stable natural key (speciesCode + ":" + subID) and is
// what the delivery ledger records. CreatedAt (from ModelUnixTime) is
// the local ingestion watermark the dispatcher filters on; it is
// distinct from ObsDt, which is the observer's own timestamp.
// Re-ingesting the same observation refreshes the mutable attributes
// (review state, counts, media tallies) without creating a duplicate.
type Observation struct {
	ModelUintID
	ObsKey      string `gorm:"uniqueIndex" json:"obs_key"`
	SpeciesCode string `gorm:"index" json:"species_code"`
	CommonName  string `json:"common_name"`

	// SpeciesKey is the normalized common name (see normalizeContentKey),
	// stored so the species filter exclusion can be a plain join.
	SpeciesKey string `gorm:"index" json:"species_key"`

	SciName string `json:"sci_name"`
	SubID   string `json:"sub_id"`
	LocID   string `gorm:"index" json:"loc_id"`

	// ObsDt is eBird's "2006-01-02 15:04" timestamp. Lexicographic
	// order matches chronological order, which the aggregation relies on.
	ObsDt string `json:"obs_dt"`

	HowMany    int  `json:"how_many"`
	Valid      bool `json:"valid"`
	Reviewed   bool `json:"reviewed"`
	PhotoCount int  `json:"photo_count"`
	AudioCount int  `json:"audio_count"`
	VideoCount int  `json:"video_count"`
	ModelUnixTime
}

func (o Observation) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("obs_key", o.ObsKey),
		slog.String("species_code", o.SpeciesCode),
		slog.String("common_name", o.CommonName),
		slog.String("loc_id", o.LocID),
		slog.String("obs_dt", o.ObsDt),
	)
}

// FeedItem is a single RSS/Atom entry from a named source. GUID is the
// natural key: the feed-provided GUID when present, falling back to the
// link, then to a content hash.
type FeedItem struct {
	ModelUintID
	GUID        string `gorm:"uniqueIndex" json:"guid"`
	Source      string `gorm:"index" json:"source"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`

	// TitleKey is the normalized title, used for the content filter join.
	TitleKey string `gorm:"index" json:"title_key"`

	Published string `json:"published"`
	ModelUnixTime
}

// Subscription maps a Discord channel to an eBird region scope.
// Subregion is either an exact subnational2 code or SubregionWildcard,
// meaning every county in the region, including counties first seen
// after the subscription was created. The compound unique index makes
// re-subscribing idempotent at the storage layer.
type Subscription struct {
	ModelUintID
	ChannelID string `gorm:"uniqueIndex:ux_sub_channel_scope,priority:1" json:"channel_id"`
	Region    string `gorm:"uniqueIndex:ux_sub_channel_scope,priority:2" json:"region"`
	Subregion string `gorm:"uniqueIndex:ux_sub_channel_scope,priority:3" json:"subregion"`
	Active    bool   `json:"active"`
	ModelUnixTime
}

// Scope returns the subscription's region scope.
func (s Subscription) Scope() RegionScope {
	return RegionScope{Region: s.Region, Subregion: s.Subregion}
}

// FeedSubscription maps a Discord channel to a named feed source.
type FeedSubscription struct {
	ModelUintID
	ChannelID string `gorm:"uniqueIndex:ux_feedsub_channel_source,priority:1" json:"channel_id"`
	Source    string `gorm:"uniqueIndex:ux_feedsub_channel_source,priority:2" json:"source"`
	Active    bool   `json:"active"`
	ModelUnixTime
}

// SpeciesFilter suppresses items whose normalized content key matches,
// for a single channel, regardless of how the item matched the
// channel's subscriptions.
type SpeciesFilter struct {
	ModelUintID
	ChannelID  string `gorm:"uniqueIndex:ux_filter_channel_key,priority:1" json:"channel_id"`
	SpeciesKey string `gorm:"uniqueIndex:ux_filter_channel_key,priority:2" json:"species_key"`
	ModelUnixTime
}

// Delivery is the ledger row proving (kind, item, channel) was already
// sent. Existence of a row is definitionally "this channel already got
// this item" - there are no updates, and deletes happen only through
// retention pruning.
type Delivery struct {
	ModelUintID
	Kind      ItemKind `gorm:"uniqueIndex:ux_delivery_kind_item_channel,priority:1" json:"kind"`
	ItemKey   string   `gorm:"uniqueIndex:ux_delivery_kind_item_channel,priority:2" json:"item_key"`
	ChannelID string   `gorm:"uniqueIndex:ux_delivery_kind_item_channel,priority:3" json:"channel_id"`
	ModelUnixTime
}

func (d Delivery) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", string(d.Kind)),
		slog.String("item_key", d.ItemKey),
		slog.String("channel_id", d.ChannelID),
	)
}

// observationKey builds the natural key for an observation.
func observationKey(speciesCode string, subID string) string {
	return fmt.Sprintf("%s:%s", speciesCode, subID)
}
