package scrubjay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/lmittmann/tint"
	"github.com/mmcdole/gofeed"
	"gorm.io/gorm/clause"
)

// FeedSourceConfig names one RSS/Atom source and where to fetch it.
type FeedSourceConfig struct {
	Name string `yaml:"name" mapstructure:"name" json:"name" binding:"required"`
	URL  string `yaml:"url" mapstructure:"url" json:"url" binding:"required,url"`
}

// FeedIngestor fetches configured RSS/Atom sources and upserts their
// entries keyed by GUID. Feed entries are treated as immutable once
// ingested; a conflicting insert is a no-op.
type FeedIngestor struct {
	parser  *gofeed.Parser
	db      DBI
	sources []FeedSourceConfig
	logger  *slog.Logger
}

func NewFeedIngestor(
	db DBI,
	sources []FeedSourceConfig,
	log *slog.Logger,
) *FeedIngestor {
	if log == nil {
		log = slog.Default()
	}
	return &FeedIngestor{
		parser:  gofeed.NewParser(),
		db:      db,
		sources: sources,
		logger:  log.With(loggerNameKey, "feed_ingestor"),
	}
}

// IngestAll fetches every configured source. Per-source failures are
// logged and skipped; the next scheduled ingestion retries them.
func (f *FeedIngestor) IngestAll(ctx context.Context) error {
	for _, src := range f.sources {
		count, err := f.IngestSource(ctx, src)
		if err != nil {
			f.logger.ErrorContext(
				ctx,
				"error ingesting feed",
				tint.Err(err),
				"source", src.Name,
			)
			continue
		}
		f.logger.InfoContext(
			ctx,
			"ingested feed",
			"source", src.Name,
			"items", count,
		)
	}
	return nil
}

// IngestSource fetches and upserts one feed, returning the number of
// entries processed. An empty feed is a valid, non-error outcome.
func (f *FeedIngestor) IngestSource(
	ctx context.Context,
	src FeedSourceConfig,
) (int, error) {
	feed, err := f.parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return 0, err
	}
	if len(feed.Items) == 0 {
		return 0, nil
	}

	rows := make([]FeedItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		rows = append(
			rows,
			FeedItem{
				GUID:        feedItemGUID(item),
				Source:      src.Name,
				Title:       item.Title,
				Link:        item.Link,
				Description: item.Description,
				TitleKey:    normalizeContentKey(item.Title),
				Published:   item.Published,
			},
		)
	}

	f.db.Lock()
	defer f.db.Unlock()
	err = f.db.DB().WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: columnFeedItemGUID}},
			DoNothing: true,
		},
	).Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// feedItemGUID returns the stable natural key for a feed entry: the
// feed-provided GUID, falling back to the link, then a content hash.
func feedItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	if item.Link != "" {
		return item.Link
	}
	sum := sha256.Sum256([]byte(item.Title + "\x1e" + item.Description))
	return hex.EncodeToString(sum[:])
}
