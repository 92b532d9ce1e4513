package scrubjay

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// discordMaxEmbedsPerMessage is Discord's cap on embeds in a single
// message; a channel with more alert buckets than this gets multiple
// messages in the same cycle.
const discordMaxEmbedsPerMessage = 10

// ChannelNotifier is the notification collaborator contract the
// dispatcher depends on. Send failures (unreachable channel, rate
// limit) must come back as errors, never panics, so the caller can
// isolate them per channel.
type ChannelNotifier interface {
	Send(ctx context.Context, channelID string, message *discordgo.MessageSend) error
}

// channelBatch is one rendered message destined for one channel, plus
// the item keys whose delivery it would confirm. Keys are only recorded
// in the ledger after the send succeeds.
type channelBatch struct {
	ChannelID string
	Message   *discordgo.MessageSend
	ItemKeys  []string
}

// dispatchStrategy supplies the kind-specific half of a dispatch cycle:
// querying undelivered items, grouping them, and rendering messages.
// The orchestration loop around it is shared by all kinds.
type dispatchStrategy interface {
	Kind() ItemKind
	Collect(ctx context.Context, since time.Time) ([]channelBatch, error)
}

// Dispatcher runs the shared per-cycle state machine for one item
// kind: collect undelivered batches, send each sequentially, then
// record all successful sends in one bulk ledger write.
//
// There is no persistent cycle state beyond the watermark implied by
// the lookback window; a crashed cycle simply re-runs against the
// ledger on the next tick.
type Dispatcher struct {
	strategy dispatchStrategy
	ledger   *DeliveryLedger
	notifier ChannelNotifier
	logger   *slog.Logger

	// lookback is the live-cycle watermark window: each cycle considers
	// items ingested in the last lookback duration.
	lookback time.Duration

	// running guards against overlapping invocations of the same
	// kind's cycle (a slow cycle plus an aggressive schedule). A tick
	// that lands mid-cycle is skipped, not queued.
	running atomic.Bool

	metricCycles       atomic.Int64
	metricCandidates   atomic.Int64
	metricRecorded     atomic.Int64
	metricSendFailures atomic.Int64
	lastCycleUnixMilli atomic.Int64
}

func NewDispatcher(
	strategy dispatchStrategy,
	ledger *DeliveryLedger,
	notifier ChannelNotifier,
	lookback time.Duration,
	log *slog.Logger,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		strategy: strategy,
		ledger:   ledger,
		notifier: notifier,
		lookback: lookback,
		logger: log.With(
			loggerNameKey, "dispatcher",
			"kind", string(strategy.Kind()),
		),
	}
}

func (d *Dispatcher) Kind() ItemKind {
	return d.strategy.Kind()
}

// RunCycle executes one dispatch cycle. One channel's send failure is
// logged and its items left pending for the next cycle; it never
// aborts the remaining channels. Returns an error only when the
// candidate query itself fails.
func (d *Dispatcher) RunCycle(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.WarnContext(
			ctx,
			"previous cycle still running, skipping this invocation",
		)
		return nil
	}
	defer d.running.Store(false)

	d.metricCycles.Add(1)
	d.lastCycleUnixMilli.Store(time.Now().UnixMilli())

	since := time.Now().UTC().Add(-d.lookback)
	batches, err := d.strategy.Collect(ctx, since)
	if err != nil {
		d.logger.ErrorContext(ctx, "error collecting undelivered items", tint.Err(err))
		return err
	}
	if len(batches) == 0 {
		d.logger.DebugContext(ctx, "no undelivered items", "since", since)
		return nil
	}

	var candidates int
	var delivered []Delivery
	for _, batch := range batches {
		candidates += len(batch.ItemKeys)
		if sendErr := d.notifier.Send(
			ctx,
			batch.ChannelID,
			batch.Message,
		); sendErr != nil {
			d.metricSendFailures.Add(1)
			d.logger.ErrorContext(
				ctx,
				"send failed, leaving items pending for retry",
				tint.Err(sendErr),
				"channel_id", batch.ChannelID,
				"item_count", len(batch.ItemKeys),
			)
			continue
		}
		for _, key := range batch.ItemKeys {
			delivered = append(
				delivered,
				Delivery{
					Kind:      d.strategy.Kind(),
					ItemKey:   key,
					ChannelID: batch.ChannelID,
				},
			)
		}
	}

	if len(delivered) > 0 {
		if insertErr := d.ledger.InsertManyIfAbsent(ctx, delivered); insertErr != nil {
			// The affected pairs stay unconfirmed and may be re-sent
			// next cycle. At-most-once is bounded by ledger durability.
			d.logger.ErrorContext(
				ctx,
				"error recording deliveries",
				tint.Err(insertErr),
				"rows", len(delivered),
			)
			delivered = nil
		}
	}

	d.metricCandidates.Add(int64(candidates))
	d.metricRecorded.Add(int64(len(delivered)))

	// A persistent gap between candidates and recorded indicates
	// systemic send failures.
	d.logger.InfoContext(
		ctx,
		"dispatch cycle complete",
		"candidates", candidates,
		"recorded", len(delivered),
		"channels", len(batches),
	)
	return nil
}

// Stats is a point-in-time snapshot of a dispatcher's counters,
// exposed via the status API.
type DispatcherStats struct {
	Kind         ItemKind `json:"kind"`
	Cycles       int64    `json:"cycles"`
	Candidates   int64    `json:"candidates"`
	Recorded     int64    `json:"recorded"`
	SendFailures int64    `json:"send_failures"`
	LastCycle    int64    `json:"last_cycle_unix_ms"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Kind:         d.strategy.Kind(),
		Cycles:       d.metricCycles.Load(),
		Candidates:   d.metricCandidates.Load(),
		Recorded:     d.metricRecorded.Load(),
		SendFailures: d.metricSendFailures.Load(),
		LastCycle:    d.lastCycleUnixMilli.Load(),
	}
}

// observationStrategy collects undelivered eBird observations, groups
// them into (species, location) buckets per channel, and renders one
// embed per bucket.
type observationStrategy struct {
	queries         *UndeliveredQuery
	confirmedWindow time.Duration
	logger          *slog.Logger
}

func newObservationStrategy(
	queries *UndeliveredQuery,
	confirmedWindow time.Duration,
	log *slog.Logger,
) *observationStrategy {
	if log == nil {
		log = slog.Default()
	}
	return &observationStrategy{
		queries:         queries,
		confirmedWindow: confirmedWindow,
		logger:          log.With(loggerNameKey, "observation_strategy"),
	}
}

func (*observationStrategy) Kind() ItemKind {
	return KindObservation
}

func (s *observationStrategy) Collect(
	ctx context.Context,
	since time.Time,
) ([]channelBatch, error) {
	rows, err := s.queries.Observations(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	confirmed, err := s.queries.ConfirmedKeys(ctx, s.confirmedWindow)
	if err != nil {
		// Confirmation state only affects rendering emphasis; a failed
		// lookup shouldn't hold up delivery.
		s.logger.WarnContext(ctx, "error loading confirmed keys", tint.Err(err))
		confirmed = map[string]struct{}{}
	}

	grouped := groupObservations(rows)
	var batches []channelBatch
	for channelID, buckets := range grouped {
		ordered := make([]*ObservationBucket, 0, len(buckets))
		for _, key := range sortedBucketKeys(buckets) {
			ordered = append(ordered, buckets[key])
		}
		for _, chunk := range chunkItems(discordMaxEmbedsPerMessage, ordered...) {
			batch := channelBatch{
				ChannelID: channelID,
				Message:   renderObservationMessage(chunk, confirmed),
			}
			for _, bucket := range chunk {
				batch.ItemKeys = append(batch.ItemKeys, bucket.ItemKeys()...)
			}
			batches = append(batches, batch)
		}
	}
	return batches, nil
}

// feedStrategy collects undelivered feed entries and renders one embed
// per entry, chunked to Discord's embed limit.
type feedStrategy struct {
	queries *UndeliveredQuery
	logger  *slog.Logger
}

func newFeedStrategy(queries *UndeliveredQuery, log *slog.Logger) *feedStrategy {
	if log == nil {
		log = slog.Default()
	}
	return &feedStrategy{
		queries: queries,
		logger:  log.With(loggerNameKey, "feed_strategy"),
	}
}

func (*feedStrategy) Kind() ItemKind {
	return KindFeedItem
}

func (s *feedStrategy) Collect(
	ctx context.Context,
	since time.Time,
) ([]channelBatch, error) {
	rows, err := s.queries.FeedItems(ctx, since)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var batches []channelBatch
	for channelID, items := range groupFeedItems(rows) {
		for _, chunk := range chunkItems(discordMaxEmbedsPerMessage, items...) {
			batch := channelBatch{
				ChannelID: channelID,
				Message:   renderFeedMessage(chunk),
			}
			for _, item := range chunk {
				batch.ItemKeys = append(batch.ItemKeys, item.GUID)
			}
			batches = append(batches, batch)
		}
	}
	return batches, nil
}
