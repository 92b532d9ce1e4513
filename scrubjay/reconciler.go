package scrubjay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

// DefaultBootstrapTimeout bounds how long dispatch loops wait for the
// bootstrap reconciliation before giving up. A loop that times out
// stays down rather than dispatching against an incomplete baseline.
const DefaultBootstrapTimeout = 5 * time.Minute

// ErrBootstrapTimeout is returned by AwaitReady when reconciliation
// doesn't complete within the readiness window.
var ErrBootstrapTimeout = errors.New("bootstrap reconciliation timed out")

// Ingestor is the ingestion collaborator contract: fetch all configured
// sources and upsert the results. An empty fetch is a valid, non-error
// outcome; per-source failures are logged by the implementation and
// don't abort the remaining sources.
type Ingestor interface {
	IngestAll(ctx context.Context) error
}

// BootstrapReconciler establishes the delivery baseline at process
// start: ingest everything, then mark every item that already matches a
// subscription as delivered without sending a single notification. A
// freshly restarted bot never floods channels with backlog; only items
// ingested after this pass flow through the live dispatchers.
type BootstrapReconciler struct {
	ledger    *DeliveryLedger
	queries   *UndeliveredQuery
	ingestors []Ingestor
	logger    *slog.Logger
	timeout   time.Duration

	readyOnce sync.Once
	ready     chan struct{}
}

func NewBootstrapReconciler(
	ledger *DeliveryLedger,
	queries *UndeliveredQuery,
	ingestors []Ingestor,
	timeout time.Duration,
	log *slog.Logger,
) *BootstrapReconciler {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultBootstrapTimeout
	}
	return &BootstrapReconciler{
		ledger:    ledger,
		queries:   queries,
		ingestors: ingestors,
		timeout:   timeout,
		logger:    log.With(loggerNameKey, "bootstrap_reconciler"),
		ready:     make(chan struct{}),
	}
}

// Run performs the reconciliation pass and, on success, releases
// AwaitReady waiters. Ingestion failures are logged and skipped - the
// baseline is built from whatever data is present. A failed
// reconciliation leaves the readiness gate closed: waiters time out
// instead of dispatching against an incomplete baseline.
func (r *BootstrapReconciler) Run(ctx context.Context) error {
	started := time.Now()

	g, ingestCtx := errgroup.WithContext(ctx)
	for _, ing := range r.ingestors {
		ing := ing
		g.Go(func() error {
			if err := ing.IngestAll(ingestCtx); err != nil {
				r.logger.ErrorContext(
					ingestCtx,
					"bootstrap ingestion error, continuing with current data",
					tint.Err(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	marked, err := r.reconcile(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "bootstrap reconciliation failed", tint.Err(err))
		return err
	}

	r.readyOnce.Do(func() { close(r.ready) })

	r.logger.InfoContext(
		ctx,
		"bootstrap reconciliation complete",
		"marked_delivered", marked,
		"elapsed", time.Since(started),
	)
	return nil
}

// reconcile marks every currently-matching, not-yet-delivered item as
// delivered, per kind, using the same undelivered queries as the live
// dispatchers but with no time bound.
func (r *BootstrapReconciler) reconcile(ctx context.Context) (int, error) {
	var zero time.Time

	obsRows, err := r.queries.Observations(ctx, zero)
	if err != nil {
		return 0, err
	}
	rows := make([]Delivery, 0, len(obsRows))
	for _, row := range obsRows {
		rows = append(
			rows,
			Delivery{
				Kind:      KindObservation,
				ItemKey:   row.ObsKey,
				ChannelID: row.ChannelID,
			},
		)
	}

	feedRows, err := r.queries.FeedItems(ctx, zero)
	if err != nil {
		return 0, err
	}
	for _, row := range feedRows {
		rows = append(
			rows,
			Delivery{
				Kind:      KindFeedItem,
				ItemKey:   row.GUID,
				ChannelID: row.ChannelID,
			},
		)
	}

	if len(rows) == 0 {
		return 0, nil
	}
	if err := r.ledger.InsertManyIfAbsent(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Ready reports whether reconciliation has completed, without blocking.
func (r *BootstrapReconciler) Ready() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// AwaitReady blocks until reconciliation completes, the context is
// canceled, or the readiness timeout elapses. The timeout is a hard
// stop for the caller, intentionally not a fallback to unguarded
// dispatch.
func (r *BootstrapReconciler) AwaitReady(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.timeout):
		return ErrBootstrapTimeout
	}
}
