package scrubjay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var structValidator = validator.New()

func init() {
	structValidator.SetTagName("binding")
}

// ScrubJay is the bot: ingestion, dispatch, the Discord surface, and
// the status API, wired around a single database.
type ScrubJay struct {
	config *Config
	logger *slog.Logger

	db      DBI
	ledger  *DeliveryLedger
	queries *UndeliveredQuery
	store   *SubscriptionStore

	discord *Discord
	router  *CommandRouter

	ebirdIngestor *EBirdIngestor
	feedIngestor  *FeedIngestor

	reconciler  *BootstrapReconciler
	dispatchers []*Dispatcher
	api         *API
}

// New validates the config and wires every component. Nothing is
// connected or started; Run does that.
func New(ctx context.Context, config *Config) (*ScrubJay, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := structValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(
		tint.NewHandler(
			os.Stdout,
			&tint.Options{Level: config.LogLevel, AddSource: true},
		),
	)
	slog.SetDefault(logger)

	sj := &ScrubJay{
		config: config,
		logger: logger.With(loggerNameKey, "scrubjay"),
	}

	startupCtx, cancel := context.WithTimeout(ctx, config.StartupTimeout)
	defer cancel()

	gdb, err := CreateDB(startupCtx, config.DatabaseType, config.Database)
	if err != nil {
		return nil, fmt.Errorf("error creating database: %w", err)
	}
	sj.db = NewDatabase(gdb, logger, config.DatabaseType == dbTypePostgres)

	sj.ledger = NewDeliveryLedger(sj.db, logger)
	sj.queries = NewUndeliveredQuery(gdb, logger)
	sj.store = NewSubscriptionStore(sj.db, sj.ledger, logger)

	sj.discord, err = newDiscord(config.Discord, logger)
	if err != nil {
		return nil, err
	}
	sj.router = NewCommandRouter(
		sj.store,
		sj.discord.session,
		config.Feeds.Sources,
		logger,
	)

	ebirdClient := NewEBirdClient(
		config.EBird.BaseURL,
		config.EBird.Token,
		config.EBird.RequestsPerSecond,
		nil,
		logger,
	)
	sj.ebirdIngestor = NewEBirdIngestor(
		ebirdClient,
		sj.db,
		config.EBird.Regions,
		logger,
	)
	sj.feedIngestor = NewFeedIngestor(sj.db, config.Feeds.Sources, logger)

	sj.reconciler = NewBootstrapReconciler(
		sj.ledger,
		sj.queries,
		[]Ingestor{sj.ebirdIngestor, sj.feedIngestor},
		config.Dispatch.BootstrapTimeout,
		logger,
	)

	sj.dispatchers = []*Dispatcher{
		NewDispatcher(
			newObservationStrategy(
				sj.queries,
				config.Dispatch.ConfirmedWindow,
				logger,
			),
			sj.ledger,
			sj.discord,
			config.Dispatch.Lookback,
			logger,
		),
		NewDispatcher(
			newFeedStrategy(sj.queries, logger),
			sj.ledger,
			sj.discord,
			config.Dispatch.Lookback,
			logger,
		),
	}

	if config.API.Enabled {
		sj.api = newAPI(config.API, sj.reconciler, sj.dispatchers, sj.db, logger)
	}

	return sj, nil
}

// Run connects to Discord, runs the bootstrap reconciliation, and then
// drives the ingestion, dispatch, and prune loops until the context is
// canceled. Dispatch loops do not start sending until reconciliation
// completes; a reconciliation that exceeds the readiness timeout keeps
// them down for the life of the process, and a failed reconciliation
// shuts the process down.
func (sj *ScrubJay) Run(ctx context.Context) error {
	if err := sj.discord.connect(); err != nil {
		return err
	}
	defer func() {
		if err := sj.discord.disconnect(); err != nil {
			sj.logger.Error("error disconnecting discord", tint.Err(err))
		}
	}()

	registerCtx, cancel := context.WithTimeout(ctx, sj.config.StartupTimeout)
	err := sj.discord.registerCommands(registerCtx)
	cancel()
	if err != nil {
		return err
	}
	removeHandler := sj.discord.session.AddHandler(sj.router.handleInteraction)
	defer removeHandler()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// A failed reconciliation is fatal: there is no trustworthy
		// delivery baseline to dispatch against.
		return sj.reconciler.Run(ctx)
	})

	if sj.api != nil {
		g.Go(func() error { return sj.api.Serve(ctx) })
	}

	for _, dispatcher := range sj.dispatchers {
		dispatcher := dispatcher
		g.Go(func() error {
			return sj.runDispatchLoop(ctx, dispatcher)
		})
	}

	g.Go(func() error {
		return sj.runIngestLoop(
			ctx,
			"ebird",
			sj.ebirdIngestor,
			sj.config.EBird.PollInterval,
		)
	})
	g.Go(func() error {
		return sj.runIngestLoop(
			ctx,
			"feeds",
			sj.feedIngestor,
			sj.config.Feeds.PollInterval,
		)
	})
	g.Go(func() error { return sj.runPruneLoop(ctx) })

	sj.logger.InfoContext(ctx, "scrubjay running")
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runDispatchLoop gates on bootstrap readiness, then runs dispatch
// cycles on a fixed interval. Cycle errors are already logged by the
// dispatcher. A readiness timeout stops this loop without taking the
// rest of the process down; only context cancellation is returned.
func (sj *ScrubJay) runDispatchLoop(
	ctx context.Context,
	dispatcher *Dispatcher,
) error {
	if err := sj.reconciler.AwaitReady(ctx); err != nil {
		if errors.Is(err, ErrBootstrapTimeout) {
			sj.logger.ErrorContext(
				ctx,
				"bootstrap never completed, dispatch loop staying down",
				"kind", string(dispatcher.Kind()),
			)
			return nil
		}
		return err
	}

	ticker := time.NewTicker(sj.config.Dispatch.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = dispatcher.RunCycle(ctx)
		}
	}
}

// runIngestLoop re-fetches all of an ingestor's sources on a fixed
// interval. The reconciler performed the initial fetch; this loop only
// handles refreshes.
func (sj *ScrubJay) runIngestLoop(
	ctx context.Context,
	name string,
	ingestor Ingestor,
	interval time.Duration,
) error {
	if err := sj.reconciler.AwaitReady(ctx); err != nil {
		if errors.Is(err, ErrBootstrapTimeout) {
			sj.logger.ErrorContext(
				ctx,
				"bootstrap never completed, ingest loop staying down",
				"ingestor", name,
			)
			return nil
		}
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ingestor.IngestAll(ctx); err != nil {
				sj.logger.ErrorContext(
					ctx,
					"ingestion pass failed",
					tint.Err(err),
					"ingestor", name,
				)
			}
		}
	}
}

func (sj *ScrubJay) runPruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(sj.config.Dispatch.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pruned, err := sj.ledger.PruneOlderThan(
				ctx,
				sj.config.Dispatch.RetentionDays,
			)
			if err != nil {
				sj.logger.ErrorContext(ctx, "error pruning deliveries", tint.Err(err))
				continue
			}
			sj.logger.InfoContext(ctx, "pruned delivery records", "rows", pruned)
		}
	}
}
