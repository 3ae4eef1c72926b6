// Package harvest runs the end-to-end harvesting protocol for one portal:
// authenticate, fetch the listing, extract every row's detail, and hand the
// finalized result to the configured sinks.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
	"github.com/xkilldash9x/harvester-cli/internal/auth"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/detail"
	"github.com/xkilldash9x/harvester-cli/internal/listing"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
	"github.com/xkilldash9x/harvester-cli/internal/sessionstore"
)

const (
	closeTimeout = 5 * time.Second
	sinkTimeout  = 30 * time.Second
)

// Orchestrator drives harvest runs for a single portal identity. Runs of one
// orchestrator must not overlap; the scheduler guarantees that.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	identity  portal.Identity
	opener    browser.Opener
	sessions  sessionstore.Store
	artifacts *artifacts.Dir
	sinks     []Sink

	now   func() time.Time
	newID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSinks adds result sinks. They are called in order.
func WithSinks(sinks ...Sink) Option {
	return func(o *Orchestrator) { o.sinks = append(o.sinks, sinks...) }
}

// WithArtifacts enables diagnostic screenshots under dir.
func WithArtifacts(dir *artifacts.Dir) Option {
	return func(o *Orchestrator) { o.artifacts = dir }
}

// New creates an orchestrator for identity. Each run opens its own primary
// browsing context from opener.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	identity portal.Identity,
	opener browser.Opener,
	sessions sessionstore.Store,
	opts ...Option,
) (*Orchestrator, error) {
	if cfg == nil || logger == nil || opener == nil || sessions == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger.Named("harvest").With(zap.String("portal", identity.Name)),
		identity: identity,
		opener:   opener,
		sessions: sessions,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Portal returns the name of the portal this orchestrator harvests.
func (o *Orchestrator) Portal() string { return o.identity.Name }

// Run performs one harvest for filter. A row whose detail cannot be
// extracted is recorded as a failure and the run continues; errors that
// prevent the run from completing are returned as *RunError, together with
// the finalized (unsuccessful) result.
func (o *Orchestrator) Run(ctx context.Context, filter schemas.ListingFilter) (*schemas.HarvestResult, error) {
	result := &schemas.HarvestResult{
		RunID:     o.newID(),
		Portal:    o.identity.Name,
		Filter:    filter,
		StartedAt: o.now().UTC(),
		Orders:    []schemas.HarvestedOrder{},
		Failures:  []schemas.RowFailure{},
	}
	log := o.logger.With(zap.String("run_id", result.RunID))
	log.Info("Harvest run started.",
		zap.String("from", filter.DateFrom),
		zap.String("to", filter.DateTo))

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Harvest.RunTimeout)
	defer cancel()

	stage, err := o.execute(runCtx, filter, result, log)

	result.FinishedAt = o.now().UTC()
	result.Success = err == nil
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &RunTimeoutError{Timeout: o.cfg.Harvest.RunTimeout, Err: err}
		}
		err = &RunError{Portal: o.identity.Name, Filter: filter, At: stage, Err: err}
		log.Error("Harvest run aborted.",
			zap.String("stage", stage),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
	} else {
		log.Info("Harvest run finished.",
			zap.Int("orders", len(result.Orders)),
			zap.Int("failures", len(result.Failures)),
			zap.Duration("elapsed", result.Duration()))
	}

	o.deliver(ctx, result, log)
	return result, err
}

// execute runs the pipeline on one primary context and reports the stage it
// stopped at on error.
func (o *Orchestrator) execute(ctx context.Context, filter schemas.ListingFilter, result *schemas.HarvestResult, log *zap.Logger) (string, error) {
	page, err := o.opener.Open(ctx)
	if err != nil {
		return StageOpen, fmt.Errorf("failed to open browsing context: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), closeTimeout)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			log.Debug("Failed to close primary context.", zap.Error(err))
		}
	}()

	outcome, err := auth.NewController(o.identity, o.sessions, o.cfg.Timeouts, o.logger).Ensure(ctx, page)
	if err != nil {
		return StageAuth, err
	}
	log.Info("Authenticated.",
		zap.Bool("restored", outcome.Restored),
		zap.Bool("persisted", outcome.Persisted))

	fetcher := listing.NewFetcher(page, o.identity, o.cfg.Timeouts, o.logger,
		listing.WithArtifacts(o.artifacts, o.cfg.Artifacts.Checkpoints))
	rows, err := fetcher.Fetch(ctx, filter)
	if err != nil {
		return StageListing, err
	}

	extractor := detail.NewExtractor(page, o.identity, o.cfg.Timeouts, o.artifacts, o.logger)
	var limiter *rate.Limiter
	if d := o.cfg.Harvest.RowDelay; d > 0 {
		limiter = rate.NewLimiter(rate.Every(d), 1)
	}

	for i, row := range rows {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return StageRows, err
			}
		}

		d, err := extractor.Extract(ctx, row)
		if err != nil {
			if ctx.Err() != nil {
				return StageRows, ctx.Err()
			}
			failure := schemas.RowFailure{
				RowIndex:   i,
				ExternalID: row.Summary.ExternalID,
				Kind:       KindOf(err),
				Reason:     err.Error(),
			}
			result.Failures = append(result.Failures, failure)
			log.Warn("Row skipped.",
				zap.Int("row", i),
				zap.String("external_id", failure.ExternalID),
				zap.String("kind", string(failure.Kind)),
				zap.Error(err))
			continue
		}
		result.Orders = append(result.Orders, schemas.HarvestedOrder{Summary: row.Summary, Detail: *d})
	}
	return "", nil
}

// deliver hands result to every sink. Sink failures are logged only.
func (o *Orchestrator) deliver(ctx context.Context, result *schemas.HarvestResult, log *zap.Logger) {
	if len(o.sinks) == 0 {
		return
	}
	sinkCtx, cancel := context.WithTimeout(browser.Detach(ctx), sinkTimeout)
	defer cancel()

	for _, s := range o.sinks {
		if err := s.Deliver(sinkCtx, result); err != nil {
			log.Warn("Result not delivered.", zap.String("sink", s.Name()), zap.Error(err))
			continue
		}
		log.Debug("Result delivered.", zap.String("sink", s.Name()))
	}
}
