// Package listing retrieves the document listing of a portal.
package listing

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/dom"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
)

// Screenshot checkpoints taken while fetching a listing.
const (
	CheckpointPageLoaded      = "page_loaded"
	CheckpointTableFound      = "table_found"
	CheckpointOrdersExtracted = "orders_extracted"
	CheckpointError           = "error_occurred"
)

// TimeoutError means the listing table did not appear in time.
type TimeoutError struct {
	URL    string
	Result browser.WaitResult
	Err    error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("listing table not available at %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("listing table not available at %s: %s", e.URL, e.Result)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *TimeoutError) Kind() schemas.ErrorKind { return schemas.KindListingTimeout }

// ParseError means the listing page could not be read.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse listing at %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *ParseError) Kind() schemas.ErrorKind { return schemas.KindListingParse }

// Fetcher loads and parses the listing view of one portal.
type Fetcher struct {
	engine      browser.Engine
	identity    portal.Identity
	timeouts    config.TimeoutsConfig
	artifacts   *artifacts.Dir
	checkpoints bool
	logger      *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithArtifacts enables failure screenshots, and checkpoint screenshots when
// checkpoints is set.
func WithArtifacts(dir *artifacts.Dir, checkpoints bool) Option {
	return func(f *Fetcher) {
		f.artifacts = dir
		f.checkpoints = checkpoints
	}
}

// NewFetcher returns a fetcher driving engine.
func NewFetcher(engine browser.Engine, identity portal.Identity, timeouts config.TimeoutsConfig, logger *zap.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		engine:   engine,
		identity: identity,
		timeouts: timeouts,
		logger:   logger.Named("listing").With(zap.String("portal", identity.Name)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// URL returns the listing address for filter.
func (f *Fetcher) URL(filter schemas.ListingFilter) string {
	q := url.Values{}
	q.Set("tido_id", filter.DocumentTypeID)
	q.Set("tipo", filter.Direction)
	q.Set("fecha_inicio", filter.DateFrom)
	q.Set("fecha_termino", filter.DateTo)
	q.Set("estado", filter.Status)
	q.Set("offset", strconv.Itoa(filter.Offset))
	return f.identity.URL(f.identity.Profile.ListingPath) + "?" + q.Encode()
}

// Fetch navigates to the listing for filter and returns its rows in page
// order. An empty listing is not an error.
func (f *Fetcher) Fetch(ctx context.Context, filter schemas.ListingFilter) ([]schemas.ListingRow, error) {
	p := f.identity.Profile
	target := f.URL(filter)
	f.logger.Info("Fetching listing.",
		zap.String("from", filter.DateFrom),
		zap.String("to", filter.DateTo),
		zap.Int("offset", filter.Offset))

	if err := f.engine.Navigate(ctx, target); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.checkpoint(ctx, CheckpointError, true)
		return nil, &TimeoutError{URL: target, Result: browser.WaitTimedOut, Err: err}
	}
	f.checkpoint(ctx, CheckpointPageLoaded, false)

	res, err := f.engine.WaitForSelector(ctx, p.ListingTable, f.timeouts.ListingWait)
	if err != nil {
		return nil, err
	}
	if res != browser.WaitFound {
		f.logger.Warn("Listing table not found.", zap.Stringer("result", res))
		f.checkpoint(ctx, CheckpointError, true)
		return nil, &TimeoutError{URL: target, Result: res}
	}
	f.checkpoint(ctx, CheckpointTableFound, false)

	rows, err := f.parse(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Error("Listing could not be parsed.", zap.Error(err))
		f.checkpoint(ctx, CheckpointError, true)
		return nil, &ParseError{URL: target, Err: err}
	}
	f.checkpoint(ctx, CheckpointOrdersExtracted, false)

	f.logger.Info("Listing fetched.", zap.Int("rows", len(rows)))
	return rows, nil
}

func (f *Fetcher) parse(ctx context.Context) ([]schemas.ListingRow, error) {
	p := f.identity.Profile
	html, err := f.engine.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot listing: %w", err)
	}
	doc, err := dom.Parse(html)
	if err != nil {
		return nil, err
	}
	if doc.Find(p.ListingTable).Length() == 0 {
		return nil, fmt.Errorf("%w: %s", dom.ErrTableNotFound, p.ListingTable)
	}
	return dom.ListingRows(doc, p.ListingRows, p.RowSelect, p.ListingHeaderRows), nil
}

// checkpoint takes a named screenshot. Failure screenshots are always taken
// when an artifact directory is configured; the others only with checkpoints
// enabled.
func (f *Fetcher) checkpoint(ctx context.Context, name string, failure bool) {
	if f.artifacts == nil || (!failure && !f.checkpoints) {
		return
	}
	path := f.artifacts.ScreenshotPath(f.identity.Name, "listing_"+name)
	if err := f.engine.Screenshot(browser.Detach(ctx), path); err != nil {
		f.logger.Warn("Screenshot failed.", zap.String("checkpoint", name), zap.Error(err))
		return
	}
	f.logger.Debug("Screenshot saved.", zap.String("checkpoint", name), zap.String("path", path))
}
