// Package detail opens a listing row's detail view in its own browsing
// context and extracts the order it shows.
package detail

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/dom"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
)

// closeTimeout bounds closing a detail context after the row is done.
const closeTimeout = 5 * time.Second

// OpenTimeoutError means the detail view of a row could not be opened.
type OpenTimeoutError struct {
	ExternalID string
	Err        error
}

func (e *OpenTimeoutError) Error() string {
	return fmt.Sprintf("detail view of %s did not open: %v", e.ExternalID, e.Err)
}

func (e *OpenTimeoutError) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *OpenTimeoutError) Kind() schemas.ErrorKind { return schemas.KindDetailOpenTimeout }

// ParseError means the detail view opened but its content could not be read.
type ParseError struct {
	ExternalID string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse detail of %s: %v", e.ExternalID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *ParseError) Kind() schemas.ErrorKind { return schemas.KindDetailParse }

// Extractor pulls order details out of one portal's listing, one row at a time.
type Extractor struct {
	engine    browser.Engine
	identity  portal.Identity
	timeouts  config.TimeoutsConfig
	artifacts *artifacts.Dir
	logger    *zap.Logger
}

// NewExtractor returns an extractor driving the listing page in engine.
// Failure screenshots are written to dir when it is non-nil.
func NewExtractor(engine browser.Engine, identity portal.Identity, timeouts config.TimeoutsConfig, dir *artifacts.Dir, logger *zap.Logger) *Extractor {
	return &Extractor{
		engine:    engine,
		identity:  identity,
		timeouts:  timeouts,
		artifacts: dir,
		logger:    logger.Named("detail").With(zap.String("portal", identity.Name)),
	}
}

// Extract selects row, opens its detail view and parses it. The detail
// context is closed before Extract returns, whatever the outcome.
func (x *Extractor) Extract(ctx context.Context, row schemas.ListingRow) (*schemas.OrderDetail, error) {
	id := row.Summary.ExternalID
	log := x.logger.With(zap.String("external_id", id), zap.Int("row", row.Handle.Index))

	if err := x.selectRow(ctx, row.Handle); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		x.screenshot(ctx, id)
		return nil, &OpenTimeoutError{ExternalID: id, Err: fmt.Errorf("failed to select row: %w", err)}
	}

	view := x.identity.Profile.ViewAction
	popup, err := x.engine.WaitForNewContext(ctx, x.timeouts.NewContext, func(c context.Context) error {
		return x.engine.Click(c, view)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Detail view did not open.", zap.Error(err))
		x.screenshot(ctx, id)
		return nil, &OpenTimeoutError{ExternalID: id, Err: err}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), closeTimeout)
		defer cancel()
		if err := popup.Close(closeCtx); err != nil {
			log.Debug("Failed to close detail context.", zap.Error(err))
		}
	}()

	detail, err := x.read(ctx, popup, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Detail view could not be read.", zap.Error(err))
		x.screenshot(ctx, id)
		return nil, err
	}

	log.Debug("Detail extracted.", zap.Int("line_items", len(detail.LineItems)))
	return detail, nil
}

// selectRow activates the row's selection control. Controls without an
// identifying attribute are reached by position.
func (x *Extractor) selectRow(ctx context.Context, h schemas.RowHandle) error {
	control := x.identity.Profile.RowSelect
	if h.ControlSelector != "" {
		return x.engine.Click(ctx, h.ControlSelector)
	}

	rows, _ := jsoniter.MarshalToString(h.RowsSelector)
	sel, _ := jsoniter.MarshalToString(control)
	script := fmt.Sprintf(`(() => {
		const row = document.querySelectorAll(%s)[%d];
		const el = row ? row.querySelector(%s) : null;
		if (!el) { return false; }
		el.click();
		return true;
	})()`, rows, h.DOMIndex, sel)

	var clicked bool
	if err := x.engine.Evaluate(ctx, script, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("no selection control in row %d", h.DOMIndex)
	}
	return nil
}

func (x *Extractor) read(ctx context.Context, popup browser.Engine, id string) (*schemas.OrderDetail, error) {
	p := x.identity.Profile

	res, err := popup.WaitForSelector(ctx, p.DetailReady, x.timeouts.DetailReady)
	if err != nil {
		return nil, &OpenTimeoutError{ExternalID: id, Err: err}
	}
	if res != browser.WaitFound {
		return nil, &OpenTimeoutError{ExternalID: id, Err: fmt.Errorf("%s %s", p.DetailReady, res)}
	}

	html, err := popup.Snapshot(ctx)
	if err != nil {
		return nil, &ParseError{ExternalID: id, Err: err}
	}
	doc, err := dom.Parse(html)
	if err != nil {
		return nil, &ParseError{ExternalID: id, Err: err}
	}
	detail, err := dom.OrderDetail(doc, p.DetailLayout)
	if err != nil {
		return nil, &ParseError{ExternalID: id, Err: err}
	}
	return detail, nil
}

// screenshot captures the primary context, which still shows the listing.
func (x *Extractor) screenshot(ctx context.Context, externalID string) {
	if x.artifacts == nil {
		return
	}
	path := x.artifacts.ScreenshotPath(x.identity.Name, "detail_"+externalID)
	if err := x.engine.Screenshot(browser.Detach(ctx), path); err != nil {
		x.logger.Warn("Screenshot failed.", zap.Error(err))
	}
}
