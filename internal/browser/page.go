package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/config"
)

const (
	// presenceCheckTimeout bounds the one-shot query that separates
	// "not found" from "timed out" after a wait expires.
	presenceCheckTimeout = 2 * time.Second
	closeTimeout         = 5 * time.Second
	screenshotQuality    = 100
)

// lateTargetWindow is how long a failed new-context wait keeps watching for
// the context to open anyway.
const lateTargetWindow = 10 * time.Second

// Page is an Engine backed by a chromedp target.
type Page struct {
	ctx      context.Context // chromedp target context; carries the CDP connection.
	cancel   context.CancelFunc
	logger   *zap.Logger
	timeouts config.TimeoutsConfig

	onClose   func()
	closeOnce sync.Once
	closeErr  error

	late pendingDrain
}

var _ Engine = (*Page)(nil)

func newPage(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, timeouts config.TimeoutsConfig) *Page {
	p := &Page{
		ctx:      ctx,
		cancel:   cancel,
		timeouts: timeouts,
	}
	p.logger = logger.Named("page").With(zap.String("target_id", p.targetID()))
	return p
}

func (p *Page) targetID() string {
	if c := chromedp.FromContext(p.ctx); c != nil && c.Target != nil {
		return string(c.Target.TargetID)
	}
	return ""
}

// runActions runs actions on the page's target, bounded by ctx.
func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// runTimed runs actions under a per-operation timeout and normalizes the error.
func (p *Page) runTimed(ctx context.Context, op string, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.runActions(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", op, ctx.Err())
	}
	if opCtx.Err() == context.DeadlineExceeded {
		p.logger.Debug("Operation timed out.", zap.String("op", op), zap.Duration("timeout", timeout))
		return fmt.Errorf("%s timed out after %v: %w", op, timeout, opCtx.Err())
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating.", zap.String("url", url))
	return p.runTimed(ctx, "navigate", p.timeouts.Navigation, chromedp.Navigate(url))
}

// Type focuses selector and sends text as key events.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.runTimed(ctx, "type into "+selector, p.timeouts.Action,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Click clicks the first element matching selector once it is visible.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.runTimed(ctx, "click "+selector, p.timeouts.Action, chromedp.Click(selector, chromedp.ByQuery))
}

// Submit clicks selector and waits for the navigation it causes to finish loading.
func (p *Page) Submit(ctx context.Context, selector string) error {
	listenCtx, stop := context.WithCancel(p.ctx)
	defer stop()

	loaded := make(chan struct{}, 1)
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	if err := p.Click(ctx, selector); err != nil {
		return err
	}

	timer := time.NewTimer(p.timeouts.Navigation)
	defer timer.Stop()
	select {
	case <-loaded:
		return nil
	case <-timer.C:
		return fmt.Errorf("navigation after clicking %s timed out after %v: %w", selector, p.timeouts.Navigation, context.DeadlineExceeded)
	case <-ctx.Done():
		return fmt.Errorf("submit interrupted: %w", ctx.Err())
	}
}

// WaitForSelector waits for selector to be ready in the document. When the
// wait expires a one-shot query decides between not found and timed out.
func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (WaitResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	err := p.runActions(opCtx, chromedp.WaitReady(selector, chromedp.ByQuery))
	cancel()
	if err == nil {
		return WaitFound, nil
	}
	if ctx.Err() != nil {
		return WaitTimedOut, ctx.Err()
	}

	count, cerr := p.count(ctx, selector)
	switch {
	case cerr != nil:
		p.logger.Debug("Presence check failed after wait.", zap.String("selector", selector), zap.Error(cerr))
		return WaitTimedOut, nil
	case count > 0:
		return WaitFound, nil
	default:
		return WaitNotFound, nil
	}
}

func (p *Page) count(ctx context.Context, selector string) (int, error) {
	var nodes []*cdp.Node
	opCtx, cancel := context.WithTimeout(ctx, presenceCheckTimeout)
	defer cancel()
	if err := p.runActions(opCtx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// WaitForNewContext listens for a target opened by this page, runs trigger,
// and attaches to the new target once it appears. Targets this page opened
// earlier and nobody attached to are closed first. When the wait fails, a
// target that still shows up within lateTargetWindow is closed.
func (p *Page) WaitForNewContext(ctx context.Context, timeout time.Duration, trigger func(context.Context) error) (Engine, error) {
	opener := target.ID(p.targetID())
	p.late.halt()
	p.closeStrays(ctx, opener)

	listenCtx, stop := context.WithCancel(p.ctx)
	created := chromedp.WaitNewTarget(listenCtx, func(info *target.Info) bool {
		return info.OpenerID == opener
	})
	abandon := func() {
		p.late.start(stop, func() {
			drainLate(created, listenCtx.Done(), stop, lateTargetWindow, p.closeLate)
		})
	}

	if err := trigger(ctx); err != nil {
		abandon()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var id target.ID
	select {
	case id = <-created:
		stop()
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("%w within %v", ErrNoNewContext, timeout)
	case <-ctx.Done():
		abandon()
		return nil, fmt.Errorf("waiting for new context interrupted: %w", ctx.Err())
	}

	tabCtx, cancel := chromedp.NewContext(p.ctx, chromedp.WithTargetID(id))
	attachCtx, attachCancel := CombineContext(tabCtx, ctx)
	defer attachCancel()
	if err := chromedp.Run(attachCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to new context %s: %w", id, err)
	}

	p.logger.Debug("Attached to new browsing context.", zap.String("new_target_id", string(id)))
	return newPage(tabCtx, cancel, p.logger, p.timeouts), nil
}

// drainLate waits up to window for a target announced on created and hands
// it to closeTarget. It returns early when done is closed, and always calls
// stop to release the listener.
func drainLate(created <-chan target.ID, done <-chan struct{}, stop context.CancelFunc, window time.Duration, closeTarget func(target.ID)) {
	defer stop()
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case id, ok := <-created:
		if ok {
			closeTarget(id)
		}
	case <-timer.C:
	case <-done:
	}
}

// pendingDrain tracks the drain left behind by the last failed wait. A new
// wait halts it first so it cannot take the next row's context.
type pendingDrain struct {
	mu   sync.Mutex
	stop func()
}

// start runs drain in the background. cancel must make drain return.
func (d *pendingDrain) start(cancel context.CancelFunc, drain func()) {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		drain()
	}()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.stop = func() {
		cancel()
		<-finished
	}
}

// halt stops the pending drain, if any, and waits for it to return.
func (d *pendingDrain) halt() {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// strayTargets returns the page targets opened by opener that no client is
// attached to.
func strayTargets(infos []*target.Info, opener target.ID) []target.ID {
	var ids []target.ID
	for _, info := range infos {
		if info == nil || opener == "" || info.OpenerID != opener {
			continue
		}
		if info.Type != "page" || info.Attached {
			continue
		}
		ids = append(ids, info.TargetID)
	}
	return ids
}

// closeStrays closes page targets opened by opener that were never attached,
// such as a window that appeared after an earlier wait gave up.
func (p *Page) closeStrays(ctx context.Context, opener target.ID) {
	opCtx, cancel := context.WithTimeout(ctx, presenceCheckTimeout)
	defer cancel()
	runCtx, runCancel := CombineContext(p.ctx, opCtx)
	defer runCancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		p.logger.Debug("Could not list targets.", zap.Error(err))
		return
	}
	for _, id := range strayTargets(infos, opener) {
		if err := p.closeTarget(runCtx, id); err != nil {
			p.logger.Debug("Failed to close stray context.", zap.String("stray_target_id", string(id)), zap.Error(err))
			continue
		}
		p.logger.Debug("Closed stray context.", zap.String("stray_target_id", string(id)))
	}
}

// closeLate closes a target that appeared after its wait had already failed.
func (p *Page) closeLate(id target.ID) {
	ctx, cancel := context.WithTimeout(Detach(p.ctx), closeTimeout)
	defer cancel()
	if err := p.closeTarget(ctx, id); err != nil {
		p.logger.Debug("Failed to close late context.", zap.String("late_target_id", string(id)), zap.Error(err))
		return
	}
	p.logger.Debug("Closed late context.", zap.String("late_target_id", string(id)))
}

// closeTarget closes id through the browser connection, so it works for
// targets this page is not attached to.
func (p *Page) closeTarget(ctx context.Context, id target.ID) error {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Browser == nil {
		return errors.New("no browser connection")
	}
	return target.CloseTarget(id).Do(cdp.WithExecutor(ctx, c.Browser))
}

// Snapshot returns the outer HTML of the document element.
func (p *Page) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := p.runTimed(ctx, "snapshot", p.timeouts.Action, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Evaluate runs script in the page and unmarshals its result into res.
func (p *Page) Evaluate(ctx context.Context, script string, res interface{}) error {
	return p.runTimed(ctx, "evaluate", p.timeouts.Action, chromedp.Evaluate(script, res))
}

// Screenshot captures the full page as PNG into path, creating parent directories.
func (p *Page) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.runTimed(ctx, "screenshot", p.timeouts.Action, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// Cookies returns every cookie visible to the page.
func (p *Page) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	var cookies []*network.Cookie
	err := p.runTimed(ctx, "get cookies", p.timeouts.Action, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return fromNetworkCookies(cookies), nil
}

// SetCookies installs cookies into the browser.
func (p *Page) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := toCookieParams(cookies)
	return p.runTimed(ctx, "set cookies", p.timeouts.Action, chromedp.ActionFunc(func(c context.Context) error {
		return network.SetCookies(params).Do(c)
	}))
}

// FrameNames walks the frame tree and returns every named child frame.
func (p *Page) FrameNames(ctx context.Context) ([]string, error) {
	var tree *page.FrameTree
	err := p.runTimed(ctx, "frame tree", p.timeouts.Action, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}

	var names []string
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		for _, child := range t.ChildFrames {
			if child.Frame != nil && child.Frame.Name != "" {
				names = append(names, child.Frame.Name)
			}
			walk(child)
		}
	}
	if tree != nil {
		walk(tree)
	}
	return names, nil
}

// Close closes the target. It is safe to call more than once and works
// after ctx has expired.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()

		if p.ctx.Err() == nil {
			err := p.runActions(closeCtx, chromedp.ActionFunc(func(c context.Context) error {
				return page.Close().Do(c)
			}))
			if err != nil && !errors.Is(err, context.Canceled) {
				p.closeErr = fmt.Errorf("failed to close page: %w", err)
			}
		}
		p.cancel()
		p.late.halt()
		if p.onClose != nil {
			p.onClose()
		}
		p.logger.Debug("Page closed.")
	})
	return p.closeErr
}
