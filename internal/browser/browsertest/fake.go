// Package browsertest provides an in-memory browser.Engine for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
)

// Fake is a scriptable browsing context. Documents are served from Pages
// keyed by URL prefix; selector waits are answered from the current document
// unless a hook or a fixed result says otherwise. Hooks run with the fake's
// lock released.
type Fake struct {
	mu sync.Mutex

	// Pages maps a URL prefix to the HTML served after navigating there.
	Pages map[string]string
	// HTML is the current document.
	HTML string
	URL  string

	// Waits pins the result for specific selectors.
	Waits map[string]browser.WaitResult

	OnNavigate func(f *Fake, url string) error
	OnClick    func(f *Fake, selector string) error
	OnSubmit   func(f *Fake, selector string) error
	OnEvaluate func(f *Fake, script string, res interface{}) error

	// Popups are handed out in order by WaitForNewContext. A nil entry
	// simulates a context that never opens.
	Popups []*Fake

	Jar    []schemas.Cookie
	Frames []string

	// Calls records every operation as "op:arg".
	Calls       []string
	Screenshots []string
	Closed      bool
}

var _ browser.Engine = (*Fake)(nil)

// New returns a fake serving pages.
func New(pages map[string]string) *Fake {
	return &Fake{Pages: pages, Waits: map[string]browser.WaitResult{}}
}

func (f *Fake) record(op, arg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op+":"+arg)
}

// SetHTML replaces the current document.
func (f *Fake) SetHTML(html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HTML = html
}

// SetWait pins the wait result for selector.
func (f *Fake) SetWait(selector string, r browser.WaitResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Waits == nil {
		f.Waits = map[string]browser.WaitResult{}
	}
	f.Waits[selector] = r
}

// CallsWithPrefix returns the recorded calls for one operation.
func (f *Fake) CallsWithPrefix(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if strings.HasPrefix(c, op+":") {
			out = append(out, strings.TrimPrefix(c, op+":"))
		}
	}
	return out
}

func (f *Fake) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("navigate", url)
	if f.OnNavigate != nil {
		if err := f.OnNavigate(f, url); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.URL = url
	best := -1
	for prefix, html := range f.Pages {
		if strings.HasPrefix(url, prefix) && len(prefix) > best {
			best = len(prefix)
			f.HTML = html
		}
	}
	if best < 0 {
		f.HTML = "<html><body></body></html>"
	}
	return nil
}

func (f *Fake) Type(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("type", selector)
	return nil
}

func (f *Fake) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("click", selector)
	if f.OnClick != nil {
		return f.OnClick(f, selector)
	}
	return nil
}

func (f *Fake) Submit(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("submit", selector)
	if f.OnSubmit != nil {
		return f.OnSubmit(f, selector)
	}
	return nil
}

func (f *Fake) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (browser.WaitResult, error) {
	if err := ctx.Err(); err != nil {
		return browser.WaitTimedOut, err
	}
	f.record("wait", selector)

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.Waits[selector]; ok {
		return r, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(f.HTML))
	if err != nil {
		return browser.WaitTimedOut, nil
	}
	if doc.Find(selector).Length() > 0 {
		return browser.WaitFound, nil
	}
	return browser.WaitNotFound, nil
}

func (f *Fake) WaitForNewContext(ctx context.Context, timeout time.Duration, trigger func(context.Context) error) (browser.Engine, error) {
	if err := trigger(ctx); err != nil {
		return nil, err
	}
	f.record("new_context", "")

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Popups) == 0 {
		return nil, fmt.Errorf("%w within %v", browser.ErrNoNewContext, timeout)
	}
	next := f.Popups[0]
	f.Popups = f.Popups[1:]
	if next == nil {
		return nil, fmt.Errorf("%w within %v", browser.ErrNoNewContext, timeout)
	}
	return next, nil
}

func (f *Fake) Snapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.record("snapshot", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HTML, nil
}

func (f *Fake) Evaluate(ctx context.Context, script string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("evaluate", script)
	if f.OnEvaluate != nil {
		return f.OnEvaluate(f, script, res)
	}
	return nil
}

func (f *Fake) Screenshot(ctx context.Context, path string) error {
	f.record("screenshot", path)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Screenshots = append(f.Screenshots, path)
	return nil
}

func (f *Fake) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.record("cookies", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schemas.Cookie(nil), f.Jar...), nil
}

func (f *Fake) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.record("set_cookies", fmt.Sprint(len(cookies)))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Jar = append([]schemas.Cookie(nil), cookies...)
	return nil
}

func (f *Fake) FrameNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Frames...), nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.record("close", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (f *Fake) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Opener hands out prepared fakes in order, one per Open call.
type Opener struct {
	mu     sync.Mutex
	Pages  []*Fake
	Opened int
	Err    error
}

var _ browser.Opener = (*Opener)(nil)

func (o *Opener) Open(ctx context.Context) (browser.Engine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	if len(o.Pages) == 0 {
		return nil, fmt.Errorf("no prepared page")
	}
	next := o.Pages[0]
	o.Pages = o.Pages[1:]
	o.Opened++
	return next, nil
}
