// internal/browser/engine.go
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// WaitResult is the outcome of waiting for an element.
type WaitResult int

const (
	// WaitNotFound means the page answered and the element is not there.
	WaitNotFound WaitResult = iota
	// WaitFound means the element appeared within the timeout.
	WaitFound
	// WaitTimedOut means the page could not be queried within the timeout.
	WaitTimedOut
)

func (r WaitResult) String() string {
	switch r {
	case WaitFound:
		return "found"
	case WaitTimedOut:
		return "timed_out"
	default:
		return "not_found"
	}
}

// ErrNoNewContext is returned when an action was expected to open a new
// browsing context and none appeared in time.
var ErrNoNewContext = errors.New("no new browsing context opened")

// Engine is the browsing capability the harvesting components drive. A value
// represents one browsing context (a tab or a popup window).
//
// Every blocking call honours ctx. Timeouts surface as errors wrapping
// context.DeadlineExceeded.
type Engine interface {
	Navigate(ctx context.Context, url string) error
	Type(ctx context.Context, selector, text string) error
	Click(ctx context.Context, selector string) error
	// Submit clicks selector and waits for the navigation it triggers.
	Submit(ctx context.Context, selector string) error
	// WaitForSelector waits up to timeout for selector. The error is only
	// set when ctx itself ended.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (WaitResult, error)
	// WaitForNewContext arms a listener for a context opened by this one,
	// runs trigger, and waits up to timeout for the new context to attach.
	// Expiry yields an error wrapping ErrNoNewContext.
	WaitForNewContext(ctx context.Context, timeout time.Duration, trigger func(context.Context) error) (Engine, error)
	// Snapshot returns the outer HTML of the current document.
	Snapshot(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, res interface{}) error
	// Screenshot writes a full-page PNG to path.
	Screenshot(ctx context.Context, path string) error
	Cookies(ctx context.Context) ([]schemas.Cookie, error)
	SetCookies(ctx context.Context, cookies []schemas.Cookie) error
	// FrameNames lists the names of the frames attached to the current document.
	FrameNames(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Opener hands out fresh primary browsing contexts.
type Opener interface {
	Open(ctx context.Context) (Engine, error)
}
