package browser

import "context"

// CombineContext returns a context carrying tab's values that is canceled when
// either tab or op is done. chromedp finds its target through context values,
// so the tab context must be the parent; op only contributes its deadline or
// cancellation. The cause of an op-side cancellation is kept.
func CombineContext(tab, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(tab)
	stop := context.AfterFunc(op, func() {
		cancel(context.Cause(op))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Detach returns a context with ctx's values that ctx can no longer cancel.
// Cleanup paths use it to close browsing contexts after the run context has
// already expired.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
