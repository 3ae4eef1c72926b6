package harvest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
)

const listingPrefix = "https://www.comercionet.cl/listadoDocumentos.php"

const detailHTML = `<html><body>
<table class="tabla-ord_wm"><tbody><tr><th>Emisor:</th><td>WALMART CHILE S.A.</td></tr></tbody></table>
<table class="tabla-ord_wm"><tbody><tr><th>Número de Orden de Compra:</th><td>%s</td></tr></tbody></table>
<table class="tabla-ord_wm"><tbody><tr><th>Obs</th><td>-</td></tr></tbody></table>
<table class="tabla-ord_wm"><tbody>
<tr><td>1</td><td>7801</td><td>A1</td><td>P1</td><td>UN</td><td>Arroz</td><td>10</td><td>1.000</td><td>12</td><td>1</td><td>10.000</td></tr>
<tr><td>grado 1</td></tr>
</tbody></table>
<table class="tabla-ord_wm"><tbody><tr><td>Contacto</td><td>compras@example.com</td></tr></tbody></table>
</body></html>`

func listingHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="tabla"><tr><th></th><th>Número</th></tr>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<tr><td><input type="radio" value="%s"></td><td>%s</td><td>1KB</td><td>02/05/2024</td><td>CD</td><td>Cencosud</td><td>Nuevo</td></tr>`, id, id)
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}

type memoryStore struct {
	mu      sync.Mutex
	session *schemas.Session
}

func (m *memoryStore) Load(ctx context.Context, key string) (*schemas.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, !m.session.Empty()
}

func (m *memoryStore) Save(ctx context.Context, s *schemas.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	return nil
}

func restoredStore() *memoryStore {
	return &memoryStore{session: &schemas.Session{
		Key:     "comercionet",
		Cookies: []schemas.Cookie{{Name: "PHPSESSID", Value: "abc"}},
	}}
}

type recordingSink struct {
	name    string
	err     error
	results []*schemas.HarvestResult
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, r *schemas.HarvestResult) error {
	s.results = append(s.results, r)
	return s.err
}

type openerFunc func(ctx context.Context) (browser.Engine, error)

func (f openerFunc) Open(ctx context.Context) (browser.Engine, error) { return f(ctx) }

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Timeouts = config.TimeoutsConfig{
		Navigation:  time.Second,
		FrameProbe:  50 * time.Millisecond,
		ListingWait: 50 * time.Millisecond,
		NewContext:  50 * time.Millisecond,
		DetailReady: 50 * time.Millisecond,
		Action:      time.Second,
	}
	cfg.Harvest.RunTimeout = 5 * time.Second
	return cfg
}

func testIdentity() portal.Identity {
	return portal.Identity{
		Name:       "comercionet",
		BaseURL:    "https://www.comercionet.cl",
		SessionKey: "comercionet",
		Profile:    portal.ComercioNet(),
	}
}

// authenticatedPage returns a primary context whose stored session is
// accepted and whose listing shows ids.
func authenticatedPage(ids ...string) *browsertest.Fake {
	page := browsertest.New(map[string]string{listingPrefix: listingHTML(ids...)})
	for _, sel := range portal.ComercioNet().FrameSelectors {
		page.SetWait(sel, browser.WaitFound)
	}
	return page
}

func detailPopup(orderNumber string) *browsertest.Fake {
	p := browsertest.New(nil)
	p.SetHTML(fmt.Sprintf(detailHTML, orderNumber))
	return p
}

func newOrchestrator(t *testing.T, cfg *config.Config, opener browser.Opener, store *memoryStore, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, zaptest.NewLogger(t), testIdentity(), opener, store, opts...)
	require.NoError(t, err)
	o.newID = func() string { return "run-1" }
	return o
}

func testFilter() schemas.ListingFilter {
	return testIdentity().DefaultFilter("2024-05-01", "2024-05-02")
}

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(nil, zaptest.NewLogger(t), testIdentity(), &browsertest.Opener{}, &memoryStore{})
	assert.Error(t, err)
	_, err = New(testConfig(), zaptest.NewLogger(t), testIdentity(), nil, &memoryStore{})
	assert.Error(t, err)
}

func TestRun_RowFailureIsIsolated(t *testing.T) {
	page := authenticatedPage("1001", "1002", "1003")
	popup1, popup3 := detailPopup("OC-1"), detailPopup("OC-3")
	page.Popups = []*browsertest.Fake{popup1, nil, popup3}
	opener := &browsertest.Opener{Pages: []*browsertest.Fake{page}}
	sink := &recordingSink{name: "memory"}

	o := newOrchestrator(t, testConfig(), opener, restoredStore(), WithSinks(sink))
	// Pending documents received between the 20th and the 28th of December.
	filter := testIdentity().DefaultFilter("2024-12-20", "2024-12-28")
	result, err := o.Run(context.Background(), filter)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, filter, result.Filter)
	var listed []string
	for _, u := range page.CallsWithPrefix("navigate") {
		if strings.HasPrefix(u, listingPrefix) {
			listed = append(listed, u)
		}
	}
	require.Len(t, listed, 1)
	assert.Contains(t, listed[0], "fecha_inicio=2024-12-20")
	assert.Contains(t, listed[0], "fecha_termino=2024-12-28")
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, "comercionet", result.Portal)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	require.Len(t, result.Orders, 2)
	assert.Equal(t, "1001", result.Orders[0].Summary.ExternalID)
	assert.Equal(t, "OC-1", result.Orders[0].Detail.PurchaseOrderNumber)
	assert.Equal(t, "1003", result.Orders[1].Summary.ExternalID)
	assert.Equal(t, "OC-3", result.Orders[1].Detail.PurchaseOrderNumber)
	require.Len(t, result.Orders[1].Detail.LineItems, 1)
	assert.Equal(t, "grado 1", result.Orders[1].Detail.LineItems[0].Observation)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].RowIndex)
	assert.Equal(t, "1002", result.Failures[0].ExternalID)
	assert.Equal(t, schemas.KindDetailOpenTimeout, result.Failures[0].Kind)

	assert.True(t, popup1.IsClosed())
	assert.True(t, popup3.IsClosed())
	assert.True(t, page.IsClosed(), "primary context is released")
	assert.Empty(t, page.CallsWithPrefix("submit"), "restored session needs no login")

	require.Len(t, sink.results, 1)
	assert.Same(t, result, sink.results[0])
}

func TestRun_EmptyListing(t *testing.T) {
	opener := &browsertest.Opener{Pages: []*browsertest.Fake{authenticatedPage()}}

	result, err := newOrchestrator(t, testConfig(), opener, restoredStore()).Run(context.Background(), testFilter())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Orders)
	assert.Empty(t, result.Failures)
}

func TestRun_AuthenticationFailureAborts(t *testing.T) {
	page := browsertest.New(nil)
	for _, sel := range portal.ComercioNet().FrameSelectors {
		page.SetWait(sel, browser.WaitNotFound)
	}
	opener := &browsertest.Opener{Pages: []*browsertest.Fake{page}}
	sink := &recordingSink{name: "memory"}

	result, err := newOrchestrator(t, testConfig(), opener, &memoryStore{}, WithSinks(sink)).Run(context.Background(), testFilter())

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageAuth, runErr.At)
	assert.Equal(t, "comercionet", runErr.Portal)
	assert.Equal(t, schemas.KindAuthentication, runErr.Kind())

	require.NotNil(t, result)
	assert.False(t, result.Success)
	for _, u := range page.CallsWithPrefix("navigate") {
		assert.NotContains(t, u, "listadoDocumentos", "listing never requested")
	}
	assert.True(t, page.IsClosed())
	assert.Len(t, sink.results, 1, "aborted runs still reach the sinks")
}

func TestRun_ListingTimeoutAborts(t *testing.T) {
	page := authenticatedPage()
	page.SetWait("table.tabla", browser.WaitTimedOut)
	opener := &browsertest.Opener{Pages: []*browsertest.Fake{page}}

	_, err := newOrchestrator(t, testConfig(), opener, restoredStore()).Run(context.Background(), testFilter())

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageListing, runErr.At)
	assert.Equal(t, schemas.KindListingTimeout, KindOf(err))
}

func TestRun_OpenFailure(t *testing.T) {
	opener := &browsertest.Opener{Err: errors.New("browser is not running")}

	_, err := newOrchestrator(t, testConfig(), opener, restoredStore()).Run(context.Background(), testFilter())
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageOpen, runErr.At)
}

// stallingPage never opens a detail context and blocks until ctx ends.
type stallingPage struct{ *browsertest.Fake }

func (s stallingPage) WaitForNewContext(ctx context.Context, timeout time.Duration, trigger func(context.Context) error) (browser.Engine, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_Timeout(t *testing.T) {
	page := authenticatedPage("1001", "1002")
	opener := openerFunc(func(ctx context.Context) (browser.Engine, error) { return stallingPage{page}, nil })
	cfg := testConfig()
	cfg.Harvest.RunTimeout = 100 * time.Millisecond

	result, err := newOrchestrator(t, cfg, opener, restoredStore()).Run(context.Background(), testFilter())

	var timeoutErr *RunTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, schemas.KindRunTimeout, KindOf(err))
	assert.False(t, result.Success)
	assert.Empty(t, result.Failures, "an expired run is not a row failure")
	assert.True(t, page.IsClosed(), "primary context is released on timeout")
}

func TestRun_CallerCancellationIsNotATimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	page := authenticatedPage("1001")
	opener := openerFunc(func(context.Context) (browser.Engine, error) {
		cancel()
		return page, nil
	})

	_, err := newOrchestrator(t, testConfig(), opener, restoredStore()).Run(ctx, testFilter())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var timeoutErr *RunTimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}

func TestRun_SinkFailureIsNotFatal(t *testing.T) {
	opener := &browsertest.Opener{Pages: []*browsertest.Fake{authenticatedPage()}}
	failing := &recordingSink{name: "broken", err: errors.New("disk full")}
	after := &recordingSink{name: "after"}

	result, err := newOrchestrator(t, testConfig(), opener, restoredStore(), WithSinks(failing, after)).Run(context.Background(), testFilter())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, after.results, 1, "later sinks still run")
}

func TestRun_RowPacing(t *testing.T) {
	page := authenticatedPage("1001", "1002", "1003")
	page.Popups = []*browsertest.Fake{detailPopup("a"), detailPopup("b"), detailPopup("c")}
	opener := &browsertest.Opener{Pages: []*browsertest.Fake{page}}
	cfg := testConfig()
	cfg.Harvest.RowDelay = 40 * time.Millisecond

	start := time.Now()
	result, err := newOrchestrator(t, cfg, opener, restoredStore()).Run(context.Background(), testFilter())
	require.NoError(t, err)
	assert.Len(t, result.Orders, 3)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "rows after the first wait for the limiter")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, schemas.KindUnknown, KindOf(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", &RunTimeoutError{Err: context.DeadlineExceeded})
	assert.Equal(t, schemas.KindRunTimeout, KindOf(wrapped))
}
