package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/artifacts"
	"github.com/xkilldash9x/harvester-cli/internal/browser"
	"github.com/xkilldash9x/harvester-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/harvester-cli/internal/config"
	"github.com/xkilldash9x/harvester-cli/internal/portal"
)

const listingPrefix = "https://www.comercionet.cl/listadoDocumentos.php"

func testIdentity() portal.Identity {
	return portal.Identity{
		Name:       "comercionet",
		BaseURL:    "https://www.comercionet.cl",
		SessionKey: "comercionet",
		Profile:    portal.ComercioNet(),
	}
}

func testFilter() schemas.ListingFilter {
	return schemas.ListingFilter{
		DocumentTypeID: "9",
		Direction:      "recibidos",
		DateFrom:       "2024-05-01",
		DateTo:         "2024-05-02",
		Status:         "0",
	}
}

// listingHTML renders a listing table with n document rows.
func listingHTML(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="tabla"><tr><th></th><th>Número</th><th>Tamaño</th><th>Recepción</th><th>Lugar</th><th>Emisor</th><th>Estado</th></tr>`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<tr><td><input type="radio" name="doc" value="%d"></td><td>%d</td><td>%dKB</td><td>0%d/05/2024</td><td>CD Lo Aguirre</td><td>Cencosud</td><td>Nuevo</td></tr>`, 1000+i, 1000+i, i, i)
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}

func newFetcher(t *testing.T, engine *browsertest.Fake, opts ...Option) *Fetcher {
	t.Helper()
	timeouts := config.TimeoutsConfig{ListingWait: 50 * time.Millisecond}
	return NewFetcher(engine, testIdentity(), timeouts, zaptest.NewLogger(t), opts...)
}

func TestURL(t *testing.T) {
	f := newFetcher(t, browsertest.New(nil))
	filter := testFilter()
	filter.Offset = 50

	u, err := url.Parse(f.URL(filter))
	require.NoError(t, err)
	assert.Equal(t, "/listadoDocumentos.php", u.Path)

	q := u.Query()
	assert.Equal(t, "9", q.Get("tido_id"))
	assert.Equal(t, "recibidos", q.Get("tipo"))
	assert.Equal(t, "2024-05-01", q.Get("fecha_inicio"))
	assert.Equal(t, "2024-05-02", q.Get("fecha_termino"))
	assert.Contains(t, u.RawQuery, "fecha_inicio=2024-05-01", "ISO dates need no escaping")
	assert.Equal(t, "0", q.Get("estado"))
	assert.Equal(t, "50", q.Get("offset"))
}

func TestFetch_PreservesRowOrder(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		t.Run(fmt.Sprintf("%d rows", n), func(t *testing.T) {
			engine := browsertest.New(map[string]string{listingPrefix: listingHTML(n)})
			rows, err := newFetcher(t, engine).Fetch(context.Background(), testFilter())
			require.NoError(t, err)
			require.Len(t, rows, n)

			for i, row := range rows {
				assert.Equal(t, fmt.Sprint(1001+i), row.Summary.ExternalID)
				assert.Equal(t, "Cencosud", row.Summary.Issuer)
				assert.Equal(t, "Nuevo", row.Summary.Status)
				assert.Equal(t, i, row.Handle.Index)
				assert.Equal(t, i+1, row.Handle.DOMIndex)
				assert.Equal(t, fmt.Sprintf(`input[type="radio"][value="%d"]`, 1001+i), row.Handle.ControlSelector)
			}
		})
	}
}

func TestFetch_TableMissing(t *testing.T) {
	for _, res := range []browser.WaitResult{browser.WaitNotFound, browser.WaitTimedOut} {
		t.Run(res.String(), func(t *testing.T) {
			engine := browsertest.New(nil)
			engine.SetWait("table.tabla", res)
			dir := artifacts.New(t.TempDir(), zaptest.NewLogger(t))

			rows, err := newFetcher(t, engine, WithArtifacts(dir, false)).Fetch(context.Background(), testFilter())
			assert.Nil(t, rows)

			var timeoutErr *TimeoutError
			require.ErrorAs(t, err, &timeoutErr)
			assert.Equal(t, res, timeoutErr.Result)
			assert.Equal(t, schemas.KindListingTimeout, timeoutErr.Kind())

			require.Len(t, engine.Screenshots, 1, "failure screenshot is always taken")
			assert.Contains(t, engine.Screenshots[0], "listing_error_occurred")
		})
	}
}

func TestFetch_NavigationFailure(t *testing.T) {
	engine := browsertest.New(nil)
	navErr := errors.New("net::ERR_CONNECTION_RESET")
	engine.OnNavigate = func(f *browsertest.Fake, url string) error { return navErr }

	_, err := newFetcher(t, engine).Fetch(context.Background(), testFilter())
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.ErrorIs(t, err, navErr)
}

func TestFetch_TableVanishesBeforeSnapshot(t *testing.T) {
	engine := browsertest.New(map[string]string{listingPrefix: `<html><body><p>Sesión expirada</p></body></html>`})
	engine.SetWait("table.tabla", browser.WaitFound)
	dir := artifacts.New(t.TempDir(), zaptest.NewLogger(t))

	_, err := newFetcher(t, engine, WithArtifacts(dir, false)).Fetch(context.Background(), testFilter())

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, schemas.KindListingParse, parseErr.Kind())
	assert.Len(t, engine.Screenshots, 1)
}

func TestFetch_Checkpoints(t *testing.T) {
	engine := browsertest.New(map[string]string{listingPrefix: listingHTML(2)})
	dir := artifacts.New(t.TempDir(), zaptest.NewLogger(t))

	_, err := newFetcher(t, engine, WithArtifacts(dir, true)).Fetch(context.Background(), testFilter())
	require.NoError(t, err)

	require.Len(t, engine.Screenshots, 3)
	for i, name := range []string{CheckpointPageLoaded, CheckpointTableFound, CheckpointOrdersExtracted} {
		assert.Contains(t, engine.Screenshots[i], "listing_"+name)
	}
}

func TestFetch_NoArtifactsNoScreenshots(t *testing.T) {
	engine := browsertest.New(nil)
	engine.SetWait("table.tabla", browser.WaitTimedOut)

	_, err := newFetcher(t, engine).Fetch(context.Background(), testFilter())
	require.Error(t, err)
	assert.Empty(t, engine.Screenshots)
}

func TestFetch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher(t, browsertest.New(nil)).Fetch(ctx, testFilter())
	assert.ErrorIs(t, err, context.Canceled)
}
