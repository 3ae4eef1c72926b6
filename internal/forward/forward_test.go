package forward

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/config"
)

func sampleResult() *schemas.HarvestResult {
	return &schemas.HarvestResult{
		RunID:   "run-42",
		Portal:  "comercionet",
		Success: true,
		Orders:  []schemas.HarvestedOrder{{Summary: schemas.OrderSummary{ExternalID: "1001"}}},
	}
}

func testConfig(url string) config.ForwardConfig {
	return config.ForwardConfig{
		Enabled: true,
		URL:     url,
		Token:   "s3cret",
		Timeout: 2 * time.Second,
		Retries: 2,
		Headers: map[string]string{"X-Tenant": "acme"},
	}
}

func TestForward(t *testing.T) {
	var got schemas.HarvestResult
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, c.Forward(context.Background(), sampleResult()))

	assert.Equal(t, "run-42", got.RunID)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, "1001", got.Orders[0].Summary.ExternalID)

	assert.Equal(t, "Bearer s3cret", headers.Get("Authorization"))
	assert.Equal(t, "acme", headers.Get("X-Tenant"))
	assert.Equal(t, "run-42", headers.Get("X-Harvest-Run"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
}

func TestForward_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, c.Forward(context.Background(), sampleResult()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestForward_Rejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown portal", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), zaptest.NewLogger(t))
	err := c.Forward(context.Background(), sampleResult())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "unknown portal")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
}

func TestForward_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testConfig(url)
	cfg.Retries = 0
	err := New(cfg, zaptest.NewLogger(t)).Forward(context.Background(), sampleResult())
	assert.ErrorContains(t, err, "failed to post result")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))

	// "ú" is two bytes; cutting at 2 would land inside it.
	assert.Equal(t, "N...", truncate("Número", 2))

	body := strings.Repeat("Número de orden inválido. ", 20)
	for n := 0; n < 64; n++ {
		got := truncate(body, n)
		assert.True(t, utf8.ValidString(got), "cut at %d produced %q", n, got)
		assert.LessOrEqual(t, len(got), n+len("..."))
	}
}
