package schemas_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// TestConstants verifies that all error kinds hold their expected string values.
// Run records and forwarded results carry them verbatim.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		constant schemas.ErrorKind
		expected string
	}{
		{schemas.KindAuthentication, "AUTHENTICATION"},
		{schemas.KindListingTimeout, "LISTING_TIMEOUT"},
		{schemas.KindListingParse, "LISTING_PARSE"},
		{schemas.KindDetailOpenTimeout, "DETAIL_OPEN_TIMEOUT"},
		{schemas.KindDetailParse, "DETAIL_PARSE"},
		{schemas.KindSessionPersist, "SESSION_PERSIST"},
		{schemas.KindRunTimeout, "RUN_TIMEOUT"},
		{schemas.KindUnknown, "UNKNOWN"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.expected, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, fmt.Sprint(tc.constant))
		})
	}
}

func TestSessionEmpty(t *testing.T) {
	var nilSession *schemas.Session
	assert.True(t, nilSession.Empty())
	assert.True(t, (&schemas.Session{Key: "comercionet"}).Empty())
	assert.False(t, (&schemas.Session{Cookies: []schemas.Cookie{{Name: "PHPSESSID"}}}).Empty())
}

func TestHarvestResultDuration(t *testing.T) {
	start := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	r := &schemas.HarvestResult{StartedAt: start}
	assert.Zero(t, r.Duration(), "unfinished run")

	r.FinishedAt = start.Add(90 * time.Second)
	assert.Equal(t, 90*time.Second, r.Duration())
}
