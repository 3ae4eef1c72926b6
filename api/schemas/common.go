package schemas

import (
	"time"
)

// -- Common Schemas --

// Credential holds a username and password pair.
type Credential struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"-" yaml:"-"`
}

// ErrorKind classifies failures so that callers can decide between retrying,
// skipping a row, or aborting a run without string matching.
type ErrorKind string

const (
	KindAuthentication    ErrorKind = "AUTHENTICATION"
	KindListingTimeout    ErrorKind = "LISTING_TIMEOUT"
	KindListingParse      ErrorKind = "LISTING_PARSE"
	KindDetailOpenTimeout ErrorKind = "DETAIL_OPEN_TIMEOUT"
	KindDetailParse       ErrorKind = "DETAIL_PARSE"
	KindSessionPersist    ErrorKind = "SESSION_PERSIST"
	KindRunTimeout        ErrorKind = "RUN_TIMEOUT"
	KindUnknown           ErrorKind = "UNKNOWN"
)

// -- Result Schemas --

// RowFailure records a single listing row that could not be harvested.
type RowFailure struct {
	RowIndex   int       `json:"row_index" yaml:"row_index"`
	ExternalID string    `json:"external_id" yaml:"external_id"`
	Kind       ErrorKind `json:"kind" yaml:"kind"`
	Reason     string    `json:"reason" yaml:"reason"`
}

// HarvestResult is the finalized output of one harvest run for one portal.
// Orders keep the listing's row order regardless of which rows failed.
type HarvestResult struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	Portal     string           `json:"portal" yaml:"portal"`
	Filter     ListingFilter    `json:"filter" yaml:"filter"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Success    bool             `json:"success" yaml:"success"`
	Orders     []HarvestedOrder `json:"orders" yaml:"orders"`
	Failures   []RowFailure     `json:"failures" yaml:"failures"`
}

// Duration reports the wall-clock time the run took.
func (r *HarvestResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
