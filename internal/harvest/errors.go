package harvest

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// Run stages reported in RunError.At.
const (
	StageOpen    = "open_page"
	StageAuth    = "authentication"
	StageListing = "listing"
	StageRows    = "rows"
)

// RunTimeoutError means the run exceeded its overall budget.
type RunTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("run exceeded %v: %v", e.Timeout, e.Err)
}

func (e *RunTimeoutError) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *RunTimeoutError) Kind() schemas.ErrorKind { return schemas.KindRunTimeout }

// RunError is an error that aborted a run.
type RunError struct {
	Portal string
	Filter schemas.ListingFilter
	At     string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("harvest of %s (%s to %s) aborted at %s: %v",
		e.Portal, e.Filter.DateFrom, e.Filter.DateTo, e.At, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Kind returns the kind of the underlying error.
func (e *RunError) Kind() schemas.ErrorKind { return KindOf(e.Err) }

// KindOf returns the first error kind found in err's chain.
func KindOf(err error) schemas.ErrorKind {
	var k interface{ Kind() schemas.ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return schemas.KindUnknown
}
