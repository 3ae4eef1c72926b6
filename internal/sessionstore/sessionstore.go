// Package sessionstore keeps captured portal sessions between runs.
//
// A stored session is replaced as a whole; records are never merged. A record
// that is missing or unreadable loads as absent so the caller falls back to
// a live login.
package sessionstore

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

// Store persists one session per key.
type Store interface {
	// Load returns the session stored under key. ok is false when there is
	// no usable record.
	Load(ctx context.Context, key string) (session *schemas.Session, ok bool)
	// Save replaces the record for session.Key. Failures are returned as
	// *PersistError.
	Save(ctx context.Context, session *schemas.Session) error
}

// PersistError reports that a session could not be written. It is never
// fatal to a run.
type PersistError struct {
	Key string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("session %q not persisted: %v", e.Key, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Kind classifies the error for run reports.
func (e *PersistError) Kind() schemas.ErrorKind { return schemas.KindSessionPersist }

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("session key is empty")
	}
	return nil
}
