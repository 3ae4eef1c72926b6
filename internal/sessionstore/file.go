package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileStore keeps each session as a JSON file named after its key.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory is created on first save.
func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logger.Named("sessionstore.file")}
}

// Path returns the file backing key. The key is path escaped, so distinct
// keys never share a file and none can leave the directory.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *FileStore) Load(ctx context.Context, key string) (*schemas.Session, bool) {
	if validKey(key) != nil {
		return nil, false
	}
	path := s.Path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("No stored session found.", zap.String("key", key))
		} else {
			s.logger.Warn("Could not read stored session.", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}

	var session schemas.Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Warn("Stored session is corrupt, ignoring it.", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	if session.Empty() {
		return nil, false
	}
	session.Key = key
	return &session, true
}

// Save writes the session to a temporary file and renames it into place, so
// a failed write leaves the previous record intact.
func (s *FileStore) Save(ctx context.Context, session *schemas.Session) error {
	if session == nil {
		return &PersistError{Err: fmt.Errorf("nil session")}
	}
	if err := validKey(session.Key); err != nil {
		return &PersistError{Key: session.Key, Err: err}
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to encode session: %w", err)}
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to create session directory: %w", err)}
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to create temp file: %w", err)}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to write session: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to flush session: %w", err)}
	}
	if err := os.Rename(tmpName, s.Path(session.Key)); err != nil {
		return &PersistError{Key: session.Key, Err: fmt.Errorf("failed to replace session file: %w", err)}
	}

	s.logger.Info("Session saved.", zap.String("key", session.Key), zap.Int("cookies", len(session.Cookies)))
	return nil
}
