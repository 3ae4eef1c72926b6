// Package artifacts writes the diagnostic and output files of harvest runs:
// screenshots taken at checkpoints or on failure, and JSON snapshots of
// finalized results.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	screenshotsDir = "screenshots"
	runsDir        = "runs"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Dir is the root directory for all artifacts.
type Dir struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Dir rooted at root. Directories are created lazily.
func New(root string, logger *zap.Logger) *Dir {
	return &Dir{root: root, logger: logger.Named("artifacts"), now: time.Now}
}

// Root returns the artifact root directory.
func (d *Dir) Root() string { return d.root }

// ScreenshotPath returns a timestamped path for a screenshot named name,
// taken on behalf of portal.
func (d *Dir) ScreenshotPath(portal, name string) string {
	stamp := d.now().UTC().Format("20060102T150405.000")
	file := fmt.Sprintf("%s_%s_%s.png", sanitize(portal), sanitize(name), stamp)
	return filepath.Join(d.root, screenshotsDir, file)
}

// SnapshotPath returns where the snapshot of result is written.
func (d *Dir) SnapshotPath(result *schemas.HarvestResult) string {
	stamp := result.StartedAt.UTC().Format("20060102T150405")
	file := fmt.Sprintf("%s_%s_%s.json", sanitize(result.Portal), stamp, sanitize(result.RunID))
	return filepath.Join(d.root, runsDir, file)
}

// WriteSnapshot dumps result as indented JSON and returns the file path.
func (d *Dir) WriteSnapshot(result *schemas.HarvestResult) (string, error) {
	path := d.SnapshotPath(result)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot %s: %w", path, err)
	}
	d.logger.Info("Snapshot written.",
		zap.String("path", path),
		zap.Int("orders", len(result.Orders)),
		zap.Int("failures", len(result.Failures)))
	return path, nil
}

// LoadSnapshot reads a snapshot written by WriteSnapshot.
func LoadSnapshot(path string) (*schemas.HarvestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var result schemas.HarvestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return &result, nil
}

func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	if s == "" {
		return "unnamed"
	}
	return s
}
