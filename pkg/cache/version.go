package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/afero"

	"github.com/platinummonkey/gpureport/pkg/observability"
)

// VersionMarker records which build produced the files of a disk cache root
type VersionMarker struct {
	MajorVersion int       `json:"majorVersion"`
	Version      string    `json:"version,omitempty"`
	WrittenAt    time.Time `json:"writtenAt"`
}

// VersionGuard invalidates the disk tier when the running build's major version
// differs from the one that wrote it.
type VersionGuard struct {
	fs      afero.Fs
	root    string
	major   int
	version string
	clock   quartz.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewVersionGuard creates a guard for root. version is informational and only
// stored in the marker.
func NewVersionGuard(fs afero.Fs, root string, major int, version string, clock quartz.Clock, logger *observability.Logger) *VersionGuard {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &VersionGuard{
		fs:      fs,
		root:    root,
		major:   major,
		version: version,
		clock:   clock,
		logger:  logger.WithComponent("version_guard"),
	}
}

// WithMetrics counts wipes in metrics
func (g *VersionGuard) WithMetrics(metrics *observability.Metrics) *VersionGuard {
	g.metrics = metrics
	return g
}

// Check must run before the disk tier serves any read.
//
// A missing marker is written without touching other files. A marker with another
// major version, or one that cannot be read, causes every other file under the
// root to be deleted before a fresh marker is written. Delete failures are logged
// and do not stop the check; only failing to write the marker is an error.
func (g *VersionGuard) Check() (wiped bool, err error) {
	if exists, _ := afero.DirExists(g.fs, g.root); !exists {
		if err := g.fs.MkdirAll(g.root, 0o755); err != nil {
			return false, fmt.Errorf("failed to create cache root %s: %w", g.root, err)
		}
	}

	marker, err := g.ReadMarker()
	switch {
	case errors.Is(err, os.ErrNotExist):
		g.logger.WithField("major_version", g.major).Info("No cache version marker, writing a new one")
		return false, g.writeMarker()
	case err != nil:
		g.logger.WithError(err).Warn("Unreadable cache version marker, treating cache as incompatible")
	case marker.MajorVersion == g.major:
		return false, nil
	default:
		g.logger.WithFields(map[string]interface{}{
			"cached_major":  marker.MajorVersion,
			"running_major": g.major,
		}).Info("Cache major version changed, wiping disk cache")
	}

	// partial wipes are tolerated, clearRoot already logged each failure
	_ = clearRoot(g.fs, g.root, g.logger)
	g.metrics.RecordVersionWipe()

	return true, g.writeMarker()
}

// ReadMarker loads the marker. A missing marker yields an error matching
// os.ErrNotExist.
func (g *VersionGuard) ReadMarker() (VersionMarker, error) {
	var marker VersionMarker
	raw, err := afero.ReadFile(g.fs, g.markerPath())
	if err != nil {
		return marker, err
	}
	if err := json.Unmarshal(raw, &marker); err != nil {
		return marker, fmt.Errorf("failed to decode version marker: %w", err)
	}
	return marker, nil
}

func (g *VersionGuard) writeMarker() error {
	data, err := json.MarshalIndent(VersionMarker{
		MajorVersion: g.major,
		Version:      g.version,
		WrittenAt:    g.clock.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal version marker: %w", err)
	}
	if err := afero.WriteFile(g.fs, g.markerPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	return nil
}

func (g *VersionGuard) markerPath() string {
	return filepath.Join(g.root, MarkerFile)
}
