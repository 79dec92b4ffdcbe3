package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/afero"

	"github.com/platinummonkey/gpureport/pkg/observability"
)

// MarkerFile is the version marker kept at the root of the disk tier
const MarkerFile = "Info.json"

const entryExt = ".json"

// envelope is the on-disk form of one entry. Tag and Key are checked on load so a
// file copied into the wrong place is never decoded as something else.
type envelope struct {
	Tag       string          `json:"tag"`
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// DiskStore persists entries as JSON files under root/<tag>/<key>.json
type DiskStore struct {
	fs     afero.Fs
	root   string
	clock  quartz.Clock
	logger *observability.Logger
}

// NewDiskStore creates the root directory if needed
func NewDiskStore(fs afero.Fs, root string, clock quartz.Clock, logger *observability.Logger) (*DiskStore, error) {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root %s: %w", root, err)
	}
	return &DiskStore{
		fs:     fs,
		root:   root,
		clock:  clock,
		logger: logger.WithComponent("disk_cache"),
	}, nil
}

// Load returns the payload stored for tag/key. A ttl of zero never expires.
// Expired and undecodable files are deleted; the former yields ErrCacheMiss, the
// latter ErrCorruptEntry.
func (d *DiskStore) Load(tag, key string, ttl time.Duration) (json.RawMessage, error) {
	if err := validateName(tag); err != nil {
		return nil, err
	}
	if err := validateName(key); err != nil {
		return nil, err
	}
	path := d.path(tag, key)

	info, err := d.fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if ttl > 0 && d.clock.Now().Sub(info.ModTime()) >= ttl {
		d.removeFile(path)
		return nil, ErrCacheMiss
	}

	raw, err := afero.ReadFile(d.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.removeFile(path)
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, path, err)
	}
	if env.Tag != tag || env.Key != key || len(env.Data) == 0 {
		d.removeFile(path)
		return nil, fmt.Errorf("%w: %s: envelope mismatch", ErrCorruptEntry, path)
	}
	return env.Data, nil
}

// Save writes value atomically: a temp file in the same directory is renamed over
// the target, so readers never observe a partial entry.
func (d *DiskStore) Save(tag, key string, value any) error {
	if err := validateName(tag); err != nil {
		return err
	}
	if err := validateName(key); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal entry %s: %w", key, err)
	}
	now := d.clock.Now()
	payload, err := json.Marshal(envelope{Tag: tag, Key: key, CreatedAt: now, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", key, err)
	}

	dir := filepath.Join(d.root, tag)
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(d.fs, dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(payload)
	closeErr := tmp.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}

	path := d.path(tag, key)
	if err := d.fs.Rename(tmpName, path); err != nil {
		_ = d.fs.Remove(tmpName)
		return fmt.Errorf("failed to move entry into %s: %w", path, err)
	}
	// expiry is judged by mtime, which must follow the injected clock
	if err := d.fs.Chtimes(path, now, now); err != nil {
		return fmt.Errorf("failed to stamp %s: %w", path, err)
	}
	return nil
}

// Remove deletes one entry. A missing file is not an error.
func (d *DiskStore) Remove(tag, key string) error {
	if err := validateName(tag); err != nil {
		return err
	}
	if err := validateName(key); err != nil {
		return err
	}
	if err := d.fs.Remove(d.path(tag, key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveTag deletes every entry stored under tag
func (d *DiskStore) RemoveTag(tag string) error {
	if err := validateName(tag); err != nil {
		return err
	}
	return d.fs.RemoveAll(filepath.Join(d.root, tag))
}

// Clear deletes everything under the root except the version marker
func (d *DiskStore) Clear() error {
	return clearRoot(d.fs, d.root, d.logger)
}

// RemoveExpired deletes files older than the TTL of their tag. Tags missing from
// ttls, or mapped to zero, are left alone.
func (d *DiskStore) RemoveExpired(ttls map[string]time.Duration) int {
	now := d.clock.Now()
	removed := 0
	for tag, ttl := range ttls {
		if ttl <= 0 {
			continue
		}
		entries, err := afero.ReadDir(d.fs, filepath.Join(d.root, tag))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != entryExt {
				continue
			}
			if now.Sub(e.ModTime()) >= ttl {
				if d.removeFile(filepath.Join(d.root, tag, e.Name())) {
					removed++
				}
			}
		}
	}
	return removed
}

// Usage counts entry files and their total size
func (d *DiskStore) Usage() (files int, bytes int64, err error) {
	marker := filepath.Join(d.root, MarkerFile)
	err = afero.Walk(d.fs, d.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || path == marker || filepath.Ext(path) != entryExt {
			return nil
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}

func (d *DiskStore) path(tag, key string) string {
	return filepath.Join(d.root, tag, key+entryExt)
}

func (d *DiskStore) removeFile(path string) bool {
	if err := d.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.WithError(err).WithField("path", path).Warn("Failed to delete cache file")
		return false
	}
	return true
}

// clearRoot removes every child of root except the marker. Failures are logged and
// the remaining children are still attempted.
func clearRoot(fs afero.Fs, root string, logger *observability.Logger) error {
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", root, err)
	}

	var errs []error
	for _, e := range entries {
		if e.Name() == MarkerFile {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := fs.RemoveAll(path); err != nil {
			logger.WithError(err).WithField("path", path).Warn("Failed to delete cache path")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func validateName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	return nil
}
