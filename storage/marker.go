package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/db"
	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/version"
)

// FormatVersion is the on-disk format this package reads and writes. Stores
// with a different major version are refused.
const FormatVersion = "1.0.0"

// Marker is the content of store.toml.
type Marker struct {
	FormatVersion string    `toml:"format_version"`
	SchemaVersion string    `toml:"schema_version"`
	StoreID       string    `toml:"store_id"`
	Role          string    `toml:"role"`
	CreatedAt     time.Time `toml:"created_at"`
	CreatedBy     string    `toml:"created_by"`
}

func newMarker() Marker {
	return Marker{
		FormatVersion: FormatVersion,
		SchemaVersion: db.SchemaVersion(),
		StoreID:       uuid.NewString(),
		Role:          RolePrimary.String(),
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		CreatedBy:     version.Get().Short(),
	}
}

// checkCompatible refuses markers written by an incompatible format.
func (m Marker) checkCompatible() error {
	current, err := semver.NewVersion(FormatVersion)
	if err != nil {
		return errors.Wrapf(err, "invalid library format version %s", FormatVersion)
	}
	found, err := semver.NewVersion(m.FormatVersion)
	if err != nil {
		return errors.NewCorruptionError("invalid format version %q in %s", m.FormatVersion, MarkerFile)
	}
	constraint, err := semver.NewConstraint(fmt.Sprintf("^%d", current.Major()))
	if err != nil {
		return errors.Wrap(err, "invalid format constraint")
	}
	if !constraint.Check(found) {
		return errors.WithHintf(
			errors.NewConstraintError("store format %s is not compatible with %s", found, current),
			"open the store with a release that reads format %d.x", found.Major())
	}
	return nil
}

// ensureMarker reads store.toml from dir, writing a fresh one when absent.
func ensureMarker(dir string) (Marker, error) {
	path := filepath.Join(dir, MarkerFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m := newMarker()
		if err := writeMarker(path, m); err != nil {
			return Marker{}, err
		}
		return m, nil
	}
	return readMarker(path)
}

func readMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, errors.Mark(errors.NewIOError(err, "no store at %s", filepath.Dir(path)), errors.ErrNotFound)
		}
		return Marker{}, errors.NewIOError(err, "failed to read store marker %s", path)
	}
	var m Marker
	if err := toml.Unmarshal(data, &m); err != nil {
		return Marker{}, errors.Mark(errors.Wrapf(err, "failed to parse store marker %s", path), errors.ErrCorruption)
	}
	if m.StoreID == "" {
		return Marker{}, errors.NewCorruptionError("store marker %s has no store_id", path)
	}
	if err := m.checkCompatible(); err != nil {
		return Marker{}, err
	}
	return m, nil
}

// writeMarker replaces path atomically.
func writeMarker(path string, m Marker) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to encode store marker")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, am.DefaultFilePermissions); err != nil {
		return errors.NewIOError(err, "failed to write store marker %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.NewIOError(err, "failed to write store marker %s", path)
	}
	return nil
}
