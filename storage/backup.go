package storage

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/zeebo/blake3"

	"github.com/teranos/quadstore/am"
	"github.com/teranos/quadstore/db"
	"github.com/teranos/quadstore/errors"
	"github.com/teranos/quadstore/logger"
	"github.com/teranos/quadstore/version"
)

// Manifest describes a backup. It is written to MANIFEST.toml next to the
// copied database.
type Manifest struct {
	FormatVersion string           `toml:"format_version"`
	SourceStoreID string           `toml:"source_store_id"`
	StoreID       string           `toml:"store_id"`
	Generation    int64            `toml:"generation"`
	CreatedAt     time.Time        `toml:"created_at"`
	Database      ManifestDatabase `toml:"database"`
	Build         version.Info     `toml:"build"`
}

// ManifestDatabase identifies the copied database file.
type ManifestDatabase struct {
	File   string `toml:"file"`
	Size   int64  `toml:"size"`
	Blake3 string `toml:"blake3"`
}

// Backup writes a consistent, independent copy of the store into target,
// which must not exist. The copy opens as a primary store.
func (s *Storage) Backup(ctx context.Context, target string) (*Manifest, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return nil, errors.WithHint(
			errors.NewConstraintError("backup target %s already exists", target),
			"backups are written into a new directory")
	} else if !os.IsNotExist(err) {
		return nil, errors.NewIOError(err, "failed to inspect backup target %s", target)
	}

	start := time.Now()
	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, am.DefaultDirPermissions); err != nil {
		return nil, errors.NewIOError(err, "failed to create %s", parent)
	}
	if err := s.checkFreeSpace(ctx, parent); err != nil {
		return nil, err
	}
	if err := os.Mkdir(target, am.DefaultDirPermissions); err != nil {
		return nil, errors.NewIOError(err, "failed to create backup directory %s", target)
	}

	manifest, err := s.writeBackup(ctx, target)
	if err != nil {
		os.RemoveAll(target)
		return nil, err
	}

	s.logger.Infow("Backup written",
		logger.FieldPath, target,
		logger.FieldGeneration, manifest.Generation,
		logger.FieldSize, manifest.Database.Size,
		logger.FieldDurationMS, since(start),
	)
	return manifest, nil
}

func (s *Storage) writeBackup(ctx context.Context, target string) (*Manifest, error) {
	dbPath := filepath.Join(target, DatabaseFile)

	// VACUUM INTO reads one consistent snapshot and refuses to run inside an
	// explicit transaction, so it gets its own read-only connection.
	src, err := db.Open(s.DatabasePath(), db.Options{Mode: db.ModeReadOnly, BusyTimeoutMS: s.opts.BusyTimeoutMS}, nil)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	if _, err := src.ExecContext(ctx, "VACUUM INTO ?", dbPath); err != nil {
		return nil, wrapSQL(err, "failed to copy database")
	}

	gen, err := readGeneration(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	marker := newMarker()
	if err := writeMarker(filepath.Join(target, MarkerFile), marker); err != nil {
		return nil, err
	}

	size, sum, err := checksumFile(dbPath)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{
		FormatVersion: FormatVersion,
		SourceStoreID: s.marker.StoreID,
		StoreID:       marker.StoreID,
		Generation:    gen,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
		Database:      ManifestDatabase{File: DatabaseFile, Size: size, Blake3: sum},
		Build:         version.Get(),
	}
	if err := writeManifest(filepath.Join(target, ManifestFile), manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func readGeneration(ctx context.Context, path string) (int64, error) {
	conn, err := db.Open(path, db.Options{Mode: db.ModeReadOnly}, nil)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	var gen int64
	if err := conn.QueryRowContext(ctx, "SELECT value FROM store_meta WHERE key = 'generation'").Scan(&gen); err != nil {
		return 0, wrapSQL(err, "failed to read backup generation")
	}
	return gen, nil
}

// checkFreeSpace refuses a backup that cannot fit next to dir.
func (s *Storage) checkFreeSpace(ctx context.Context, dir string) error {
	var need uint64
	for _, suffix := range []string{"", "-wal"} {
		if fi, err := os.Stat(s.DatabasePath() + suffix); err == nil {
			need += uint64(fi.Size())
		}
	}
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		// Some filesystems do not report usage; VACUUM INTO fails on its own
		// when space runs out.
		s.logger.Warnw("Cannot determine free disk space", logger.FieldPath, dir, logger.FieldError, err)
		return nil
	}
	if usage.Free < need {
		return errors.NewIOError(nil, "insufficient disk space for backup in %s: need %d bytes, %d free", dir, need, usage.Free)
	}
	return nil
}

func checksumFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", errors.NewIOError(err, "failed to open %s", path)
	}
	defer f.Close()
	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", errors.NewIOError(err, "failed to hash %s", path)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func writeManifest(path string, m *Manifest) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIOError(err, "failed to create manifest %s", path)
	}
	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return errors.NewIOError(err, "failed to write manifest %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.NewIOError(err, "failed to write manifest %s", path)
	}
	return nil
}

// ReadManifest parses the MANIFEST.toml of a backup directory.
func ReadManifest(dir string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(filepath.Join(dir, ManifestFile), &m); err != nil {
		return nil, errors.NewIOError(err, "failed to read manifest in %s", dir)
	}
	return &m, nil
}

// VerifyBackup checks the database of a backup against its manifest.
func VerifyBackup(dir string) error {
	m, err := ReadManifest(dir)
	if err != nil {
		return err
	}
	size, sum, err := checksumFile(filepath.Join(dir, m.Database.File))
	if err != nil {
		return err
	}
	if size != m.Database.Size || sum != m.Database.Blake3 {
		return errors.NewCorruptionError("backup %s does not match its manifest", dir)
	}
	return nil
}
