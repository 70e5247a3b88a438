// Package backup creates timestamped safety copies of home-directory
// files before dotz overwrites them (forced restore, repair). Files are
// copied as-is; directories are archived as tar.gz.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arthur-debert/dotz/pkg/errors"
	"github.com/arthur-debert/dotz/pkg/logging"
	"github.com/arthur-debert/dotz/pkg/paths"
)

const timestampLayout = "20060102_150405"

// Entry describes one backup on disk.
type Entry struct {
	// Path is the backup file location under the backup directory.
	Path string
	// OriginalPath is the home-relative path the backup was taken from.
	OriginalPath string
	// Operation names what triggered the backup (restore, repair, ...).
	Operation string
	// Timestamp is when the backup was taken.
	Timestamp time.Time
}

// Manager creates and restores backups under the dotz backup directory.
type Manager struct {
	paths paths.Paths
}

// New creates a backup Manager.
func New(p paths.Paths) *Manager {
	return &Manager{paths: p}
}

// Create backs up the file or directory at path before an operation
// overwrites it. Returns the backup location, or empty when path does
// not exist.
func (m *Manager) Create(path, operation string) (string, error) {
	logger := logging.GetLogger("backup")

	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrBackup, "failed to stat %s", path)
	}

	if err := os.MkdirAll(m.paths.BackupDir(), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrBackup, "failed to create backup directory")
	}

	rel, err := m.paths.HomeRelative(path)
	if err != nil {
		rel = filepath.Base(path)
	}

	// The operation must stay a single underscore-separated token or the
	// name cannot be parsed back.
	operation = strings.ReplaceAll(operation, "_", "-")

	name := strings.ReplaceAll(filepath.ToSlash(rel), "/", "_") +
		"_" + operation + "_" + time.Now().Format(timestampLayout)
	if info.IsDir() {
		name += ".tar.gz"
	}
	backupPath := filepath.Join(m.paths.BackupDir(), name)

	if info.IsDir() {
		err = archiveDir(path, backupPath)
	} else {
		err = copyFile(path, backupPath)
	}
	if err != nil {
		return "", err
	}

	logger.Info().Str("path", path).Str("backup", backupPath).Msg("backup created")
	return backupPath, nil
}

// List returns all backups, newest first.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.paths.BackupDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrBackup, "failed to read backup directory")
	}

	var backups []Entry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		entry := parseName(e.Name())
		entry.Path = filepath.Join(m.paths.BackupDir(), e.Name())
		backups = append(backups, entry)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// Restore puts a backup back at its original home location. The current
// content at that location, if any, gets a pre-restore backup first.
func (m *Manager) Restore(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "backup %s not found", backupPath)
	}

	entry := parseName(filepath.Base(backupPath))
	if entry.OriginalPath == "" {
		return errors.Newf(errors.ErrBackup, "cannot parse original path from backup name %s", filepath.Base(backupPath))
	}
	target := filepath.Join(m.paths.Home(), entry.OriginalPath)

	if _, err := os.Lstat(target); err == nil {
		if _, err := m.Create(target, "pre-restore"); err != nil {
			return err
		}
		if err := os.RemoveAll(target); err != nil {
			return errors.Wrapf(err, errors.ErrBackup, "failed to clear %s", target)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to create %s", filepath.Dir(target))
	}

	if strings.HasSuffix(backupPath, ".tar.gz") {
		return extractArchive(backupPath, filepath.Dir(target))
	}
	return copyFile(backupPath, target)
}

// parseName decodes `<path with / replaced by _>_<operation>_<timestamp>`.
// Directory backups additionally carry a .tar.gz suffix. The trailing
// timestamp is identified by shape (two all-digit tokens), then the
// single token before it is the operation; Create guarantees operations
// never contain underscores.
func parseName(name string) Entry {
	name = strings.TrimSuffix(name, ".tar.gz")
	parts := strings.Split(name, "_")
	if len(parts) < 4 {
		return Entry{OriginalPath: name, Operation: "unknown"}
	}

	date, clock := parts[len(parts)-2], parts[len(parts)-1]
	if !allDigits(date) || !allDigits(clock) {
		return Entry{OriginalPath: name, Operation: "unknown"}
	}
	ts, err := time.Parse(timestampLayout, date+"_"+clock)
	if err != nil {
		return Entry{OriginalPath: name, Operation: "unknown"}
	}

	return Entry{
		OriginalPath: strings.Join(parts[:len(parts)-3], "/"),
		Operation:    parts[len(parts)-3],
		Timestamp:    ts,
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to open %s", src)
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to stat %s", src)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.Wrapf(err, errors.ErrBackup, "failed to copy %s", src)
	}
	return out.Close()
}

func archiveDir(dir, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to create %s", dst)
	}
	defer func() { _ = out.Close() }()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	base := filepath.Base(dir)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(base, rel))
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		return err
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to archive %s", dir)
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrBackup, "failed to finish archive")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, errors.ErrBackup, "failed to finish archive")
	}
	return nil
}

func extractArchive(archivePath, destDir string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "failed to open %s", archivePath)
	}
	defer func() { _ = in.Close() }()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return errors.Wrapf(err, errors.ErrBackup, "invalid archive %s", archivePath)
	}
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, errors.ErrBackup, "failed to read archive %s", archivePath)
		}

		if hdr.Typeflag != tar.TypeReg || !safeMember(hdr.Name) {
			continue
		}

		target := filepath.Join(destDir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, errors.ErrBackup, "failed to create %s", filepath.Dir(target))
		}

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return errors.Wrapf(err, errors.ErrBackup, "failed to create %s", target)
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return errors.Wrapf(err, errors.ErrBackup, "failed to extract %s", hdr.Name)
		}
		if err := out.Close(); err != nil {
			return errors.Wrapf(err, errors.ErrBackup, "failed to write %s", target)
		}
	}
}

// safeMember rejects archive members that would escape the destination.
func safeMember(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
