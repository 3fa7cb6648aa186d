package registry

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	dErrors "outlab/pkg/domain-errors"
)

// backupNameFormat stamps snapshot filenames with nanosecond precision so two
// snapshots from consecutive saves never collide.
const backupNameFormat = "20060102T150405.000000000"

// BackupSnapshot describes one full-copy snapshot of the registry document.
type BackupSnapshot struct {
	Path      string
	CreatedAt time.Time
}

// backupManager keeps timestamp-named full copies of the primary document as
// sibling files and prunes them down to a retention count.
type backupManager struct {
	primary   string
	retention int
	logger    *slog.Logger
	now       func() time.Time
}

func (b *backupManager) prefix() string {
	return filepath.Base(b.primary) + ".bak-"
}

// create copies the current primary document to a timestamp-named sibling.
// No-op when the primary does not exist yet; reports whether a snapshot was
// actually written.
func (b *backupManager) create() (bool, error) {
	data, err := os.ReadFile(b.primary)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "read primary for backup")
	}

	name := b.prefix() + b.now().UTC().Format(backupNameFormat)
	path := filepath.Join(filepath.Dir(b.primary), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "write backup snapshot")
	}
	return true, nil
}

// prune deletes snapshots beyond the retention count, oldest first. Deletion
// failures are logged, not fatal.
func (b *backupManager) prune() {
	snapshots, err := b.list()
	if err != nil {
		b.logger.Warn("listing backups for pruning failed", "error", err)
		return
	}
	for _, s := range snapshots[min(b.retention, len(snapshots)):] {
		if err := os.Remove(s.Path); err != nil {
			b.logger.Warn("pruning backup failed", "path", s.Path, "error", err)
		}
	}
}

// restoreLatest copies the most recent snapshot over the primary location.
// The copy goes through a temporary file so the primary is never left
// partially overwritten.
func (b *backupManager) restoreLatest() error {
	snapshots, err := b.list()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return dErrors.New(dErrors.CodeNotFound, "no backup snapshots exist")
	}

	data, err := os.ReadFile(snapshots[0].Path)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "read backup snapshot")
	}
	tmp := b.primary + ".restore"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "stage restored document")
	}
	if err := os.Remove(b.primary); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "remove corrupt primary")
	}
	if err := os.Rename(tmp, b.primary); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "swap restored document into place")
	}
	return nil
}

// list returns all snapshots, newest first. Ordering is by modification time
// with the timestamp-bearing name as tie-break.
func (b *backupManager) list() ([]BackupSnapshot, error) {
	entries, err := os.ReadDir(filepath.Dir(b.primary))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list backup directory")
	}

	var snapshots []BackupSnapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), b.prefix()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, BackupSnapshot{
			Path:      filepath.Join(filepath.Dir(b.primary), entry.Name()),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if !snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
		}
		return snapshots[i].Path > snapshots[j].Path
	})
	return snapshots, nil
}
