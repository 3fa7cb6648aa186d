// Package registry persists the dataset registry document: one JSON file at a
// well-known location, full-copy backups beside it, and an atomic
// validate -> backup -> write -> verify -> swap save path.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"outlab/internal/dataset/metrics"
	"outlab/internal/dataset/models"
	dErrors "outlab/pkg/domain-errors"
)

// Store is the durable home of the registry document.
//
// The save sequence is guarded by a store-scoped mutex: a backup racing a
// swap could otherwise snapshot a half-written primary and violate the
// "primary store is always valid" invariant.
type Store struct {
	path           string
	backupsEnabled bool

	mu      sync.Mutex
	backups *backupManager
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// verify re-reads a freshly serialized document before the swap;
	// overridable so tests can force post-write verification failures.
	verify func(path string) error
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithRetention bounds how many backup snapshots survive pruning.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.backups.retention = n
		}
	}
}

// WithBackupsDisabled turns off snapshotting; corruption of the primary
// document then loses the registry metadata (tables on disk are unaffected).
func WithBackupsDisabled() Option {
	return func(s *Store) {
		s.backupsEnabled = false
	}
}

// WithClock overrides the time source used for backup naming and document
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
		s.backups.now = now
	}
}

// New constructs a Store rooted at path. Defaults: backups on, retention 5.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:           path,
		backupsEnabled: true,
		logger:         slog.New(slog.DiscardHandler),
		now:            time.Now,
	}
	s.backups = &backupManager{primary: path, retention: 5, now: s.now}
	for _, opt := range opts {
		opt(s)
	}
	s.backups.logger = s.logger
	s.verify = func(path string) error {
		_, err := readDocument(path)
		return err
	}
	return s
}

// Load reads the primary document. A missing file is a fresh install and
// yields an empty document. On parse or validation failure it restores from
// the latest backup and retries once; if that also fails, it returns an
// empty, usable document TOGETHER with the error so the caller can keep
// operating while surfacing the corruption.
func (s *Store) Load(ctx context.Context) (*models.RegistryDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(s.path)
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewRegistryDocument(), nil
	}

	s.logger.Warn("registry document unusable, attempting restore", "path", s.path, "error", err)
	if s.backupsEnabled {
		if restoreErr := s.backups.restoreLatest(); restoreErr == nil {
			s.metrics.IncRegistryRestore()
			if doc, retryErr := readDocument(s.path); retryErr == nil {
				s.logger.Info("registry restored from latest backup", "path", s.path)
				return doc, nil
			}
		} else {
			s.logger.Warn("restore from backup failed", "error", restoreErr)
		}
	}
	return models.NewRegistryDocument(),
		dErrors.Wrap(err, dErrors.CodeCorruption, "registry document unusable and not restorable")
}

// Save persists the document atomically. Validation failures reject the whole
// save; nothing is partially persisted. Any failure after serialization
// discards the temp artifact and restores the latest backup.
func (s *Store) Save(ctx context.Context, doc *models.RegistryDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.LastModified = s.now()
	if err := doc.Validate(); err != nil {
		s.metrics.IncRegistryValidationFailure()
		return err
	}

	if s.backupsEnabled {
		created, err := s.backups.create()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "snapshot before save failed")
		}
		if created {
			s.metrics.IncRegistryBackup()
			s.backups.prune()
		}
	}

	if err := s.writeAndSwap(doc); err != nil {
		if s.backupsEnabled {
			if restoreErr := s.backups.restoreLatest(); restoreErr == nil {
				s.metrics.IncRegistryRestore()
				s.logger.Warn("save failed, primary restored from backup", "error", err)
			} else if !dErrors.HasCode(restoreErr, dErrors.CodeNotFound) {
				return dErrors.Wrap(err, dErrors.CodeInternal,
					"registry save failed and restore failed: "+restoreErr.Error())
			}
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "registry save failed")
	}

	s.metrics.IncRegistrySave()
	s.logger.Info("registry saved", "path", s.path, "records", len(doc.Records))
	return nil
}

// Backups lists the current snapshots, newest first.
func (s *Store) Backups() ([]BackupSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backups.list()
}

// writeAndSwap serializes to a temp file, verifies the temp file parses and
// validates, then replaces the primary. Rename-over-existing is not portable,
// so the swap is delete-then-rename.
func (s *Store) writeAndSwap(doc *models.RegistryDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "serialize registry document")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "create registry directory")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write temp registry document")
	}

	if err := s.verify(tmp); err != nil {
		os.Remove(tmp)
		return dErrors.Wrap(err, dErrors.CodeInternal, "verify temp registry document")
	}

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(tmp)
		return dErrors.Wrap(err, dErrors.CodeInternal, "remove previous registry document")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return dErrors.Wrap(err, dErrors.CodeInternal, "swap registry document into place")
	}
	return nil
}

// readDocument loads, migrates, and validates one document file.
func readDocument(path string) (*models.RegistryDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc models.RegistryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCorruption, "parse registry document")
	}
	if doc.Records == nil {
		doc.Records = make(map[string]*models.DatasetRecord)
	}
	if err := doc.Migrate(); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
