// Package service is the facade over the dataset registry, caches, and
// outlier resolution. Statistics consumers see exactly two operations,
// GetTable and ResolveOutliers, and never touch the registry store or the
// caches directly.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"outlab/internal/dataset/cache"
	"outlab/internal/dataset/metrics"
	"outlab/internal/dataset/models"
	"outlab/internal/dataset/store/registry"
	"outlab/internal/outlier"
	"outlab/internal/platform/config"
	"outlab/internal/platform/logger"
	dErrors "outlab/pkg/domain-errors"
)

// TableLoader is the external collaborator that turns a storage location into
// a table. It must support being retried with an explicit alternate text
// encoding.
type TableLoader interface {
	Load(ctx context.Context, location string) (*models.Table, error)
	LoadWithEncoding(ctx context.Context, location, encoding string) (*models.Table, error)
}

// RegistryStore persists the registry document.
type RegistryStore interface {
	Load(ctx context.Context) (*models.RegistryDocument, error)
	Save(ctx context.Context, doc *models.RegistryDocument) error
}

// OutlierResolution carries the resolved row offsets plus the reconciliation
// report; partial resolution is reported, never failed.
type OutlierResolution struct {
	RowOffsets []int
	Report     outlier.DiscrepancyReport
}

// Service owns the working registry document and the caches. All document
// mutations run under one mutex so saves never interleave.
type Service struct {
	registry RegistryStore
	loader   TableLoader

	tables       *cache.TableCache
	stats        *cache.StatsCache
	cacheEnabled bool
	cacheBudget  int64

	subjectColumn string
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	mu     sync.Mutex
	doc    *models.RegistryDocument
	loaded bool
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithSubjectColumn designates the column whose values identify subjects for
// outlier resolution.
func WithSubjectColumn(column string) Option {
	return func(s *Service) {
		s.subjectColumn = column
	}
}

// WithCacheBudget sets the table cache byte budget.
func WithCacheBudget(budget int64) Option {
	return func(s *Service) {
		s.cacheBudget = budget
	}
}

// WithCacheDisabled bypasses the caches entirely; every table access goes to
// the loader.
func WithCacheDisabled() Option {
	return func(s *Service) {
		s.cacheEnabled = false
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New constructs a Service. Defaults: caching on with a 256 MiB budget, no
// subject-id column.
func New(registry RegistryStore, loader TableLoader, opts ...Option) *Service {
	s := &Service{
		registry:     registry,
		loader:       loader,
		cacheEnabled: true,
		cacheBudget:  256 << 20,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats = cache.NewStatsCache(s.metrics)
	s.tables = cache.NewTableCache(s.cacheBudget, s.stats,
		cache.WithLogger(s.logger), cache.WithMetrics(s.metrics))
	return s
}

// NewFromConfig wires a Service and its file-backed registry store from the
// ambient configuration; hosts that need finer control construct the store
// themselves and call New.
func NewFromConfig(cfg config.Core, loader TableLoader, opts ...Option) *Service {
	log := logger.New()

	storeOpts := []registry.Option{
		registry.WithLogger(log),
		registry.WithRetention(cfg.BackupRetention),
	}
	if !cfg.BackupsEnabled {
		storeOpts = append(storeOpts, registry.WithBackupsDisabled())
	}
	store := registry.New(cfg.RegistryPath, storeOpts...)

	base := []Option{
		WithLogger(log),
		WithSubjectColumn(cfg.SubjectIDColumn),
		WithCacheBudget(cfg.CacheBudgetBytes),
	}
	if !cfg.CacheEnabled {
		base = append(base, WithCacheDisabled())
	}
	return New(store, loader, append(base, opts...)...)
}

// GetTable returns a copy of the dataset's table, loading through the cache.
func (s *Service) GetTable(ctx context.Context, datasetID string) (*models.Table, error) {
	record, err := s.record(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return s.loadTable(ctx, record)
}

// GetTableWithEncoding reloads the table with an explicit text encoding,
// bypassing the cache, and repopulates the cache on success.
func (s *Service) GetTableWithEncoding(ctx context.Context, datasetID, encoding string) (*models.Table, error) {
	record, err := s.record(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	t, err := s.loader.LoadWithEncoding(ctx, record.StorageLocation, encoding)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load table with encoding "+encoding)
	}
	if s.cacheEnabled {
		s.tables.Put(datasetID, t)
	}
	return t, nil
}

// ResolveOutliers maps the ordered final-outliers list to row offsets.
// Unresolved identifiers travel in the report as data; only failing to get
// the table at all is an error.
func (s *Service) ResolveOutliers(ctx context.Context, datasetID string, identifiers []any) (*OutlierResolution, error) {
	t, err := s.GetTable(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	sel := outlier.SelectRows(t, identifiers, s.subjectColumn)
	report := outlier.Reconcile(len(identifiers), sel)
	if !report.Complete {
		s.logger.Warn("outlier identifiers partially resolved",
			"dataset_id", datasetID, "expected", report.Expected, "resolved", report.Resolved)
	}
	return &OutlierResolution{RowOffsets: sel.RowOffsets, Report: report}, nil
}

// RegisterDataset ingests a dataset: loads its table, derives metadata, and
// persists the record. Registering an existing id is a conflict; use
// RefreshRecord for reprocessing.
func (s *Service) RegisterDataset(ctx context.Context, datasetID, location string) (*models.DatasetRecord, error) {
	t, err := s.loader.Load(ctx, location)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load table for registration")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	if _, exists := s.doc.Records[datasetID]; exists {
		return nil, dErrors.New(dErrors.CodeConflict, "dataset id already registered: "+datasetID)
	}

	now := s.now()
	record, err := models.NewDatasetRecord(datasetID, location, t, now)
	if err != nil {
		return nil, err
	}
	record.VariableClassification = s.classifyVariables(t)
	record.SummaryStatistics = models.SummarizeColumns(t, t.Columns)
	record.AppendLineage("registered", location, now)

	s.doc.Records[datasetID] = record
	if err := s.registry.Save(ctx, s.doc); err != nil {
		delete(s.doc.Records, datasetID)
		return nil, err
	}

	if s.cacheEnabled {
		s.tables.Put(datasetID, t)
	}
	s.logger.Info("dataset registered", "dataset_id", datasetID, "rows", record.RowCount, "columns", record.ColumnCount)
	return record.Clone(), nil
}

// UpdateClassification replaces the variable classification for a dataset.
func (s *Service) UpdateClassification(ctx context.Context, datasetID string, classification map[string]models.VarType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	record, ok := s.doc.Records[datasetID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "dataset not registered: "+datasetID)
	}

	previous := record.Clone()
	record.VariableClassification = make(map[string]models.VarType, len(classification))
	for column, vt := range classification {
		record.VariableClassification[column] = vt
	}
	record.AppendLineage("reclassified", "", s.now())

	if err := record.Validate(); err != nil {
		s.doc.Records[datasetID] = previous
		return err
	}
	if err := s.registry.Save(ctx, s.doc); err != nil {
		s.doc.Records[datasetID] = previous
		return err
	}
	return nil
}

// MarkStale flags a record whose counts may no longer match its table.
func (s *Service) MarkStale(ctx context.Context, datasetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	record, ok := s.doc.Records[datasetID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "dataset not registered: "+datasetID)
	}

	previous := record.Stale
	record.Stale = true
	if err := s.registry.Save(ctx, s.doc); err != nil {
		record.Stale = previous
		return err
	}
	return nil
}

// RefreshRecord reloads the table from storage, reconciles counts and
// summary statistics, clears staleness, and repopulates the cache.
func (s *Service) RefreshRecord(ctx context.Context, datasetID string) (*models.DatasetRecord, error) {
	s.mu.Lock()
	s.ensureLoadedLocked(ctx)
	record, ok := s.doc.Records[datasetID]
	if !ok {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeNotFound, "dataset not registered: "+datasetID)
	}
	location := record.StorageLocation
	s.mu.Unlock()

	t, err := s.loader.Load(ctx, location)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reload table for refresh")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok = s.doc.Records[datasetID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "dataset not registered: "+datasetID)
	}

	previous := record.Clone()
	record.ReconcileCounts(t, s.now())
	record.SummaryStatistics = models.SummarizeColumns(t, t.Columns)
	record.AppendLineage("refreshed", location, s.now())

	if err := s.registry.Save(ctx, s.doc); err != nil {
		s.doc.Records[datasetID] = previous
		return nil, err
	}

	if s.cacheEnabled {
		s.tables.Put(datasetID, t)
	}
	return record.Clone(), nil
}

// Record returns a copy of one dataset record.
func (s *Service) Record(ctx context.Context, datasetID string) (*models.DatasetRecord, error) {
	return s.record(ctx, datasetID)
}

// Records lists all dataset records, ordered by id.
func (s *Service) Records(ctx context.Context) []*models.DatasetRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	out := make([]*models.DatasetRecord, 0, len(s.doc.Records))
	for _, record := range s.doc.Records {
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SummaryStats returns derived statistics for the requested column set,
// served from the stats cache when the exact set was computed before.
func (s *Service) SummaryStats(ctx context.Context, datasetID string, columns []string) (map[string]models.ColumnStats, error) {
	if s.cacheEnabled {
		if stats, ok := s.stats.Get(datasetID, columns); ok {
			return stats, nil
		}
	}

	t, err := s.GetTable(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	stats := models.SummarizeColumns(t, columns)
	if s.cacheEnabled {
		s.stats.Put(datasetID, columns, stats)
	}
	return stats, nil
}

// InvalidateDataset drops the dataset's cached table and statistics.
func (s *Service) InvalidateDataset(datasetID string) {
	s.tables.Invalidate(datasetID)
}

// InvalidateAll clears both caches.
func (s *Service) InvalidateAll() {
	s.tables.InvalidateAll()
}

// CacheUsage reports table cache occupancy for host introspection.
func (s *Service) CacheUsage() cache.Usage {
	return s.tables.Usage()
}

// record returns a clone of the dataset's registry record.
func (s *Service) record(ctx context.Context, datasetID string) (*models.DatasetRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(ctx)

	record, ok := s.doc.Records[datasetID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "dataset not registered: "+datasetID)
	}
	return record.Clone(), nil
}

// loadTable fetches the table through the cache, or straight from the loader
// when caching is disabled.
func (s *Service) loadTable(ctx context.Context, record *models.DatasetRecord) (*models.Table, error) {
	load := func(ctx context.Context) (*models.Table, error) {
		return s.loader.Load(ctx, record.StorageLocation)
	}
	if !s.cacheEnabled {
		t, err := load(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load table")
		}
		return t, nil
	}
	t, err := s.tables.GetOrLoad(ctx, record.ID, load)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load table")
	}
	return t, nil
}

// ensureLoadedLocked lazily loads the registry document. Corruption falls
// back to an empty document; the error is surfaced in the log, and the
// service keeps operating.
func (s *Service) ensureLoadedLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	doc, err := s.registry.Load(ctx)
	if err != nil {
		s.logger.Error("registry load failed, continuing with empty registry", "error", err)
	}
	if doc == nil {
		doc = models.NewRegistryDocument()
	}
	s.doc = doc
	s.loaded = true
}

// classifyVariables derives an initial classification: the subject-id column
// is an identifier, 0/1 columns are binary, other numeric columns are
// continuous, everything else is categorical. Researchers refine it later via
// UpdateClassification.
func (s *Service) classifyVariables(t *models.Table) map[string]models.VarType {
	out := make(map[string]models.VarType, len(t.Columns))
	for _, column := range t.Columns {
		if column == s.subjectColumn {
			out[column] = models.VarIdentifier
			continue
		}
		values, _ := t.Column(column)
		if isBinary(values) {
			out[column] = models.VarBinary
			continue
		}
		if _, ok := models.NumericColumnStats(values); ok {
			out[column] = models.VarContinuous
			continue
		}
		out[column] = models.VarCategorical
	}
	return out
}

func isBinary(values []string) bool {
	seen := false
	for _, v := range values {
		switch v {
		case "":
		case "0", "1":
			seen = true
		default:
			return false
		}
	}
	return seen
}
