package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks TableLoader,RegistryStore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"outlab/internal/dataset/models"
	"outlab/internal/dataset/service/mocks"
	"outlab/internal/dataset/store/registry"
	dErrors "outlab/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	ctx    context.Context
	ctrl   *gomock.Controller
	loader *mocks.MockTableLoader
	store  *registry.Store
	path   string
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.loader = mocks.NewMockTableLoader(s.ctrl)
}

// newService builds a service over a fresh registry file so subtests never
// see each other's persisted records.
func (s *ServiceSuite) newService(opts ...Option) *Service {
	s.path = filepath.Join(s.T().TempDir(), "registry.json")
	s.store = registry.New(s.path, registry.WithRetention(5))
	opts = append([]Option{WithSubjectColumn("subject_id")}, opts...)
	return New(s.store, s.loader, opts...)
}

func (s *ServiceSuite) sampleTable(rows int) *models.Table {
	data := make([][]string, rows)
	for i := range data {
		data[i] = []string{fmt.Sprintf("S%d", i+1), fmt.Sprintf("%d", 20+i%40), "1"}
	}
	table, err := models.NewTable([]string{"subject_id", "age", "treated"}, data)
	s.Require().NoError(err)
	return table
}

func (s *ServiceSuite) TestGetTable() {
	s.Run("unknown dataset id is not found", func() {
		svc := s.newService()
		_, err := svc.GetTable(s.ctx, "nope.csv")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("loads once and serves from cache afterwards", func() {
		table := s.sampleTable(4)
		s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(table, nil).Times(1)

		svc := s.newService()
		_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.Require().NoError(err)

		first, err := svc.GetTable(s.ctx, "ds.csv")
		s.Require().NoError(err)
		second, err := svc.GetTable(s.ctx, "ds.csv")
		s.Require().NoError(err)
		s.Equal(first.Rows, second.Rows)
	})

	s.Run("with caching disabled every access hits the loader", func() {
		table := s.sampleTable(4)
		s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(table, nil).Times(3)

		svc := s.newService(WithCacheDisabled())
		_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.Require().NoError(err)

		_, err = svc.GetTable(s.ctx, "ds.csv")
		s.Require().NoError(err)
		_, err = svc.GetTable(s.ctx, "ds.csv")
		s.Require().NoError(err)
	})
}

func (s *ServiceSuite) TestRegisterDataset() {
	s.Run("derives metadata from the loaded table", func() {
		s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(s.sampleTable(6), nil)

		svc := s.newService()
		record, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.Require().NoError(err)

		s.Equal(6, record.RowCount)
		s.Equal(3, record.ColumnCount)
		s.Equal(models.VarIdentifier, record.VariableClassification["subject_id"])
		s.Equal(models.VarContinuous, record.VariableClassification["age"])
		s.Equal(models.VarBinary, record.VariableClassification["treated"])
		s.Contains(record.SummaryStatistics, "age")
		s.Require().Len(record.ProcessingLineage, 1)
		s.Equal("registered", record.ProcessingLineage[0].Action)
	})

	s.Run("duplicate registration conflicts", func() {
		s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(s.sampleTable(6), nil).Times(2)

		svc := s.newService()
		_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.Require().NoError(err)
		_, err = svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("loader failure surfaces and registers nothing", func() {
		s.loader.EXPECT().Load(gomock.Any(), "/data/bad.csv").Return(nil, errors.New("unreadable"))

		svc := s.newService()
		_, err := svc.RegisterDataset(s.ctx, "bad.csv", "/data/bad.csv")
		s.Require().Error(err)
		s.Empty(svc.Records(s.ctx))
	})
}

func (s *ServiceSuite) TestUpdateClassification() {
	s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(s.sampleTable(6), nil).AnyTimes()

	s.Run("persists a valid reclassification", func() {
		svc := s.newService()
		_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.Require().NoError(err)

		err = svc.UpdateClassification(s.ctx, "ds.csv", map[string]models.VarType{
			"age": models.VarCategorical,
		})
		s.Require().NoError(err)

		record, err := svc.Record(s.ctx, "ds.csv")
		s.Require().NoError(err)
		s.Equal(models.VarCategorical, record.VariableClassification["age"])
		s.Equal("reclassified", record.ProcessingLineage[len(record.ProcessingLineage)-1].Action)
	})

	s.Run("unknown column rolls back and rejects", func() {
		svc := s.newService()
		_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
		s.Require().NoError(err)

		err = svc.UpdateClassification(s.ctx, "ds.csv", map[string]models.VarType{
			"not_a_column": models.VarContinuous,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		record, err := svc.Record(s.ctx, "ds.csv")
		s.Require().NoError(err)
		s.NotContains(record.VariableClassification, "not_a_column")
		s.Equal(models.VarContinuous, record.VariableClassification["age"])
	})

	s.Run("unknown dataset is not found", func() {
		svc := s.newService()
		err := svc.UpdateClassification(s.ctx, "nope.csv", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestResolveOutliers() {
	s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(s.sampleTable(4), nil).AnyTimes()

	svc := s.newService()
	_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
	s.Require().NoError(err)

	s.Run("resolves subject ids preserving cardinality", func() {
		res, err := svc.ResolveOutliers(s.ctx, "ds.csv", []any{"S1", "S3"})
		s.Require().NoError(err)
		s.Equal([]int{0, 2}, res.RowOffsets)
		s.True(res.Report.Complete)
	})

	s.Run("partial resolution is reported, not failed", func() {
		res, err := svc.ResolveOutliers(s.ctx, "ds.csv", []any{"S1", "S99", "S2"})
		s.Require().NoError(err)
		s.Equal([]int{0, 1}, res.RowOffsets)
		s.False(res.Report.Complete)
		s.Equal(1, res.Report.Missing)
		s.Require().Len(res.Report.Unresolved, 1)
		s.Equal(1, res.Report.Unresolved[0].Index)
	})
}

func (s *ServiceSuite) TestGetTableWithEncoding() {
	table := s.sampleTable(4)
	s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(table, nil).Times(1)
	s.loader.EXPECT().LoadWithEncoding(gomock.Any(), "/data/ds.csv", "latin-1").Return(table, nil).Times(1)

	svc := s.newService()
	_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
	s.Require().NoError(err)

	_, err = svc.GetTableWithEncoding(s.ctx, "ds.csv", "latin-1")
	s.Require().NoError(err)

	// The retried load repopulated the cache; no further loader calls.
	_, err = svc.GetTable(s.ctx, "ds.csv")
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestRefreshRecord() {
	small := s.sampleTable(4)
	grown := s.sampleTable(9)
	first := s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(small, nil)
	s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(grown, nil).After(first)

	svc := s.newService()
	_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
	s.Require().NoError(err)
	s.Require().NoError(svc.MarkStale(s.ctx, "ds.csv"))

	record, err := svc.Record(s.ctx, "ds.csv")
	s.Require().NoError(err)
	s.True(record.Stale)

	record, err = svc.RefreshRecord(s.ctx, "ds.csv")
	s.Require().NoError(err)
	s.False(record.Stale)
	s.Equal(9, record.RowCount)
}

func (s *ServiceSuite) TestSummaryStats() {
	s.loader.EXPECT().Load(gomock.Any(), "/data/ds.csv").Return(s.sampleTable(6), nil).Times(1)

	svc := s.newService()
	_, err := svc.RegisterDataset(s.ctx, "ds.csv", "/data/ds.csv")
	s.Require().NoError(err)

	stats, err := svc.SummaryStats(s.ctx, "ds.csv", []string{"age"})
	s.Require().NoError(err)
	s.Equal(6, stats["age"].Count)

	// Served from the stats cache on the second request.
	again, err := svc.SummaryStats(s.ctx, "ds.csv", []string{"age"})
	s.Require().NoError(err)
	s.Equal(stats, again)
}

func (s *ServiceSuite) TestCorruptRegistrySurfacesAndContinues() {
	store := mocks.NewMockRegistryStore(s.ctrl)
	store.EXPECT().Load(gomock.Any()).
		Return(models.NewRegistryDocument(), dErrors.New(dErrors.CodeCorruption, "registry unusable"))

	svc := New(store, s.loader)
	_, err := svc.GetTable(s.ctx, "anything.csv")
	// The service keeps operating on the empty registry.
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// Seven sequential metadata updates against a 500-row dataset with retention
// five must leave exactly five snapshots, and a fresh service must see the
// latest classification.
func (s *ServiceSuite) TestEndToEndDurability() {
	s.loader.EXPECT().Load(gomock.Any(), "/data/big.csv").Return(s.sampleTable(500), nil).AnyTimes()

	svc := s.newService()
	_, err := svc.RegisterDataset(s.ctx, "big.csv", "/data/big.csv")
	s.Require().NoError(err)

	types := []models.VarType{models.VarContinuous, models.VarCategorical}
	for i := 0; i < 7; i++ {
		err := svc.UpdateClassification(s.ctx, "big.csv", map[string]models.VarType{
			"age": types[i%2],
		})
		s.Require().NoError(err)
	}

	backups, err := s.store.Backups()
	s.Require().NoError(err)
	s.Len(backups, 5)

	reopened := New(registry.New(s.path), s.loader, WithSubjectColumn("subject_id"))
	record, err := reopened.Record(s.ctx, "big.csv")
	s.Require().NoError(err)
	s.Equal(500, record.RowCount)
	s.Equal(types[6%2], record.VariableClassification["age"])
}
