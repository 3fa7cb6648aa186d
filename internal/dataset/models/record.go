package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "outlab/pkg/domain-errors"
)

// VarType classifies how a column should be treated by downstream statistics.
type VarType string

const (
	VarContinuous  VarType = "continuous"
	VarCategorical VarType = "categorical"
	VarBinary      VarType = "binary"
	VarIdentifier  VarType = "identifier"
)

func (v VarType) Valid() bool {
	switch v {
	case VarContinuous, VarCategorical, VarBinary, VarIdentifier:
		return true
	}
	return false
}

// LineageEntry records one processing step applied to a dataset.
type LineageEntry struct {
	ID     string    `json:"id"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// DatasetRecord is the registry's metadata for one ingested dataset.
//
// Invariants:
//   - ID is non-empty and unique within a RegistryDocument
//   - StorageLocation is non-empty
//   - RowCount and ColumnCount are non-negative
//   - ColumnNames has exactly ColumnCount entries
//   - VariableClassification keys are a subset of ColumnNames and every
//     value is a valid VarType
//
// Counts mirror the most recently loaded table unless Stale is set; a stale
// record is still loadable but its counts must not be trusted until
// reconciled against a fresh load.
type DatasetRecord struct {
	ID                     string                 `json:"id"`
	StorageLocation        string                 `json:"storage_location"`
	RowCount               int                    `json:"row_count"`
	ColumnCount            int                    `json:"column_count"`
	ColumnNames            []string               `json:"column_names"`
	VariableClassification map[string]VarType     `json:"variable_classification"`
	SummaryStatistics      map[string]ColumnStats `json:"summary_statistics,omitempty"`
	Stale                  bool                   `json:"stale,omitempty"`
	CreatedAt              time.Time              `json:"created_at"`
	LastModified           time.Time              `json:"last_modified"`
	ProcessingLineage      []LineageEntry         `json:"processing_lineage,omitempty"`
}

// NewDatasetRecord builds a record from a freshly loaded table.
func NewDatasetRecord(id, storageLocation string, t *Table, now time.Time) (*DatasetRecord, error) {
	r := &DatasetRecord{
		ID:                     id,
		StorageLocation:        storageLocation,
		RowCount:               t.RowCount(),
		ColumnCount:            t.ColumnCount(),
		ColumnNames:            append([]string(nil), t.Columns...),
		VariableClassification: make(map[string]VarType, t.ColumnCount()),
		CreatedAt:              now,
		LastModified:           now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the record's invariants.
func (r *DatasetRecord) Validate() error {
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "dataset record has empty id")
	}
	if r.StorageLocation == "" {
		return dErrors.New(dErrors.CodeValidation, "dataset record has empty storage location")
	}
	if r.RowCount < 0 || r.ColumnCount < 0 {
		return dErrors.New(dErrors.CodeValidation, "dataset record has negative counts")
	}
	if len(r.ColumnNames) != r.ColumnCount {
		return dErrors.New(dErrors.CodeValidation, "column names do not match column count")
	}
	known := make(map[string]struct{}, len(r.ColumnNames))
	for _, c := range r.ColumnNames {
		known[c] = struct{}{}
	}
	for column, vt := range r.VariableClassification {
		if _, ok := known[column]; !ok {
			return dErrors.New(dErrors.CodeValidation, "classification references unknown column: "+column)
		}
		if !vt.Valid() {
			return dErrors.New(dErrors.CodeValidation, "invalid variable type for column "+column+": "+string(vt))
		}
	}
	return nil
}

// AppendLineage records a processing step and bumps LastModified.
func (r *DatasetRecord) AppendLineage(action, detail string, now time.Time) {
	r.ProcessingLineage = append(r.ProcessingLineage, LineageEntry{
		ID:     uuid.New().String(),
		Action: action,
		Detail: detail,
		At:     now,
	})
	r.LastModified = now
}

// ReconcileCounts refreshes counts and columns from a loaded table and clears
// the stale flag.
func (r *DatasetRecord) ReconcileCounts(t *Table, now time.Time) {
	r.RowCount = t.RowCount()
	r.ColumnCount = t.ColumnCount()
	r.ColumnNames = append([]string(nil), t.Columns...)
	r.Stale = false
	r.LastModified = now
}

// Clone returns a deep copy of the record.
func (r *DatasetRecord) Clone() *DatasetRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.ColumnNames = append([]string(nil), r.ColumnNames...)
	cp.ProcessingLineage = append([]LineageEntry(nil), r.ProcessingLineage...)
	if r.VariableClassification != nil {
		cp.VariableClassification = make(map[string]VarType, len(r.VariableClassification))
		for k, v := range r.VariableClassification {
			cp.VariableClassification[k] = v
		}
	}
	if r.SummaryStatistics != nil {
		cp.SummaryStatistics = make(map[string]ColumnStats, len(r.SummaryStatistics))
		for k, v := range r.SummaryStatistics {
			cp.SummaryStatistics[k] = v
		}
	}
	return &cp
}
