package models

import (
	"fmt"
	"time"

	dErrors "outlab/pkg/domain-errors"
)

// SchemaVersion is the current registry document schema. Version 1 documents
// (no variable classification or lineage) are migrated on load; anything else
// is rejected so the restore path can kick in.
const SchemaVersion = 2

// RegistryDocument is the durable root of the dataset registry: one document
// mapping dataset id to its metadata record.
type RegistryDocument struct {
	SchemaVersion int                       `json:"schema_version"`
	LastModified  time.Time                 `json:"last_modified"`
	Records       map[string]*DatasetRecord `json:"records"`
}

// NewRegistryDocument returns an empty document at the current schema version.
func NewRegistryDocument() *RegistryDocument {
	return &RegistryDocument{
		SchemaVersion: SchemaVersion,
		Records:       make(map[string]*DatasetRecord),
	}
}

// Validate checks the document and every record. A single invalid record
// fails the whole document; persistence is all-or-nothing.
func (d *RegistryDocument) Validate() error {
	if d.SchemaVersion != SchemaVersion {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("unsupported schema version %d (want %d)", d.SchemaVersion, SchemaVersion))
	}
	for id, record := range d.Records {
		if record == nil {
			return dErrors.New(dErrors.CodeValidation, "nil record for dataset "+id)
		}
		if record.ID != id {
			return dErrors.New(dErrors.CodeValidation,
				fmt.Sprintf("record id %q does not match registry key %q", record.ID, id))
		}
		if err := record.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "invalid record for dataset "+id)
		}
	}
	return nil
}

// Migrate upgrades an older document to the current schema in place.
// Unknown versions are rejected, never silently accepted.
func (d *RegistryDocument) Migrate() error {
	switch d.SchemaVersion {
	case SchemaVersion:
		return nil
	case 1:
		for _, record := range d.Records {
			if record == nil {
				continue
			}
			if record.VariableClassification == nil {
				record.VariableClassification = make(map[string]VarType)
			}
		}
		d.SchemaVersion = SchemaVersion
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("no migration from schema version %d", d.SchemaVersion))
	}
}

// Clone returns a deep copy of the document.
func (d *RegistryDocument) Clone() *RegistryDocument {
	if d == nil {
		return nil
	}
	cp := &RegistryDocument{
		SchemaVersion: d.SchemaVersion,
		LastModified:  d.LastModified,
		Records:       make(map[string]*DatasetRecord, len(d.Records)),
	}
	for id, record := range d.Records {
		cp.Records[id] = record.Clone()
	}
	return cp
}
