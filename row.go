package pgwire

import (
	"strings"

	"github.com/brindlecove/pgwire/internal/pgtype"
	"github.com/cockroachdb/errors"
)

// ColumnDescriptor is one entry of a RowDescription. It is immutable once
// built.
type ColumnDescriptor struct {
	Index int // zero-based, dense within a RowDescription

	// Name is the column name as the server returned it, lower-cased for
	// case-insensitive lookup.
	Name string

	TableOID              uint32 // 0 if the column is not from a table
	ColumnAttributeNumber int
	DataTypeOID           uint32
	TypeSize              int16 // negative means variable-length
	TypeModifier          int32
	FormatCode            int16 // 0 = text, 1 = binary
}

// RowDescription is the ordered set of columns for a result set, plus a
// name index built once at creation. Names need not be unique; lookup by
// name returns the first match.
type RowDescription struct {
	Columns []ColumnDescriptor
	byName  map[string]int
}

// NewRowDescription builds a RowDescription from server-order columns.
// Names are folded to lower case for lookup, matching Postgres's own
// case-folding of unquoted identifiers.
func NewRowDescription(columns []ColumnDescriptor) *RowDescription {
	byName := make(map[string]int, len(columns))
	for i, col := range columns {
		folded := strings.ToLower(col.Name)
		columns[i].Name = folded
		if _, exists := byName[folded]; !exists {
			byName[folded] = i
		}
	}
	return &RowDescription{Columns: columns, byName: byName}
}

// IndexOf returns the index of the first column with the given name
// (case-folded), or (-1, false) if there is none.
func (d *RowDescription) IndexOf(name string) (int, bool) {
	i, ok := d.byName[strings.ToLower(name)]
	return i, ok
}

// Field is one column's raw wire value: either an owned byte slice or an
// explicit null marker.
type Field struct {
	Value  []byte
	IsNull bool
}

// Row is immutable after assembly: a RowDescription reference plus one raw
// field per column. len(Fields) == len(Description.Columns), except in the
// simple-protocol edge case where Description is nil — see Get.
type Row struct {
	Description *RowDescription
	Fields      []Field
}

// ColumnRef selects a column either by zero-based index or by case-folded
// name; exactly one of the two is meaningful for a given call.
type ColumnRef struct {
	Index  int
	Name   string
	byName bool
}

// ByIndex builds a ColumnRef selecting a column positionally.
func ByIndex(i int) ColumnRef { return ColumnRef{Index: i} }

// ByName builds a ColumnRef selecting the first column matching name.
func ByName(name string) ColumnRef { return ColumnRef{Name: name, byName: true} }

func (r *Row) resolve(ref ColumnRef) (int, error) {
	if ref.byName {
		if r.Description == nil {
			return 0, ErrMissingRowMeta
		}
		i, ok := r.Description.IndexOf(ref.Name)
		if !ok {
			return 0, errors.Wrapf(ErrColumnNotPresent, "column %q", ref.Name)
		}
		return i, nil
	}
	if ref.Index < 0 || ref.Index >= len(r.Fields) {
		return 0, errors.Wrapf(ErrColumnNotPresent, "column index %d", ref.Index)
	}
	return ref.Index, nil
}

// unspecifiedColumn is synthesized for the simple-protocol edge case where
// a Row carries no RowDescription.
func unspecifiedColumn(index int) ColumnDescriptor {
	return ColumnDescriptor{Index: index, DataTypeOID: 0}
}

// Get resolves ref against row and decodes the raw value through registry,
// using the column's own OID-derived type unless targetType overrides it.
// Pass targetType == "" to use the column's natural type.
func Get(registry *pgtype.Registry, row *Row, ref ColumnRef, targetType string) (any, error) {
	idx, err := row.resolve(ref)
	if err != nil {
		return nil, err
	}

	var col ColumnDescriptor
	if row.Description != nil {
		col = row.Description.Columns[idx]
	} else {
		col = unspecifiedColumn(idx)
	}

	typeName := targetType
	if typeName == "" {
		name, _ := pgtype.TypeNameForOID(col.DataTypeOID)
		typeName = name
	}

	field := row.Fields[idx]
	format := pgtype.FormatText
	if col.FormatCode == 1 {
		format = pgtype.FormatBinary
	}

	v, err := registry.Decode(typeName, field.Value, field.IsNull, format)
	if err != nil {
		return nil, &ConvertToFailedError{TypeName: typeName, OID: col.DataTypeOID, Cause: err}
	}
	return v, nil
}
