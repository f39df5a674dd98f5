package pgwire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brindlecove/pgwire/internal/pgtype"
)

func newTestRow() (*Row, *pgtype.Registry) {
	desc := NewRowDescription([]ColumnDescriptor{
		{Index: 0, Name: "ID", DataTypeOID: pgtype.OIDInt4},
		{Index: 1, Name: "Name", DataTypeOID: pgtype.OIDText},
	})
	row := &Row{
		Description: desc,
		Fields: []Field{
			{Value: []byte("7")},
			{Value: nil, IsNull: true},
		},
	}
	return row, pgtype.NewDefaultRegistry()
}

func TestRowDescriptionNamesAreCaseFolded(t *testing.T) {
	desc := NewRowDescription([]ColumnDescriptor{{Name: "UserID"}})
	i, ok := desc.IndexOf("userid")
	require.True(t, ok)
	require.Equal(t, 0, i)
	require.Equal(t, "userid", desc.Columns[0].Name)
}

func TestRowDescriptionIndexOfMissing(t *testing.T) {
	desc := NewRowDescription([]ColumnDescriptor{{Name: "a"}})
	_, ok := desc.IndexOf("b")
	require.False(t, ok)
}

func TestGetByIndex(t *testing.T) {
	row, reg := newTestRow()
	v, err := Get(reg, row, ByIndex(0), "")
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestGetByNameIsCaseInsensitive(t *testing.T) {
	row, reg := newTestRow()
	v, err := Get(reg, row, ByName("NAME"), "")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestGetUnknownColumnName(t *testing.T) {
	row, reg := newTestRow()
	_, err := Get(reg, row, ByName("missing"), "")
	require.ErrorIs(t, err, ErrColumnNotPresent)
}

func TestGetIndexOutOfRange(t *testing.T) {
	row, reg := newTestRow()
	_, err := Get(reg, row, ByIndex(9), "")
	require.ErrorIs(t, err, ErrColumnNotPresent)
}

func TestGetByNameWithoutDescriptionFails(t *testing.T) {
	row := &Row{Fields: []Field{{Value: []byte("1")}}}
	_, err := Get(pgtype.NewDefaultRegistry(), row, ByName("x"), "")
	require.ErrorIs(t, err, ErrMissingRowMeta)
}

func TestGetTargetTypeOverridesColumnOID(t *testing.T) {
	row, reg := newTestRow()
	v, err := Get(reg, row, ByIndex(0), "text")
	require.NoError(t, err)
	require.Equal(t, "7", v)
}
