package pgtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArrayDecodeScenario6(t *testing.T) {
	// {1,2,NULL,"4,5"} into a 1-D integer-nullable array. The last element
	// is not a valid int4, so it must surface as a per-element conversion
	// error, not corrupt the rest.
	reg := NewDefaultRegistry()
	v, err := reg.Decode("_int4", []byte(`{1,2,NULL,"4,5"}`), false, FormatText)
	require.Error(t, err)
	require.Nil(t, v)

	// The same literal against a text array decodes cleanly, proving the
	// error above is a per-element type mismatch, not a grammar bug.
	v, err = reg.Decode("_text", []byte(`{1,2,NULL,"4,5"}`), false, FormatText)
	require.NoError(t, err)
	elems, ok := v.([]any)
	require.True(t, ok)
	require.Equal(t, []any{"1", "2", nil, "4,5"}, elems)
}

func TestArrayDecodeNestedScenario6(t *testing.T) {
	// {{1,2},{3,4}} into a 2-D integer array yields [[1,2],[3,4]].
	reg := NewDefaultRegistry()
	v, err := reg.Decode("_int4", []byte(`{{1,2},{3,4}}`), false, FormatText)
	require.NoError(t, err)
	got, ok := v.([]any)
	require.True(t, ok)
	require.Equal(t, []any{
		[]any{int32(1), int32(2)},
		[]any{int32(3), int32(4)},
	}, got)
}

func TestArrayRoundTrip(t *testing.T) {
	reg := NewDefaultRegistry()

	cases := []struct {
		name     string
		typeName string
		value    []any
	}{
		{"flat ints", "_int4", []any{int32(1), int32(2), nil, int32(-7)}},
		{"flat text with special chars", "_text", []any{"hello", "with,comma", `with"quote`, nil, ""}},
		{"nested depth 2", "_int4", []any{
			[]any{int32(1), nil},
			[]any{int32(3), int32(4)},
		}},
		{"nested depth 3", "_int4", []any{
			[]any{
				[]any{int32(1)},
				[]any{int32(2), int32(3)},
			},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, encoded, err := reg.Encode(tc.typeName, []any(tc.value))
			require.NoError(t, err)

			decoded, err := reg.Decode(tc.typeName, encoded, false, FormatText)
			require.NoError(t, err)
			assert.Equal(t, []any(tc.value), decoded)
		})
	}
}

func TestArrayMalformed(t *testing.T) {
	reg := NewDefaultRegistry()
	badInputs := []string{
		"1,2,3}",     // missing opening brace
		"{1,2,3",     // unterminated
		"{1 2}",      // missing comma
		`{"unterminated}`,
		"{1,2}trailing",
	}
	for _, in := range badInputs {
		_, err := reg.Decode("_int4", []byte(in), false, FormatText)
		assert.Error(t, err, "input %q", in)
	}
}

func TestArrayComponentOIDDerivation(t *testing.T) {
	name, ok := TypeNameForOID(OIDInt4Array)
	require.True(t, ok)
	require.Equal(t, "_int4", name)
	element, isArray := IsArrayTypeName(name)
	require.True(t, isArray)
	require.Equal(t, "int4", element)
}
