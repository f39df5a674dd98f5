package pgtype

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverterNullLaw(t *testing.T) {
	// A null column decodes to (nil, nil) for every converter, checked
	// here at the registry entry point every caller actually uses.
	reg := NewDefaultRegistry()
	for _, typeName := range []string{
		"int2", "int4", "int8", "float4", "float8", "bool",
		"text", "varchar", "bpchar", "bytea",
		"timestamp", "timestamptz", "interval", "uuid", "numeric",
		"_int4", "_text", TypeAny,
	} {
		v, err := reg.Decode(typeName, []byte("garbage that would fail every converter"), true, FormatText)
		require.NoError(t, err, "type %q", typeName)
		assert.Nil(t, v, "type %q", typeName)
	}
}

func TestScalarRoundTrips(t *testing.T) {
	reg := NewDefaultRegistry()

	ts, err := time.Parse(time.RFC3339, "2024-03-05T12:34:56Z")
	require.NoError(t, err)

	cases := []struct {
		typeName string
		value    any
	}{
		{"int2", int16(-42)},
		{"int4", int32(123456)},
		{"int8", int64(-9000000000)},
		{"float4", float32(3.5)},
		{"float8", float64(-2.25)},
		{"bool", true},
		{"bool", false},
		{"text", "hello, world"},
		{"bytea", []byte{0x00, 0x01, 0xFF}},
		{"timestamptz", ts},
		{"uuid", uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")},
		{"numeric", decimal.RequireFromString("123.456")},
		{"interval", Interval("1 year 2 mons 3 days 04:05:06.789")},
	}

	for _, tc := range cases {
		_, raw, err := reg.Encode(tc.typeName, tc.value)
		require.NoError(t, err, tc.typeName)
		decoded, err := reg.Decode(tc.typeName, raw, false, FormatText)
		require.NoError(t, err, tc.typeName)
		if ts, ok := tc.value.(time.Time); ok {
			assert.True(t, ts.Equal(decoded.(time.Time)), tc.typeName)
			continue
		}
		assert.Equal(t, tc.value, decoded, tc.typeName)
	}
}

func TestFloatSpecials(t *testing.T) {
	reg := NewDefaultRegistry()
	for _, raw := range []string{"NaN", "Infinity", "-Infinity"} {
		v, err := reg.Decode("float8", []byte(raw), false, FormatText)
		require.NoError(t, err, raw)
		_, encoded, err := reg.Encode("float8", v)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, string(encoded))
	}
}

func TestBoolAcceptsAllTextForms(t *testing.T) {
	reg := NewDefaultRegistry()
	truthy := []string{"t", "T", "true", "TRUE", "yes", "on", "1"}
	falsy := []string{"f", "F", "false", "FALSE", "no", "off", "0"}
	for _, raw := range truthy {
		v, err := reg.Decode("bool", []byte(raw), false, FormatText)
		require.NoError(t, err, raw)
		assert.Equal(t, true, v, raw)
	}
	for _, raw := range falsy {
		v, err := reg.Decode("bool", []byte(raw), false, FormatText)
		require.NoError(t, err, raw)
		assert.Equal(t, false, v, raw)
	}
}

func TestNoConversionForUnknownType(t *testing.T) {
	reg := NewDefaultRegistry()
	_, err := reg.Decode("box", []byte("(1,1),(0,0)"), false, FormatText)
	require.Error(t, err)
}
