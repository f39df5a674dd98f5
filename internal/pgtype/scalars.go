package pgtype

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// NewDefaultRegistry builds the registry shipped with the module: integers,
// floats, booleans, text, timestamps, intervals, UUIDs, byte strings, and
// numeric/decimal.
func NewDefaultRegistry() *Registry {
	return newRegistry(map[string]Converter{
		"int2": intConverter{bits: 16},
		"int4": intConverter{bits: 32},
		"int8": intConverter{bits: 64},

		"float4": floatConverter{bits: 32},
		"float8": floatConverter{bits: 64},

		"bool": boolConverter{},

		"text":    textConverter{},
		"varchar": textConverter{},
		"bpchar":  textConverter{},

		"bytea": byteaConverter{},

		"timestamp":   timestampConverter{withZone: false},
		"timestamptz": timestampConverter{withZone: true},
		"interval":    intervalConverter{},

		"uuid": uuidConverter{},

		"numeric": numericConverter{},

		TypeAny: anyConverter{},
	})
}

var errInvalidInteger = errors.New("pgtype: invalid integer literal")

type intConverter struct{ bits int }

func (c intConverter) FromBytes(raw []byte, _ Format) (any, error) {
	n, err := parseInt64(raw)
	if err != nil {
		return nil, errors.Wrapf(errInvalidInteger, "%q", raw)
	}
	switch c.bits {
	case 16:
		if n < -1<<15 || n > 1<<15-1 {
			return nil, errors.Wrapf(errInvalidInteger, "%q overflows int16", raw)
		}
		return int16(n), nil
	case 32:
		if n < -1<<31 || n > 1<<31-1 {
			return nil, errors.Wrapf(errInvalidInteger, "%q overflows int32", raw)
		}
		return int32(n), nil
	default:
		return n, nil
	}
}

func (c intConverter) ToBytes(v any) (Format, []byte, error) {
	var n int64
	switch t := v.(type) {
	case int16:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case int:
		n = int64(t)
	default:
		return FormatText, nil, errors.Newf("pgtype: %T is not an integer", v)
	}
	return FormatText, []byte(strconv.FormatInt(n, 10)), nil
}

// parseInt64 is a byte-slice integer parser that avoids the string
// allocation strconv.ParseInt would need for a []byte input, and detects
// int64 overflow explicitly rather than relying on strconv's error text.
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, errors.New("empty integer literal")
	}
	neg := b[0] == '-'
	digits := b
	if neg || b[0] == '+' {
		digits = b[1:]
	}
	if len(digits) == 0 {
		return 0, errors.New("integer literal has no digits")
	}
	var n int64
	for _, ch := range digits {
		if ch < '0' || ch > '9' {
			return 0, errors.Newf("invalid digit %q", ch)
		}
		d := int64(ch - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, errors.New("integer literal overflows int64")
		}
		n = n*10 + d
	}
	if neg {
		n = -n
	}
	return n, nil
}

type floatConverter struct{ bits int }

func (c floatConverter) FromBytes(raw []byte, _ Format) (any, error) {
	s := string(raw)
	switch s {
	case "NaN":
		s = "NaN"
	case "Infinity":
		s = "+Inf"
	case "-Infinity":
		s = "-Inf"
	}
	f, err := strconv.ParseFloat(s, c.bits)
	if err != nil {
		return nil, errors.Wrapf(err, "pgtype: invalid float literal %q", raw)
	}
	if c.bits == 32 {
		return float32(f), nil
	}
	return f, nil
}

func (c floatConverter) ToBytes(v any) (Format, []byte, error) {
	var f float64
	switch t := v.(type) {
	case float32:
		f = float64(t)
	case float64:
		f = t
	default:
		return FormatText, nil, errors.Newf("pgtype: %T is not a float", v)
	}
	switch {
	case math.IsNaN(f):
		return FormatText, []byte("NaN"), nil
	case math.IsInf(f, 1):
		return FormatText, []byte("Infinity"), nil
	case math.IsInf(f, -1):
		return FormatText, []byte("-Infinity"), nil
	}
	return FormatText, []byte(strconv.FormatFloat(f, 'g', -1, c.bits)), nil
}

type boolConverter struct{}

func (c boolConverter) FromBytes(raw []byte, _ Format) (any, error) {
	switch strings.ToLower(string(raw)) {
	case "t", "true", "yes", "on", "1":
		return true, nil
	case "f", "false", "no", "off", "0":
		return false, nil
	default:
		return nil, errors.Newf("pgtype: invalid boolean literal %q", raw)
	}
}

func (c boolConverter) ToBytes(v any) (Format, []byte, error) {
	b, ok := v.(bool)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not a bool", v)
	}
	if b {
		return FormatText, []byte("t"), nil
	}
	return FormatText, []byte("f"), nil
}

type textConverter struct{}

func (c textConverter) FromBytes(raw []byte, _ Format) (any, error) {
	return string(raw), nil
}

func (c textConverter) ToBytes(v any) (Format, []byte, error) {
	s, ok := v.(string)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not a string", v)
	}
	return FormatText, []byte(s), nil
}

type byteaConverter struct{}

func (c byteaConverter) FromBytes(raw []byte, _ Format) (any, error) {
	if len(raw) < 2 || raw[0] != '\\' || raw[1] != 'x' {
		return nil, errors.Newf("pgtype: bytea literal missing \\x prefix: %q", raw)
	}
	decoded := make([]byte, hex.DecodedLen(len(raw)-2))
	if _, err := hex.Decode(decoded, raw[2:]); err != nil {
		return nil, errors.Wrap(err, "pgtype: invalid bytea hex payload")
	}
	return decoded, nil
}

func (c byteaConverter) ToBytes(v any) (Format, []byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return FormatText, nil, errors.Newf("pgtype: %T is not []byte", v)
	}
	out := make([]byte, 2+hex.EncodedLen(len(b)))
	out[0], out[1] = '\\', 'x'
	hex.Encode(out[2:], b)
	return FormatText, out, nil
}

// anyConverter is used for columns whose OID is not in the default table
// and for array elements left deliberately untyped (see the
// array-of-arrays design note): it passes raw bytes through unchanged.
type anyConverter struct{}

func (c anyConverter) FromBytes(raw []byte, _ Format) (any, error) {
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (c anyConverter) ToBytes(v any) (Format, []byte, error) {
	switch t := v.(type) {
	case []byte:
		return FormatText, t, nil
	case string:
		return FormatText, []byte(t), nil
	default:
		return FormatText, nil, errors.Newf("pgtype: %T has no default text form", v)
	}
}
