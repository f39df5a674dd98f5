package pgtype

import "github.com/cockroachdb/errors"

// ErrNoConversion is returned when no converter is registered for a type
// name and the name does not resolve to an array of a known type either.
var ErrNoConversion = errors.New("pgtype: no converter registered for type")

// ErrInvalidConvertDataType is returned when a converter produces a nil
// value for non-null raw input. That is always a codec bug, in this
// library or in a user-supplied converter, never a data problem.
var ErrInvalidConvertDataType = errors.New("pgtype: converter returned nil for non-null input")

// Format mirrors the wire format code carried on RowDescription/Bind:
// text is mandatory for every converter, binary is opt-in.
type Format int16

const (
	FormatText   Format = 0
	FormatBinary Format = 1
)

// Converter maps one Postgres type (identified by its canonical name, see
// TypeNameForOID) to and from a Go value. Converters are stateless and
// safe for concurrent use; the default registry's converters hold at most
// fixed settings chosen at construction (a bit width, a zone flag, an
// element converter).
type Converter interface {
	// FromBytes decodes a non-null column value. The registry, not the
	// converter, handles the null case (see Registry.Decode).
	FromBytes(raw []byte, format Format) (any, error)
	// ToBytes encodes v for use as a query parameter.
	ToBytes(v any) (Format, []byte, error)
}

// Registry is an immutable set of converters keyed by canonical type name.
// Build one with NewDefaultRegistry or Registry.Extend; there is no way to
// mutate a Registry in place.
type Registry struct {
	byName map[string]Converter
}

func newRegistry(byName map[string]Converter) *Registry {
	return &Registry{byName: byName}
}

// Extend returns a new Registry containing extra plus every converter of r
// not shadowed by extra. This lets user code override or add types without
// mutating the shared default registry.
func (r *Registry) Extend(extra map[string]Converter) *Registry {
	merged := make(map[string]Converter, len(r.byName)+len(extra))
	for name, conv := range r.byName {
		merged[name] = conv
	}
	for name, conv := range extra {
		merged[name] = conv
	}
	return newRegistry(merged)
}

// lookup resolves typeName to a Converter, recursing into the array
// grammar when typeName isn't registered directly but names an array of a
// type that is (a structural "array of T" fallback keyed on the naming
// convention in oid.go, rather than a separate array-type registration).
func (r *Registry) lookup(typeName string) (Converter, error) {
	if conv, ok := r.byName[typeName]; ok {
		return conv, nil
	}
	if element, ok := IsArrayTypeName(typeName); ok {
		elemConv, err := r.lookup(element)
		if err != nil {
			return nil, err
		}
		return newArrayConverter(elemConv), nil
	}
	return nil, errors.Wrapf(ErrNoConversion, "type %q", typeName)
}

// Decode looks up typeName and converts raw, honoring the null law: null
// raw input always decodes to a nil value, regardless of what the
// converter would otherwise do, and it is never given the chance to
// violate that.
func (r *Registry) Decode(typeName string, raw []byte, isNull bool, format Format) (any, error) {
	if isNull {
		return nil, nil
	}
	conv, err := r.lookup(typeName)
	if err != nil {
		return nil, err
	}
	v, err := conv.FromBytes(raw, format)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errors.Wrapf(ErrInvalidConvertDataType, "type %q", typeName)
	}
	return v, nil
}

// Encode looks up typeName and converts v to wire bytes for a query
// parameter. A nil v encodes as the wire null marker without consulting
// the converter.
func (r *Registry) Encode(typeName string, v any) (Format, []byte, error) {
	if v == nil {
		return FormatText, nil, nil
	}
	conv, err := r.lookup(typeName)
	if err != nil {
		return FormatText, nil, err
	}
	return conv.ToBytes(v)
}
