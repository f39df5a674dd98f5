package pgtype

// Well-known type OIDs, restricted to the set the default registry actually
// converts. Names follow pg_type.typname; array variants are named with a
// leading underscore, matching Postgres's own convention for
// pg_type.typname of array types (e.g. "_int4" for int4[]). The array
// name's component type is always the name with that underscore stripped,
// which is how the array converter derives a component type from an array
// type name without a second lookup table.
const (
	OIDBool        uint32 = 16
	OIDBytea       uint32 = 17
	OIDInt8        uint32 = 20
	OIDInt2        uint32 = 21
	OIDInt4        uint32 = 23
	OIDText        uint32 = 25
	OIDFloat4      uint32 = 700
	OIDFloat8      uint32 = 701
	OIDBpchar      uint32 = 1042
	OIDVarchar     uint32 = 1043
	OIDTimestamp   uint32 = 1114
	OIDTimestamptz uint32 = 1184
	OIDInterval    uint32 = 1186
	OIDNumeric     uint32 = 1700
	OIDUUID        uint32 = 2950

	OIDBoolArray        uint32 = 1000
	OIDByteaArray       uint32 = 1001
	OIDInt8Array        uint32 = 1016
	OIDInt2Array        uint32 = 1005
	OIDInt4Array        uint32 = 1007
	OIDTextArray        uint32 = 1009
	OIDFloat4Array      uint32 = 1021
	OIDFloat8Array      uint32 = 1022
	OIDBpcharArray      uint32 = 1014
	OIDVarcharArray     uint32 = 1015
	OIDTimestampArray   uint32 = 1115
	OIDTimestamptzArray uint32 = 1185
	OIDIntervalArray    uint32 = 1187
	OIDNumericArray     uint32 = 1231
	OIDUUIDArray        uint32 = 2951
)

// TypeAny is the canonical name assigned to a column whose OID is unknown
// to the registry, or to an array's element type when the caller has not
// specified one (see array-of-arrays note in DESIGN.md).
const TypeAny = "any"

var oidNames = map[uint32]string{
	OIDBool:        "bool",
	OIDBytea:       "bytea",
	OIDInt8:        "int8",
	OIDInt2:        "int2",
	OIDInt4:        "int4",
	OIDText:        "text",
	OIDFloat4:      "float4",
	OIDFloat8:      "float8",
	OIDBpchar:      "bpchar",
	OIDVarchar:     "varchar",
	OIDTimestamp:   "timestamp",
	OIDTimestamptz: "timestamptz",
	OIDInterval:    "interval",
	OIDNumeric:     "numeric",
	OIDUUID:        "uuid",

	OIDBoolArray:        "_bool",
	OIDByteaArray:       "_bytea",
	OIDInt8Array:        "_int8",
	OIDInt2Array:        "_int2",
	OIDInt4Array:        "_int4",
	OIDTextArray:        "_text",
	OIDFloat4Array:      "_float4",
	OIDFloat8Array:      "_float8",
	OIDBpcharArray:      "_bpchar",
	OIDVarcharArray:     "_varchar",
	OIDTimestampArray:   "_timestamp",
	OIDTimestamptzArray: "_timestamptz",
	OIDIntervalArray:    "_interval",
	OIDNumericArray:     "_numeric",
	OIDUUIDArray:        "_uuid",
}

// TypeNameForOID returns the canonical registry key for a well-known OID,
// or (TypeAny, false) for anything the default registry doesn't recognize.
func TypeNameForOID(oid uint32) (string, bool) {
	name, ok := oidNames[oid]
	if !ok {
		return TypeAny, false
	}
	return name, true
}

// IsArrayTypeName reports whether name follows the "_element" array naming
// convention, and if so returns the element's canonical name.
func IsArrayTypeName(name string) (element string, ok bool) {
	if len(name) < 2 || name[0] != '_' {
		return "", false
	}
	return name[1:], true
}
