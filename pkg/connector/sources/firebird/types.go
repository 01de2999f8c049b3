package firebird

import (
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
)

// Native type codes stored in RDB$FIELDS.RDB$FIELD_TYPE.
const (
	typeSmallint    = 7
	typeInteger     = 8
	typeQuad        = 9
	typeFloat       = 10
	typeDFloat      = 11
	typeDate        = 12
	typeTime        = 13
	typeChar        = 14
	typeInt64       = 16
	typeBoolean     = 23
	typeDecFloat16  = 24
	typeDecFloat34  = 25
	typeInt128      = 26
	typeDouble      = 27
	typeTimeTZ      = 28
	typeTimestampTZ = 29
	typeTimestamp   = 35
	typeVarchar     = 37
	typeCString     = 40
	typeBlob        = 261
)

const nativeUnknown = "UNKNOWN"

var nativeTypeNames = map[int]string{
	typeBlob:        "BLOB",
	typeChar:        "CHAR",
	typeCString:     "CSTRING",
	typeDFloat:      "D_FLOAT",
	typeDouble:      "DOUBLE",
	typeFloat:       "FLOAT",
	typeInt64:       "INT64",
	typeInteger:     "INTEGER",
	typeQuad:        "QUAD",
	typeSmallint:    "SMALLINT",
	typeDate:        "DATE",
	typeTime:        "TIME",
	typeTimestamp:   "TIMESTAMP",
	typeVarchar:     "VARCHAR",
	typeBoolean:     "BOOLEAN",
	typeDecFloat16:  "DECFLOAT(16)",
	typeDecFloat34:  "DECFLOAT(34)",
	typeInt128:      "INT128",
	typeTimeTZ:      "TIME WITH TIME ZONE",
	typeTimestampTZ: "TIMESTAMP WITH TIME ZONE",
}

var baseTypes = map[string]core.BaseType{
	"CHAR":                     core.BaseTypeString,
	"VARCHAR":                  core.BaseTypeString,
	"CSTRING":                  core.BaseTypeString,
	"BLOB":                     core.BaseTypeString,
	"TIME":                     core.BaseTypeString,
	"TIME WITH TIME ZONE":      core.BaseTypeString,
	"BOOLEAN":                  core.BaseTypeString,
	"SMALLINT":                 core.BaseTypeInteger,
	"INTEGER":                  core.BaseTypeInteger,
	"INT64":                    core.BaseTypeInteger,
	"INT128":                   core.BaseTypeInteger,
	"NUMERIC":                  core.BaseTypeNumeric,
	"DECIMAL":                  core.BaseTypeNumeric,
	"FLOAT":                    core.BaseTypeFloat,
	"DOUBLE":                   core.BaseTypeFloat,
	"D_FLOAT":                  core.BaseTypeFloat,
	"DECFLOAT(16)":             core.BaseTypeFloat,
	"DECFLOAT(34)":             core.BaseTypeFloat,
	"DATE":                     core.BaseTypeDate,
	"TIMESTAMP":                core.BaseTypeTimestamp,
	"TIMESTAMP WITH TIME ZONE": core.BaseTypeTimestamp,
	"QUAD":                     core.BaseTypeUnknown,
	nativeUnknown:              core.BaseTypeUnknown,
}

// NativeTypeName maps a RDB$FIELD_TYPE code to its type name. Exact numerics
// are stored as integer codes with a sub-type: 1 is NUMERIC, 2 is DECIMAL.
func NativeTypeName(code, subType int) string {
	switch code {
	case typeSmallint, typeInteger, typeInt64, typeInt128:
		switch subType {
		case 1:
			return "NUMERIC"
		case 2:
			return "DECIMAL"
		}
	}

	if name, ok := nativeTypeNames[code]; ok {
		return name
	}
	return nativeUnknown
}

// BaseTypeOf canonicalizes a native type name.
func BaseTypeOf(nativeType string) core.BaseType {
	if baseType, ok := baseTypes[nativeType]; ok {
		return baseType
	}
	return core.BaseTypeUnknown
}
