package sql

import "fmt"

type DataType int

const (
	BooleanType DataType = iota + 1
	IntegerType
	FloatType
	StringType
	BytesType
)

func (dt DataType) String() string {
	switch dt {
	case BooleanType:
		return "BOOL"
	case IntegerType:
		return "INT"
	case FloatType:
		return "DOUBLE"
	case StringType:
		return "VARCHAR"
	case BytesType:
		return "VARBINARY"
	}

	return ""
}

// Wire type codes; one byte per column in a serialized column header.
const (
	TinyIntCode   int8 = 3
	SmallIntCode  int8 = 4
	IntegerCode   int8 = 5
	BigIntCode    int8 = 6
	FloatCode     int8 = 8
	VarCharCode   int8 = 9
	VarBinaryCode int8 = 25
)

// TypeCode returns the wire code for a column of data type dt with the
// given size in bytes.
func TypeCode(dt DataType, size uint32) int8 {
	switch dt {
	case BooleanType:
		return TinyIntCode
	case IntegerType:
		switch size {
		case 2:
			return SmallIntCode
		case 4:
			return IntegerCode
		}
		return BigIntCode
	case FloatType:
		return FloatCode
	case StringType:
		return VarCharCode
	case BytesType:
		return VarBinaryCode
	}

	panic(fmt.Sprintf("sql: expected a valid data type; got %v", dt))
}

func TypeCodeName(code int8) string {
	switch code {
	case TinyIntCode:
		return "TINYINT"
	case SmallIntCode:
		return "SMALLINT"
	case IntegerCode:
		return "INTEGER"
	case BigIntCode:
		return "BIGINT"
	case FloatCode:
		return "DOUBLE"
	case VarCharCode:
		return "VARCHAR"
	case VarBinaryCode:
		return "VARBINARY"
	}

	return fmt.Sprintf("UNKNOWN(%d)", code)
}
