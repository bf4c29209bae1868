package resp

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/respKV/common"
)

// --------------------------------------------------------------------------
// Value Kind Definition
// --------------------------------------------------------------------------

// Kind identifies which member of the Value union is populated.
type Kind uint8

const (
	// KindNull covers RESP3 "_" as well as the RESP2 nil bulk string and
	// nil array.
	KindNull Kind = iota
	KindSimpleString
	KindError
	KindInteger
	KindDouble
	KindBoolean
	KindBigNumber
	KindBulkString
	KindVerbatim
	KindArray
	KindMap
	KindSet
	KindPush
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindSimpleString:
		return "simple string"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindBoolean:
		return "boolean"
	case KindBigNumber:
		return "big number"
	case KindBulkString:
		return "bulk string"
	case KindVerbatim:
		return "verbatim string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	case KindSet:
		return "set"
	case KindPush:
		return "push"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Value
// --------------------------------------------------------------------------

// Value is the tagged union over all RESP reply kinds. Which fields are
// populated depends on Kind:
//
//   - Str: SimpleString, Error, BigNumber, Verbatim (without the type prefix)
//   - Int: Integer
//   - Double: Double
//   - Bool: Boolean
//   - Bulk: BulkString
//   - Elems: Array, Set, Push; for Map the pairs are flattened as
//     key0, value0, key1, value1, ...
//
// Values are transient: they are consumed immediately into either a command
// completion or a push event.
type Value struct {
	Kind   Kind
	Str    string
	Int    int64
	Double float64
	Bool   bool
	Bulk   []byte
	Elems  []Value
}

// --------------------------------------------------------------------------
// Factory Functions (used by tests and the fake server)
// --------------------------------------------------------------------------

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// SimpleString returns a simple string value.
func SimpleString(s string) Value { return Value{Kind: KindSimpleString, Str: s} }

// ErrorString returns an error value.
func ErrorString(s string) Value { return Value{Kind: KindError, Str: s} }

// Integer returns an integer value.
func Integer(i int64) Value { return Value{Kind: KindInteger, Int: i} }

// BulkString returns a bulk string value.
func BulkString(b []byte) Value { return Value{Kind: KindBulkString, Bulk: b} }

// Array returns an array value.
func Array(elems ...Value) Value { return Value{Kind: KindArray, Elems: elems} }

// Push returns a push value.
func Push(elems ...Value) Value { return Value{Kind: KindPush, Elems: elems} }

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// IsNull reports whether the value is the null value.
func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// Err converts an error value into a typed server error; it returns nil for
// every other kind.
func (v Value) Err() error {
	if v.Kind != KindError {
		return nil
	}
	return common.NewError(common.KindServer, "%s", v.Str)
}

// AsBytes returns the value as raw bytes. Works for bulk, simple and
// verbatim strings.
func (v Value) AsBytes() ([]byte, error) {
	switch v.Kind {
	case KindBulkString:
		return v.Bulk, nil
	case KindSimpleString, KindVerbatim, KindBigNumber:
		return []byte(v.Str), nil
	default:
		return nil, fmt.Errorf("cannot convert %s to bytes", v.Kind)
	}
}

// AsString returns the value as a string. Works for every scalar kind.
func (v Value) AsString() (string, error) {
	switch v.Kind {
	case KindBulkString:
		return string(v.Bulk), nil
	case KindSimpleString, KindVerbatim, KindBigNumber:
		return v.Str, nil
	case KindInteger:
		return strconv.FormatInt(v.Int, 10), nil
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'f', -1, 64), nil
	case KindBoolean:
		return strconv.FormatBool(v.Bool), nil
	default:
		return "", fmt.Errorf("cannot convert %s to string", v.Kind)
	}
}

// AsInt64 returns the value as an integer. String kinds are parsed.
func (v Value) AsInt64() (int64, error) {
	switch v.Kind {
	case KindInteger:
		return v.Int, nil
	case KindBulkString:
		return strconv.ParseInt(string(v.Bulk), 10, 64)
	case KindSimpleString:
		return strconv.ParseInt(v.Str, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %s to integer", v.Kind)
	}
}

// AsBool returns the value as a boolean. Integers follow the 0/1
// convention used by RESP2 replies.
func (v Value) AsBool() (bool, error) {
	switch v.Kind {
	case KindBoolean:
		return v.Bool, nil
	case KindInteger:
		return v.Int != 0, nil
	case KindSimpleString:
		return v.Str == "OK", nil
	default:
		return false, fmt.Errorf("cannot convert %s to boolean", v.Kind)
	}
}

// AsStringSlice returns an aggregate value as a slice of strings.
func (v Value) AsStringSlice() ([]string, error) {
	switch v.Kind {
	case KindArray, KindSet, KindPush:
		out := make([]string, 0, len(v.Elems))
		for _, e := range v.Elems {
			s, err := e.AsString()
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case KindNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("cannot convert %s to string slice", v.Kind)
	}
}
