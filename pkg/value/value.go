// Package value implements the structured values that cross the plugin
// boundary: null, bool, number, string, ordered array and ordered object.
//
// Objects keep their members in the order they were built or decoded, and
// numbers keep their literal text, so a decode/encode round trip reproduces
// both key order and number representation exactly.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Pair builds an object member.
func Pair(key string, v Value) Member {
	return Member{Key: key, Value: v}
}

// Value is an immutable structured value. The zero Value is null.
type Value struct {
	kind    Kind
	b       bool
	s       string // string content, or the literal text of a number
	items   []Value
	members []Member
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer number.
func Int(i int64) Value {
	return Value{kind: KindNumber, s: strconv.FormatInt(i, 10)}
}

// Uint returns an unsigned integer number.
func Uint(u uint64) Value {
	return Value{kind: KindNumber, s: strconv.FormatUint(u, 10)}
}

// Float returns a floating point number. The literal always carries a
// fraction or an exponent so it never decodes back as an integer.
// NaN and infinities are not representable and become null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	lit := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(lit, ".eE") {
		lit += ".0"
	}
	return Value{kind: KindNumber, s: lit}
}

// Number returns a number from its literal text, e.g. "12", "-0.5", "1e10".
func Number(literal string) (Value, error) {
	if !isNumberLiteral(literal) {
		return Value{}, fmt.Errorf("%s - invalid number literal %q", logPrefix, literal)
	}
	return Value{kind: KindNumber, s: literal}, nil
}

// Array returns an array holding a copy of items.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, items: cp}
}

// Object returns an object holding a copy of members, in the given order.
func Object(members ...Member) Value {
	cp := make([]Member, len(members))
	copy(cp, members)
	return Value{kind: KindObject, members: cp}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean content, false for non-bool values.
func (v Value) AsBool() bool { return v.kind == KindBool && v.b }

// AsString returns the string content, "" for non-string values.
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// Literal returns the literal text of a number, "" for non-number values.
func (v Value) Literal() string {
	if v.kind != KindNumber {
		return ""
	}
	return v.s
}

// IsInteger reports whether v is a number written without fraction or exponent.
func (v Value) IsInteger() bool {
	return v.kind == KindNumber && !strings.ContainsAny(v.s, ".eE")
}

// Int64 parses an integer number.
func (v Value) Int64() (int64, error) {
	if v.kind != KindNumber {
		return 0, fmt.Errorf("%s - %s is not a number", logPrefix, v.kind)
	}
	return strconv.ParseInt(v.s, 10, 64)
}

// Float64 parses any number as a float.
func (v Value) Float64() (float64, error) {
	if v.kind != KindNumber {
		return 0, fmt.Errorf("%s - %s is not a number", logPrefix, v.kind)
	}
	return strconv.ParseFloat(v.s, 64)
}

// Len returns the number of array items or object members.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return len(v.members)
	default:
		return 0
	}
}

// Index returns the i-th array item, or null when out of range.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.items) {
		return Null()
	}
	return v.items[i]
}

// Items returns a copy of the array items.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	cp := make([]Value, len(v.items))
	copy(cp, v.items)
	return cp
}

// Members returns a copy of the object members in order.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	cp := make([]Member, len(v.members))
	copy(cp, v.members)
	return cp
}

// Keys returns the object keys in order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, len(v.members))
	for i, m := range v.members {
		keys[i] = m.Key
	}
	return keys
}

// Get looks up an object member. When a key repeats, the last one wins.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null(), false
	}
	for i := len(v.members) - 1; i >= 0; i-- {
		if v.members[i].Key == key {
			return v.members[i].Value, true
		}
	}
	return Null(), false
}

// Equal reports whether v and o are structurally identical, including
// object key order and number literals.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber, KindString:
		return v.s == o.s
	case KindArray:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.members) != len(o.members) {
			return false
		}
		for i := range v.members {
			if v.members[i].Key != o.members[i].Key || !v.members[i].Value.Equal(o.members[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// String returns the encoded form, mainly for logs and test output.
func (v Value) String() string {
	return string(Encode(v))
}
