package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// FromInterface converts a Go value into a Value. Maps are converted with
// sorted keys; structs and other types go through encoding/json, which keeps
// struct field order.
func FromInterface(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case Encoded:
		return Decode(t)
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		return Number(string(t))
	case []Value:
		return Array(t...), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for i, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("%s - item %d: %w", logPrefix, i, err)
			}
			items = append(items, v)
		}
		return Value{kind: KindArray, items: items}, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]Member, 0, len(keys))
		for _, k := range keys {
			v, err := FromInterface(t[k])
			if err != nil {
				return Value{}, fmt.Errorf("%s - key %q: %w", logPrefix, k, err)
			}
			members = append(members, Member{Key: k, Value: v})
		}
		return Value{kind: KindObject, members: members}, nil
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return Value{}, fmt.Errorf("%s - cannot convert %T: %w", logPrefix, x, err)
		}
		return Decode(Encoded(data))
	}
}

// MustFromInterface is FromInterface for values known to be convertible.
func MustFromInterface(x interface{}) Value {
	v, err := FromInterface(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Interface converts v into plain Go values: nil, bool, json.Number, string,
// []interface{} and map[string]interface{}. Object key order is lost.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.s)
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.members))
		for _, m := range v.members {
			out[m.Key] = m.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// Unmarshal decodes v into a Go value with encoding/json semantics.
func (v Value) Unmarshal(target interface{}) error {
	return json.Unmarshal([]byte(Encode(v)), target)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(Encode(v)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(Encoded(data))
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}
