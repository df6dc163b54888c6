// ABOUTME: Typed property values attached to elements, classifications and relationships
// ABOUTME: Values keep their type through JSON persistence

package property

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ValueType names the primitive carried by a Value.
type ValueType string

const (
	TypeString     ValueType = "string"
	TypeInt        ValueType = "int"
	TypeFloat      ValueType = "float"
	TypeBool       ValueType = "bool"
	TypeTime       ValueType = "time"
	TypeStringList ValueType = "stringList"
	TypeStringMap  ValueType = "stringMap"
)

// Value is a tagged union of the supported property types.
type Value struct {
	Type  ValueType
	Str   string
	Int   int64
	Float float64
	Bool  bool
	Time  time.Time
	List  []string
	Map   map[string]string
}

func String(s string) Value { return Value{Type: TypeString, Str: s} }
func Int(i int64) Value { return Value{Type: TypeInt, Int: i} }
func Float(f float64) Value { return Value{Type: TypeFloat, Float: f} }
func Bool(b bool) Value { return Value{Type: TypeBool, Bool: b} }
func Time(t time.Time) Value { return Value{Type: TypeTime, Time: t.UTC()} }
func StringList(l ...string) Value { return Value{Type: TypeStringList, List: l} }
func StringMap(m map[string]string) Value { return Value{Type: TypeStringMap, Map: m} }

// Strings returns every string carried by the value: the value itself for
// strings, each item for lists and each map value for maps.
func (v Value) Strings() []string {
	switch v.Type {
	case TypeString:
		return []string{v.Str}
	case TypeStringList:
		return v.List
	case TypeStringMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, v.Map[k])
		}
		return out
	default:
		return nil
	}
}

// Text renders the value as a single string.
func (v Value) Text() string {
	switch v.Type {
	case TypeString:
		return v.Str
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeTime:
		return v.Time.Format(time.RFC3339Nano)
	case TypeStringList:
		return strings.Join(v.List, ",")
	case TypeStringMap:
		return strings.Join(v.Strings(), ",")
	default:
		return ""
	}
}

// Equal reports semantic equality.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case TypeString:
		return v.Str == o.Str
	case TypeInt:
		return v.Int == o.Int
	case TypeFloat:
		return v.Float == o.Float
	case TypeBool:
		return v.Bool == o.Bool
	case TypeTime:
		return v.Time.Equal(o.Time)
	case TypeStringList:
		return slices.Equal(v.List, o.List)
	case TypeStringMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, a := range v.Map {
			if b, ok := o.Map[k]; !ok || a != b {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Compare orders two values of compatible types. Ints and floats compare
// numerically. The second result is false when the types cannot be ordered.
func (v Value) Compare(o Value) (int, bool) {
	switch {
	case v.Type == TypeString && o.Type == TypeString:
		return strings.Compare(v.Str, o.Str), true
	case v.Type == TypeInt && o.Type == TypeInt:
		return cmpOrdered(v.Int, o.Int), true
	case isNumeric(v.Type) && isNumeric(o.Type):
		return cmpOrdered(v.number(), o.number()), true
	case v.Type == TypeTime && o.Type == TypeTime:
		return v.Time.Compare(o.Time), true
	case v.Type == TypeBool && o.Type == TypeBool:
		if v.Bool == o.Bool {
			return 0, true
		}
		if !v.Bool {
			return -1, true
		}
		return 1, true
	default:
		return 0, false
	}
}

func isNumeric(t ValueType) bool {
	return t == TypeInt || t == TypeFloat
}

func (v Value) number() float64 {
	if v.Type == TypeInt {
		return float64(v.Int)
	}
	return v.Float
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	if v.List != nil {
		v.List = slices.Clone(v.List)
	}
	if v.Map != nil {
		m := make(map[string]string, len(v.Map))
		for k, s := range v.Map {
			m[k] = s
		}
		v.Map = m
	}
	return v
}

type wireValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var raw any
	switch v.Type {
	case TypeString:
		raw = v.Str
	case TypeInt:
		raw = v.Int
	case TypeFloat:
		raw = v.Float
	case TypeBool:
		raw = v.Bool
	case TypeTime:
		raw = v.Time
	case TypeStringList:
		raw = v.List
	case TypeStringMap:
		raw = v.Map
	default:
		return nil, fmt.Errorf("unknown property type %q", v.Type)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Type, Value: data})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Value{Type: w.Type}
	var target any
	switch w.Type {
	case TypeString:
		target = &out.Str
	case TypeInt:
		target = &out.Int
	case TypeFloat:
		target = &out.Float
	case TypeBool:
		target = &out.Bool
	case TypeTime:
		target = &out.Time
	case TypeStringList:
		target = &out.List
	case TypeStringMap:
		target = &out.Map
	default:
		return fmt.Errorf("unknown property type %q", w.Type)
	}
	if err := json.Unmarshal(w.Value, target); err != nil {
		return fmt.Errorf("decode %s value: %w", w.Type, err)
	}
	*v = out
	return nil
}
