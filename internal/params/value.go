// Package params models check parameters as a closed variant type and resolves
// deferred values (predictive levels, only_from, injected parameters) at evaluation time.
package params

import (
	"fmt"
	"sort"
)

// PostprocessedTag marks a three element sequence as a deferred value.
const PostprocessedTag = "cmk_postprocessed"

// InjectedKey is the legacy mapping key whose value is replaced by the injected parameters.
const InjectedKey = "__injected__"

// Value is one node of a parameter structure: Scalar, List, Map or Deferred.
type Value interface {
	isValue()
}

// Scalar holds a string, bool, int, float64 or nil.
type Scalar struct {
	V any
}

// List is an ordered sequence. Tuple marks fixed-size sequences.
type List struct {
	Items []Value
	Tuple bool
}

// Map is a string keyed mapping.
type Map struct {
	Entries map[string]Value
}

// Deferred is a value resolved at evaluation time by the named strategy.
type Deferred struct {
	Strategy string
	Payload  Value
}

func (Scalar) isValue()   {}
func (List) isValue()     {}
func (Map) isValue()      {}
func (Deferred) isValue() {}

// Null is the nil scalar.
var Null = Scalar{}

// Str returns a string scalar.
func Str(s string) Scalar { return Scalar{V: s} }

// Float returns a float scalar.
func Float(f float64) Scalar { return Scalar{V: f} }

// Tuple returns a tuple of the given values.
func Tuple(items ...Value) List { return List{Items: items, Tuple: true} }

// NewMap builds a Map from entries.
func NewMap(entries map[string]Value) Map {
	if entries == nil {
		entries = map[string]Value{}
	}
	return Map{Entries: entries}
}

// Keys returns the map keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m.Entries))
	for k := range m.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the entry for key.
func (m Map) Get(key string) (Value, bool) {
	v, ok := m.Entries[key]
	return v, ok
}

// String returns the scalar string value, if it is one.
func (s Scalar) String() (string, bool) {
	str, ok := s.V.(string)
	return str, ok
}

// FromAny converts decoded YAML/JSON data into a Value.
// A three element sequence starting with PostprocessedTag whose second element
// is a string becomes a Deferred.
func FromAny(v any) Value {
	switch t := v.(type) {
	case nil:
		return Null
	case Value:
		return t
	case map[string]any:
		entries := make(map[string]Value, len(t))
		for k, val := range t {
			entries[k] = FromAny(val)
		}
		return Map{Entries: entries}
	case map[any]any:
		entries := make(map[string]Value, len(t))
		for k, val := range t {
			entries[fmt.Sprint(k)] = FromAny(val)
		}
		return Map{Entries: entries}
	case []any:
		if len(t) == 3 {
			if tag, ok := t[0].(string); ok && tag == PostprocessedTag {
				if strategy, ok := t[1].(string); ok {
					return Deferred{Strategy: strategy, Payload: FromAny(t[2])}
				}
			}
		}
		items := make([]Value, len(t))
		for i, val := range t {
			items[i] = FromAny(val)
		}
		return List{Items: items}
	case []string:
		items := make([]Value, len(t))
		for i, val := range t {
			items[i] = Str(val)
		}
		return List{Items: items}
	case int:
		return Scalar{V: t}
	case int64:
		return Scalar{V: int(t)}
	case float32:
		return Scalar{V: float64(t)}
	default:
		return Scalar{V: t}
	}
}

// ToAny converts a Value back into plain Go data for plugins.
// Deferred values that were not resolved are rendered in their tagged sequence form.
func ToAny(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Scalar:
		return t.V
	case List:
		out := make([]any, len(t.Items))
		for i, item := range t.Items {
			out[i] = ToAny(item)
		}
		return out
	case Map:
		out := make(map[string]any, len(t.Entries))
		for k, item := range t.Entries {
			out[k] = ToAny(item)
		}
		return out
	case Deferred:
		return []any{PostprocessedTag, t.Strategy, ToAny(t.Payload)}
	}
	panic(fmt.Sprintf("params: unknown value type %T", v))
}
