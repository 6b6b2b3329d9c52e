package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is a JSON value reduced to a closed set of kinds so sanitization can
// walk every payload the same way regardless of its Go type.
type Value interface {
	auditValue()
}

type (
	Null   struct{}
	Bool   bool
	Number json.Number
	String string
	Array  []Value
	Object map[string]Value
)

func (Null) auditValue()   {}
func (Bool) auditValue()   {}
func (Number) auditValue() {}
func (String) auditValue() {}
func (Array) auditValue()  {}
func (Object) auditValue() {}

func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

func (n Number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

const (
	// DefaultMaxDepth bounds container nesting kept by FromAny.
	DefaultMaxDepth = 32
	depthMarker     = "[MAX_DEPTH]"
)

// FromAny converts v into a Value. Structs go through their JSON encoding,
// so json tags decide the keys. Containers nested deeper than maxDepth are
// replaced by the string "[MAX_DEPTH]"; maxDepth <= 0 uses DefaultMaxDepth.
func FromAny(v any, maxDepth int) (Value, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if val, ok := v.(Value); ok {
		return clip(val, 0, maxDepth), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit: encode payload: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("audit: decode payload: %w", err)
	}
	return fromGeneric(generic, 0, maxDepth), nil
}

func fromGeneric(v any, depth, maxDepth int) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case bool:
		return Bool(x)
	case json.Number:
		return Number(x)
	case string:
		return String(x)
	case []any:
		if depth >= maxDepth {
			return String(depthMarker)
		}
		arr := make(Array, len(x))
		for i, item := range x {
			arr[i] = fromGeneric(item, depth+1, maxDepth)
		}
		return arr
	case map[string]any:
		if depth >= maxDepth {
			return String(depthMarker)
		}
		obj := make(Object, len(x))
		for k, item := range x {
			obj[k] = fromGeneric(item, depth+1, maxDepth)
		}
		return obj
	default:
		return String(fmt.Sprint(x))
	}
}

func clip(v Value, depth, maxDepth int) Value {
	switch x := v.(type) {
	case nil:
		return Null{}
	case Array:
		if depth >= maxDepth {
			return String(depthMarker)
		}
		out := make(Array, len(x))
		for i, item := range x {
			out[i] = clip(item, depth+1, maxDepth)
		}
		return out
	case Object:
		if depth >= maxDepth {
			return String(depthMarker)
		}
		out := make(Object, len(x))
		for k, item := range x {
			out[k] = clip(item, depth+1, maxDepth)
		}
		return out
	default:
		return v
	}
}
