// Package fingerprint builds the stable cache keys that identify an operation
// invoked with a particular set of parameters.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Separator joins the operation name to its serialized parameters.
const Separator = "::"

// Params are the named arguments an operation is invoked with.
type Params map[string]any

// Key returns the fingerprint for operation invoked with params. Parameter
// names are sorted before serializing, so insertion order never changes the
// key. An empty operation name yields an empty key.
func Key(operation string, params Params) string {
	if operation == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(operation)
	b.WriteString(Separator)
	writeObject(&b, params)
	return b.String()
}

// With returns a copy of p with the extra name/value pairs applied.
func (p Params) With(kv map[string]any) Params {
	out := make(Params, len(p)+len(kv))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range kv {
		out[k] = v
	}
	return out
}

func writeObject(b *strings.Builder, m map[string]any) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		writeScalar(b, name)
		b.WriteByte(':')
		writeValue(b, m[name])
	}
	b.WriteByte('}')
}

func writeValue(b *strings.Builder, v any) {
	switch val := v.(type) {
	case Params:
		writeObject(b, val)
	case map[string]any:
		writeObject(b, val)
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, item)
		}
		b.WriteByte(']')
	default:
		writeScalar(b, val)
	}
}

// writeScalar serializes v as JSON, falling back to its quoted %v form for
// values JSON cannot represent (funcs, channels, cycles).
func writeScalar(b *strings.Builder, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	b.Write(raw)
}
