package storage

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// PropsOf flattens the several shapes the driver uses for node and
// relationship properties into one map. Fallback order: plain map →
// driver node → driver relationship → nil.
func PropsOf(v any) map[string]any {
	switch x := v.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return x
	case dbtype.Node:
		return x.Props
	case *dbtype.Node:
		return x.Props
	case dbtype.Relationship:
		return x.Props
	case *dbtype.Relationship:
		return x.Props
	}
	return map[string]any{}
}

// propString reads a string property, treating nil as empty
func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

// propInt reads an integer property; Neo4j integers arrive as int64
func propInt(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// propTime reads a temporal property as time.Time when present
func propTime(props map[string]any, key string) (time.Time, bool) {
	if v, ok := props[key].(time.Time); ok {
		return v, true
	}
	return time.Time{}, false
}

// propStrings reads a list property of strings
func propStrings(props map[string]any, key string) []string {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// propFloats reads a list property as a float32 vector
func propFloats(props map[string]any, key string) []float32 {
	raw, ok := props[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch f := v.(type) {
		case float64:
			out = append(out, float32(f))
		case int64:
			out = append(out, float32(f))
		}
	}
	return out
}

// floatsToAny converts a vector for parameter passing; nil stays nil so
// the property is not written.
func floatsToAny(v []float32) any {
	if v == nil {
		return nil
	}
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// stringsToAny converts a string list for parameter passing
func stringsToAny(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}
