package tools

import (
	"encoding/json"
	"math"
	"strings"
)

// Arguments arrive either decoded from JSON ([]interface{}, float64) or
// built in Go by the rule planner ([]string, int). The registry has already
// checked their shape.

func stringArg(args map[string]interface{}, name string) string {
	s, _ := args[name].(string)
	return strings.TrimSpace(s)
}

func stringsArg(args map[string]interface{}, name string) []string {
	switch v := args[name].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func floatsArg(args map[string]interface{}, name string) []float64 {
	switch v := args[name].(type) {
	case []float64:
		return v
	case []interface{}:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			if f, ok := toFloat(item); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

// intArg reads a whole number capped at max. Values below zero read as zero.
func intArg(args map[string]interface{}, name string, def, max int) int {
	f, ok := toFloat(args[name])
	if !ok || math.IsNaN(f) {
		return def
	}
	if f >= float64(max) {
		return max
	}
	if f < 0 {
		return 0
	}
	return int(f)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
