package abilities

import (
	"encoding/json"
	"strconv"
)

// Parameter maps arrive from JSON-shaped callers, so values may be
// float64, int, json.Number or strings. These helpers coerce leniently.

func paramString(params map[string]interface{}, key string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func paramFloat(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return 0, false
	}
	return coerceFloat(v)
}

func paramStringSlice(params map[string]interface{}, key string) []string {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func paramFloatSlice(params map[string]interface{}, key string) []float64 {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []float64:
		return vv
	case []interface{}:
		out := make([]float64, 0, len(vv))
		for _, item := range vv {
			if f, ok := coerceFloat(item); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}

func coerceFloat(v interface{}) (float64, bool) {
	switch vv := v.(type) {
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	case int:
		return float64(vv), true
	case int64:
		return float64(vv), true
	case json.Number:
		f, err := vv.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(vv, 64)
		return f, err == nil
	}
	return 0, false
}
