package models

import (
	"encoding/json"
	"fmt"
	"math"

	"gorm.io/datatypes"
)

const (
	posInf = "Infinity"
	negInf = "-Infinity"
)

// EncodeFloats stores a float sequence as a JSON array. NaN is written as
// null and ±Inf as the strings "Infinity" and "-Infinity".
func EncodeFloats(values []float64) datatypes.JSON {
	items := make([]any, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			items[i] = nil
		case math.IsInf(v, 1):
			items[i] = posInf
		case math.IsInf(v, -1):
			items[i] = negInf
		default:
			items[i] = v
		}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		// Only finite floats, strings and nil are marshalled.
		panic(err)
	}
	return datatypes.JSON(raw)
}

// DecodeFloats is the inverse of EncodeFloats.
func DecodeFloats(raw datatypes.JSON) ([]float64, error) {
	if len(raw) == 0 {
		return []float64{}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode float blob: %w", err)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		switch string(item) {
		case "null":
			out[i] = math.NaN()
		case `"` + posInf + `"`:
			out[i] = math.Inf(1)
		case `"` + negInf + `"`:
			out[i] = math.Inf(-1)
		default:
			if err := json.Unmarshal(item, &out[i]); err != nil {
				return nil, fmt.Errorf("decode float blob item %d: %w", i, err)
			}
		}
	}
	return out, nil
}
