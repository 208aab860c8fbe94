package zarr

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	DTypeFloat64 = "<f8"
	DTypeInt64   = "<i8"
	DTypeBool    = "|b1"
	DTypeObject  = "|O"
)

// Reference points at another object of the hierarchy. Source "." is the
// hierarchy itself.
type Reference struct {
	ObjectID string `json:"object_id,omitempty"`
	Path     string `json:"path"`
	Source   string `json:"source"`
}

func Ref(path, objectID string) Reference {
	return Reference{Source: ".", Path: path, ObjectID: objectID}
}

// Array is an encoded in-memory array ready to be stored as one chunk.
type Array struct {
	Shape     []int
	DType     string
	FillValue any
	Filters   []map[string]any
	raw       []byte
}

// Len is the number of elements.
func (a Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func shapeOf(n int, shape []int) ([]int, error) {
	if len(shape) == 0 {
		return []int{n}, nil
	}
	total := 1
	for _, d := range shape {
		total *= d
	}
	if total != n {
		return nil, fmt.Errorf("zarr: shape %v does not hold %d values", shape, n)
	}
	return append([]int(nil), shape...), nil
}

// Float64s encodes values with the given shape, one-dimensional by default.
func Float64s(values []float64, shape ...int) (Array, error) {
	s, err := shapeOf(len(values), shape)
	if err != nil {
		return Array{}, err
	}
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(v))
	}
	return Array{Shape: s, DType: DTypeFloat64, FillValue: 0.0, raw: raw}, nil
}

func Int64s(values []int64, shape ...int) (Array, error) {
	s, err := shapeOf(len(values), shape)
	if err != nil {
		return Array{}, err
	}
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(v))
	}
	return Array{Shape: s, DType: DTypeInt64, FillValue: 0, raw: raw}, nil
}

func Bools(values []bool) Array {
	raw := make([]byte, len(values))
	for i, v := range values {
		if v {
			raw[i] = 1
		}
	}
	return Array{Shape: []int{len(values)}, DType: DTypeBool, FillValue: false, raw: raw}
}

// Strings encodes variable-length UTF-8 strings with the vlen-utf8 codec.
func Strings(values []string) Array {
	size := 4
	for _, v := range values {
		size += 4 + len(v)
	}
	raw := make([]byte, 4, size)
	binary.LittleEndian.PutUint32(raw, uint32(len(values)))
	for _, v := range values {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(v)))
		raw = append(raw, v...)
	}
	return Array{
		Shape:   []int{len(values)},
		DType:   DTypeObject,
		Filters: []map[string]any{{"id": "vlen-utf8"}},
		raw:     raw,
	}
}

// ScalarString is a zero-dimensional string array.
func ScalarString(v string) Array {
	a := Strings([]string{v})
	a.Shape = []int{}
	return a
}

// ScalarFloat64 is a zero-dimensional float array.
func ScalarFloat64(v float64) Array {
	a, _ := Float64s([]float64{v})
	a.Shape = []int{}
	return a
}

var json2Filter = map[string]any{
	"id":             "json2",
	"allow_nan":      true,
	"check_circular": true,
	"encoding":       "utf-8",
	"ensure_ascii":   true,
	"indent":         nil,
	"separators":     []string{",", ":"},
	"skipkeys":       false,
	"sort_keys":      true,
	"strict":         true,
}

// References encodes object references with the json2 codec: the items,
// then the dtype and the shape.
func References(refs []Reference) (Array, error) {
	items := make([]any, 0, len(refs)+2)
	for _, r := range refs {
		items = append(items, r)
	}
	items = append(items, DTypeObject, []int{len(refs)})
	raw, err := marshalJSON(items)
	if err != nil {
		return Array{}, err
	}
	return Array{
		Shape:   []int{len(refs)},
		DType:   DTypeObject,
		Filters: []map[string]any{json2Filter},
		raw:     raw,
	}, nil
}

// ObjectAttr wraps a reference for storage in .zattrs.
func ObjectAttr(ref Reference) map[string]any {
	return map[string]any{"zarr_dtype": "object", "value": ref}
}
