package matfile

import (
	"fmt"
	"math"
	"strings"
)

// Field walks a chain of scalar struct fields.
func Field(v Value, path ...string) (Value, error) {
	cur := v
	for i, name := range path {
		s, ok := cur.(*Struct)
		if !ok {
			return nil, fmt.Errorf("%s: %s is not a struct", strings.Join(path[:i+1], "."), describe(cur))
		}
		if len(s.Elems) != 1 {
			return nil, fmt.Errorf("%s: struct array has %d elements", strings.Join(path[:i+1], "."), len(s.Elems))
		}
		next, ok := s.Elems[0][name]
		if !ok {
			return nil, fmt.Errorf("%s: no such field", strings.Join(path[:i+1], "."))
		}
		cur = next
	}
	return cur, nil
}

// Float returns the only element of a numeric array.
func Float(v Value) (float64, error) {
	n, ok := v.(*Numeric)
	if !ok {
		return 0, fmt.Errorf("want numeric scalar, got %s", describe(v))
	}
	if len(n.Data) != 1 {
		return 0, fmt.Errorf("want numeric scalar, got %d elements", len(n.Data))
	}
	return n.Data[0], nil
}

// Int returns the only element of a numeric array as an integer.
func Int(v Value) (int, error) {
	f, err := Float(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("want integer, got %v", f)
	}
	return int(f), nil
}

// Floats flattens a numeric array in column-major order. An empty matrix
// yields an empty slice.
func Floats(v Value) ([]float64, error) {
	switch t := v.(type) {
	case nil:
		return []float64{}, nil
	case *Numeric:
		out := make([]float64, len(t.Data))
		copy(out, t.Data)
		return out, nil
	case *Cell:
		if len(t.Elems) == 0 {
			return []float64{}, nil
		}
	}
	return nil, fmt.Errorf("want numeric array, got %s", describe(v))
}

// String returns a single-row (or single-column) char array as text.
func String(v Value) (string, error) {
	c, ok := v.(*Char)
	if !ok {
		if n, isNum := v.(*Numeric); isNum && len(n.Data) == 0 {
			return "", nil
		}
		return "", fmt.Errorf("want string, got %s", describe(v))
	}
	if dim(c.dims, 0) > 1 && dim(c.dims, 1) > 1 {
		return "", fmt.Errorf("want string, got %dx%d char array", c.dims[0], c.dims[1])
	}
	return string(c.Runes), nil
}

// Strings returns the strings of a cell of char arrays, the rows of a char
// matrix, or a single string wrapped in a slice.
func Strings(v Value) ([]string, error) {
	switch t := v.(type) {
	case *Cell:
		out := make([]string, 0, len(t.Elems))
		for i, elem := range t.Elems {
			s, err := String(elem)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	case *Char:
		rows := t.Rows()
		for i := range rows {
			rows[i] = strings.TrimRight(rows[i], " ")
		}
		return rows, nil
	}
	return nil, fmt.Errorf("want strings, got %s", describe(v))
}

// Items splits an array into its elements: cell contents, 1x1 structs of a
// struct array, or numeric scalars. A char array is a single item.
func Items(v Value) ([]Value, error) {
	switch t := v.(type) {
	case *Cell:
		return t.Elems, nil
	case *Struct:
		out := make([]Value, len(t.Elems))
		for i := range t.Elems {
			out[i] = t.Elem(i)
		}
		return out, nil
	case *Numeric:
		out := make([]Value, len(t.Data))
		for i, x := range t.Data {
			out[i] = &Numeric{class: t.class, dims: []int{1, 1}, Data: []float64{x}, Logical: t.Logical}
		}
		return out, nil
	case *Char:
		return []Value{t}, nil
	}
	return nil, fmt.Errorf("want array, got %s", describe(v))
}

func describe(v Value) string {
	if v == nil {
		return "nothing"
	}
	dims := make([]string, len(v.Dims()))
	for i, d := range v.Dims() {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s %s", strings.Join(dims, "x"), v.Class())
}
