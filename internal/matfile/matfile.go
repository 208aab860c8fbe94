// Package matfile reads and writes MATLAB Level-5 MAT-files.
//
// Only the data classes found in processed ephys archives are supported:
// numeric and logical arrays, char arrays, structs and cells. Values keep
// MATLAB's column-major layout; the helpers in squeeze.go flatten singleton
// dimensions the way analysis code usually expects.
package matfile

import (
	"fmt"
	"math"
	"sort"
)

// Data element types.
const (
	miINT8       uint32 = 1
	miUINT8      uint32 = 2
	miINT16      uint32 = 3
	miUINT16     uint32 = 4
	miINT32      uint32 = 5
	miUINT32     uint32 = 6
	miSINGLE     uint32 = 7
	miDOUBLE     uint32 = 9
	miINT64      uint32 = 12
	miUINT64     uint32 = 13
	miMATRIX     uint32 = 14
	miCOMPRESSED uint32 = 15
	miUTF8       uint32 = 16
	miUTF16      uint32 = 17
	miUTF32      uint32 = 18
)

const (
	headerLen   = 128
	flagComplex = 0x0800
	flagLogical = 0x0200
)

// Class is the MATLAB array class.
type Class uint8

const (
	ClassCell     Class = 1
	ClassStruct   Class = 2
	ClassObject   Class = 3
	ClassChar     Class = 4
	ClassSparse   Class = 5
	ClassDouble   Class = 6
	ClassSingle   Class = 7
	ClassInt8     Class = 8
	ClassUint8    Class = 9
	ClassInt16    Class = 10
	ClassUint16   Class = 11
	ClassInt32    Class = 12
	ClassUint32   Class = 13
	ClassInt64    Class = 14
	ClassUint64   Class = 15
	ClassFunction Class = 16
	ClassOpaque   Class = 17
)

var classNames = map[Class]string{
	ClassCell:     "cell",
	ClassStruct:   "struct",
	ClassObject:   "object",
	ClassChar:     "char",
	ClassSparse:   "sparse",
	ClassDouble:   "double",
	ClassSingle:   "single",
	ClassInt8:     "int8",
	ClassUint8:    "uint8",
	ClassInt16:    "int16",
	ClassUint16:   "uint16",
	ClassInt32:    "int32",
	ClassUint32:   "uint32",
	ClassInt64:    "int64",
	ClassUint64:   "uint64",
	ClassFunction: "function_handle",
	ClassOpaque:   "opaque",
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

func (c Class) numeric() bool {
	return c >= ClassDouble && c <= ClassUint64
}

// Value is one MATLAB array.
type Value interface {
	Class() Class
	Dims() []int
}

// Numeric is a real numeric or logical array. Complex arrays keep their
// imaginary part in Imag.
type Numeric struct {
	class   Class
	dims    []int
	Data    []float64
	Imag    []float64
	Logical bool
}

func (n *Numeric) Class() Class { return n.class }
func (n *Numeric) Dims() []int  { return n.dims }
func (n *Numeric) Len() int     { return len(n.Data) }

// At returns element (i, j) of a two-dimensional array.
func (n *Numeric) At(i, j int) float64 {
	return n.Data[i+j*n.dims[0]]
}

// At3 returns element (i, j, k) of a three-dimensional array. Missing
// trailing dimensions are treated as 1.
func (n *Numeric) At3(i, j, k int) float64 {
	rows, cols := dim(n.dims, 0), dim(n.dims, 1)
	return n.Data[i+j*rows+k*rows*cols]
}

// Char is a character array; Runes is column-major like numeric data.
type Char struct {
	dims  []int
	Runes []rune
}

func (c *Char) Class() Class { return ClassChar }
func (c *Char) Dims() []int  { return c.dims }

// Rows returns each row of the array as a string.
func (c *Char) Rows() []string {
	rows, cols := dim(c.dims, 0), dim(c.dims, 1)
	if rows*cols != len(c.Runes) {
		return []string{string(c.Runes)}
	}
	out := make([]string, rows)
	buf := make([]rune, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			buf[j] = c.Runes[i+j*rows]
		}
		out[i] = string(buf)
	}
	return out
}

// Struct is a struct array. Elems holds one field map per element in
// column-major order.
type Struct struct {
	dims   []int
	Fields []string
	Elems  []map[string]Value
}

func (s *Struct) Class() Class { return ClassStruct }
func (s *Struct) Dims() []int  { return s.dims }

// Elem returns element i as a 1x1 struct.
func (s *Struct) Elem(i int) *Struct {
	return &Struct{dims: []int{1, 1}, Fields: s.Fields, Elems: []map[string]Value{s.Elems[i]}}
}

type Cell struct {
	dims  []int
	Elems []Value
}

func (c *Cell) Class() Class { return ClassCell }
func (c *Cell) Dims() []int  { return c.dims }

// File is a decoded MAT-file.
type File struct {
	Header string
	vars   map[string]Value
	order  []string
}

// Var returns the named top-level variable.
func (f *File) Var(name string) (Value, bool) {
	v, ok := f.vars[name]
	return v, ok
}

// Names lists the variables in file order.
func (f *File) Names() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// SortedNames lists the variables alphabetically.
func (f *File) SortedNames() []string {
	out := f.Names()
	sort.Strings(out)
	return out
}

func dim(dims []int, i int) int {
	if i < len(dims) {
		return dims[i]
	}
	return 1
}

func numel(dims []int) int {
	n, ok := elemCount(dims)
	if !ok {
		return 0
	}
	return n
}

// elemCount is numel that reports false for negative dimensions or a
// product that overflows int.
func elemCount(dims []int) (int, bool) {
	if len(dims) == 0 {
		return 0, true
	}
	for _, d := range dims {
		if d < 0 {
			return 0, false
		}
		if d == 0 {
			return 0, true
		}
	}
	n := 1
	for _, d := range dims {
		if n > math.MaxInt/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}
