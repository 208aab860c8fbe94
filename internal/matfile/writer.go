package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zlib"
)

var le = binary.LittleEndian

// Var is a named top-level variable.
type Var struct {
	Name  string
	Value Value
}

// Writer encodes variables into a little-endian Level-5 MAT-file.
type Writer struct {
	w           io.Writer
	compress    bool
	wroteHeader bool
	now         func() time.Time
}

func NewWriter(w io.Writer, compress bool) *Writer {
	return &Writer{w: w, compress: compress, now: time.Now}
}

// WriteFile creates path and writes vars into it.
func WriteFile(path string, compress bool, vars ...Var) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
	}()
	w := NewWriter(fh, compress)
	for _, v := range vars {
		if err := w.Write(v.Name, v.Value); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush writes the header if no variable has been written yet.
func (w *Writer) Flush() error {
	return w.header()
}

func (w *Writer) header() error {
	if w.wroteHeader {
		return nil
	}
	text := "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: " + w.now().Format("Mon Jan _2 15:04:05 2006")
	buf := make([]byte, headerLen)
	copy(buf, text+strings.Repeat(" ", 116-len(text)))
	le.PutUint16(buf[124:], 0x0100)
	copy(buf[126:], "IM")
	if _, err := w.w.Write(buf); err != nil {
		return err
	}
	w.wroteHeader = true
	return nil
}

func (w *Writer) Write(name string, v Value) error {
	if err := w.header(); err != nil {
		return err
	}
	el, err := encodeMatrix(name, v)
	if err != nil {
		return fmt.Errorf("matfile: variable %q: %w", name, err)
	}
	if w.compress {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		if _, err := zw.Write(el); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		el = appendTag(nil, miCOMPRESSED, zbuf.Len())
		el = append(el, zbuf.Bytes()...)
	}
	_, err = w.w.Write(el)
	return err
}

func encodeMatrix(name string, v Value) ([]byte, error) {
	if v == nil {
		v = &Numeric{class: ClassDouble, dims: []int{0, 0}}
	}

	var flags uint32
	var body []byte
	switch t := v.(type) {
	case *Numeric:
		if numel(t.dims) != len(t.Data) {
			return nil, fmt.Errorf("dimensions %v do not match %d values", t.dims, len(t.Data))
		}
		flags = uint32(t.class)
		if t.Logical {
			flags = uint32(ClassUint8) | flagLogical
			data := make([]byte, len(t.Data))
			for i, x := range t.Data {
				if x != 0 {
					data[i] = 1
				}
			}
			body = appendElement(body, miUINT8, data)
			break
		}
		body = appendElement(body, miDOUBLE, doubles(t.Data))
		if t.Imag != nil {
			flags |= flagComplex
			body = appendElement(body, miDOUBLE, doubles(t.Imag))
		}
	case *Char:
		flags = uint32(ClassChar)
		data := make([]byte, 2*len(t.Runes))
		for i, r := range t.Runes {
			le.PutUint16(data[2*i:], uint16(r))
		}
		body = appendElement(body, miUINT16, data)
	case *Struct:
		flags = uint32(ClassStruct)
		width := 32
		for _, f := range t.Fields {
			if len(f)+1 > width {
				width = len(f) + 1
			}
		}
		body = appendElement(body, miINT32, int32s([]int{width}))
		names := make([]byte, width*len(t.Fields))
		for i, f := range t.Fields {
			copy(names[i*width:], f)
		}
		body = appendElement(body, miINT8, names)
		for _, elem := range t.Elems {
			for _, f := range t.Fields {
				sub, err := encodeMatrix("", elem[f])
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", f, err)
				}
				body = append(body, sub...)
			}
		}
	case *Cell:
		flags = uint32(ClassCell)
		for i, elem := range t.Elems {
			sub, err := encodeMatrix("", elem)
			if err != nil {
				return nil, fmt.Errorf("cell %d: %w", i, err)
			}
			body = append(body, sub...)
		}
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}

	var head []byte
	flagData := make([]byte, 8)
	le.PutUint32(flagData, flags)
	head = appendElement(head, miUINT32, flagData)
	head = appendElement(head, miINT32, int32s(v.Dims()))
	head = appendElement(head, miINT8, []byte(name))

	out := appendTag(nil, miMATRIX, len(head)+len(body))
	out = append(out, head...)
	return append(out, body...), nil
}

func appendTag(buf []byte, typ uint32, n int) []byte {
	tag := make([]byte, 8)
	le.PutUint32(tag, typ)
	le.PutUint32(tag[4:], uint32(n))
	return append(buf, tag...)
}

// appendElement writes one data element padded to eight bytes, using the
// small element format for payloads of one to four bytes.
func appendElement(buf []byte, typ uint32, data []byte) []byte {
	if n := len(data); n > 0 && n <= 4 {
		small := make([]byte, 8)
		le.PutUint32(small, uint32(n)<<16|typ)
		copy(small[4:], data)
		return append(buf, small...)
	}
	buf = appendTag(buf, typ, len(data))
	buf = append(buf, data...)
	if pad := (8 - len(data)%8) % 8; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

func doubles(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		le.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func int32s(values []int) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		le.PutUint32(out[4*i:], uint32(int32(v)))
	}
	return out
}

// NewScalar returns a 1x1 double.
func NewScalar(v float64) *Numeric {
	return &Numeric{class: ClassDouble, dims: []int{1, 1}, Data: []float64{v}}
}

// NewVector returns a 1xN double row vector.
func NewVector(values []float64) *Numeric {
	data := make([]float64, len(values))
	copy(data, values)
	return &Numeric{class: ClassDouble, dims: []int{1, len(values)}, Data: data}
}

// NewArray returns a double array with column-major data.
func NewArray(dims []int, data []float64) *Numeric {
	return &Numeric{class: ClassDouble, dims: append([]int(nil), dims...), Data: data}
}

// NewLogical returns a 1xN logical row vector.
func NewLogical(values []bool) *Numeric {
	data := make([]float64, len(values))
	for i, v := range values {
		if v {
			data[i] = 1
		}
	}
	return &Numeric{class: ClassUint8, dims: []int{1, len(values)}, Data: data, Logical: true}
}

// NewString returns a 1xN char array.
func NewString(s string) *Char {
	runes := []rune(s)
	return &Char{dims: []int{1, len(runes)}, Runes: runes}
}

// NewCell returns a 1xN cell array.
func NewCell(elems ...Value) *Cell {
	return &Cell{dims: []int{1, len(elems)}, Elems: elems}
}

// NewStruct returns a 1xN struct array with one element per map.
func NewStruct(fields []string, elems ...map[string]Value) *Struct {
	return &Struct{dims: []int{1, len(elems)}, Fields: fields, Elems: elems}
}
