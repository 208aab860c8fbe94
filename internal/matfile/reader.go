package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

type element struct {
	typ  uint32
	data []byte
}

type decoder struct {
	order binary.ByteOrder
}

// Open reads the MAT-file at path.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Read(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Read decodes a Level-5 MAT-file.
func Read(r io.Reader) (*File, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) < headerLen {
		return nil, fmt.Errorf("matfile: short header (%d bytes)", len(raw))
	}

	var d decoder
	switch string(raw[126:128]) {
	case "IM":
		d.order = binary.LittleEndian
	case "MI":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("matfile: bad endian indicator %q", raw[126:128])
	}
	if version := d.order.Uint16(raw[124:126]); version != 0x0100 {
		return nil, fmt.Errorf("matfile: unsupported version 0x%04x", version)
	}

	f := &File{
		Header: strings.TrimRight(string(raw[:116]), " \x00"),
		vars:   map[string]Value{},
	}
	body := raw[headerLen:]
	for len(body) > 0 {
		el, rest, err := d.next(body, true)
		if err != nil {
			return nil, err
		}
		body = rest

		switch el.typ {
		case miCOMPRESSED:
			inner, err := inflate(el.data)
			if err != nil {
				return nil, err
			}
			el, _, err = d.next(inner, false)
			if err != nil {
				return nil, err
			}
			if el.typ != miMATRIX {
				continue
			}
		case miMATRIX:
		default:
			continue
		}

		name, v, err := d.matrix(el.data)
		if err != nil {
			if name != "" {
				return nil, fmt.Errorf("matfile: variable %q: %w", name, err)
			}
			return nil, fmt.Errorf("matfile: %w", err)
		}
		if _, dup := f.vars[name]; !dup {
			f.order = append(f.order, name)
		}
		f.vars[name] = v
	}
	return f, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("matfile: compressed element: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("matfile: compressed element: %w", err)
	}
	return out, nil
}

// next splits the first data element off buf. Compressed elements at the
// top level are not padded, so pad applies only to other types.
func (d decoder) next(buf []byte, pad bool) (element, []byte, error) {
	if len(buf) < 8 {
		return element{}, nil, fmt.Errorf("truncated tag (%d bytes)", len(buf))
	}
	head := d.order.Uint32(buf[:4])
	if small := head >> 16; small != 0 {
		if small > 4 {
			return element{}, nil, fmt.Errorf("bad small element size %d", small)
		}
		return element{typ: head & 0xffff, data: buf[4 : 4+small]}, buf[8:], nil
	}

	n := int(d.order.Uint32(buf[4:8]))
	if n < 0 || 8+n > len(buf) {
		return element{}, nil, fmt.Errorf("element type %d claims %d bytes, %d left", head, n, len(buf)-8)
	}
	el := element{typ: head, data: buf[8 : 8+n]}
	end := 8 + n
	if pad && head != miCOMPRESSED {
		end = (end + 7) &^ 7
		if end > len(buf) {
			end = len(buf)
		}
	}
	return el, buf[end:], nil
}

func (d decoder) matrix(data []byte) (string, Value, error) {
	if len(data) == 0 {
		return "", &Numeric{class: ClassDouble, dims: []int{0, 0}, Data: []float64{}}, nil
	}

	flagsEl, rest, err := d.next(data, true)
	if err != nil {
		return "", nil, err
	}
	if flagsEl.typ != miUINT32 || len(flagsEl.data) < 4 {
		return "", nil, fmt.Errorf("bad array flags")
	}
	flags := d.order.Uint32(flagsEl.data[:4])
	class := Class(flags & 0xff)

	dimsEl, rest, err := d.next(rest, true)
	if err != nil {
		return "", nil, err
	}
	dimsF, err := d.numbers(dimsEl)
	if err != nil {
		return "", nil, fmt.Errorf("dimensions: %w", err)
	}
	dims := make([]int, len(dimsF))
	for i, v := range dimsF {
		if v < 0 || v > math.MaxInt32 || v != math.Trunc(v) {
			return "", nil, fmt.Errorf("bad dimension %v", v)
		}
		dims[i] = int(v)
	}
	// Every element takes at least one byte, so a larger count cannot be
	// backed by this matrix.
	if count, ok := elemCount(dims); !ok || count > len(data) {
		return "", nil, fmt.Errorf("dimensions %v exceed the %d byte matrix", dims, len(data))
	}

	nameEl, rest, err := d.next(rest, true)
	if err != nil {
		return "", nil, err
	}
	name := string(nameEl.data)

	switch {
	case class.numeric():
		v, err := d.numeric(class, dims, flags, rest)
		return name, v, err
	case class == ClassChar:
		v, err := d.char(dims, rest)
		return name, v, err
	case class == ClassStruct:
		v, err := d.structure(dims, rest)
		return name, v, err
	case class == ClassCell:
		v, err := d.cell(dims, rest)
		return name, v, err
	}
	return name, nil, fmt.Errorf("unsupported class %s", class)
}

func (d decoder) numeric(class Class, dims []int, flags uint32, rest []byte) (*Numeric, error) {
	n := &Numeric{class: class, dims: dims, Logical: flags&flagLogical != 0}
	count := numel(dims)
	if count == 0 {
		n.Data = []float64{}
		return n, nil
	}

	re, rest, err := d.next(rest, true)
	if err != nil {
		return nil, fmt.Errorf("real part: %w", err)
	}
	if n.Data, err = d.numbers(re); err != nil {
		return nil, fmt.Errorf("real part: %w", err)
	}
	if len(n.Data) != count {
		return nil, fmt.Errorf("real part has %d values, dimensions %v need %d", len(n.Data), dims, count)
	}
	if flags&flagComplex != 0 {
		im, _, err := d.next(rest, true)
		if err != nil {
			return nil, fmt.Errorf("imaginary part: %w", err)
		}
		if n.Imag, err = d.numbers(im); err != nil {
			return nil, fmt.Errorf("imaginary part: %w", err)
		}
	}
	return n, nil
}

func (d decoder) char(dims []int, rest []byte) (*Char, error) {
	c := &Char{dims: dims}
	if numel(dims) == 0 {
		c.Runes = []rune{}
		return c, nil
	}
	el, _, err := d.next(rest, true)
	if err != nil {
		return nil, err
	}
	switch el.typ {
	case miUTF8:
		c.Runes = make([]rune, 0, utf8.RuneCount(el.data))
		for b := el.data; len(b) > 0; {
			r, size := utf8.DecodeRune(b)
			c.Runes = append(c.Runes, r)
			b = b[size:]
		}
	case miUTF16:
		units := make([]uint16, len(el.data)/2)
		for i := range units {
			units[i] = d.order.Uint16(el.data[2*i:])
		}
		c.Runes = utf16.Decode(units)
	default:
		values, err := d.numbers(el)
		if err != nil {
			return nil, err
		}
		c.Runes = make([]rune, len(values))
		for i, v := range values {
			c.Runes[i] = rune(v)
		}
	}
	return c, nil
}

func (d decoder) structure(dims []int, rest []byte) (*Struct, error) {
	lenEl, rest, err := d.next(rest, true)
	if err != nil {
		return nil, fmt.Errorf("field name length: %w", err)
	}
	lens, err := d.numbers(lenEl)
	if err != nil || len(lens) != 1 || lens[0] <= 0 {
		return nil, fmt.Errorf("bad field name length")
	}
	width := int(lens[0])

	namesEl, rest, err := d.next(rest, true)
	if err != nil {
		return nil, fmt.Errorf("field names: %w", err)
	}
	s := &Struct{dims: dims}
	for off := 0; off+width <= len(namesEl.data); off += width {
		raw := namesEl.data[off : off+width]
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		s.Fields = append(s.Fields, string(raw))
	}

	count := numel(dims)
	if len(s.Fields) > 0 && count*len(s.Fields) > len(rest)/8 {
		return nil, fmt.Errorf("%d elements of %d fields need more than %d bytes", count, len(s.Fields), len(rest))
	}
	s.Elems = make([]map[string]Value, count)
	for i := 0; i < count; i++ {
		fields := make(map[string]Value, len(s.Fields))
		for _, field := range s.Fields {
			var el element
			el, rest, err = d.next(rest, true)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			if el.typ != miMATRIX {
				return nil, fmt.Errorf("field %q: element type %d is not a matrix", field, el.typ)
			}
			_, v, err := d.matrix(el.data)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", field, err)
			}
			fields[field] = v
		}
		s.Elems[i] = fields
	}
	return s, nil
}

func (d decoder) cell(dims []int, rest []byte) (*Cell, error) {
	count := numel(dims)
	if count > len(rest)/8 {
		return nil, fmt.Errorf("%d cells need more than %d bytes", count, len(rest))
	}
	c := &Cell{dims: dims, Elems: make([]Value, count)}
	for i := 0; i < count; i++ {
		var (
			el  element
			err error
		)
		el, rest, err = d.next(rest, true)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		if el.typ != miMATRIX {
			return nil, fmt.Errorf("cell %d: element type %d is not a matrix", i, el.typ)
		}
		_, v, err := d.matrix(el.data)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		c.Elems[i] = v
	}
	return c, nil
}

// numbers converts a numeric data element to float64 regardless of its
// storage type.
func (d decoder) numbers(el element) ([]float64, error) {
	b := el.data
	var size int
	switch el.typ {
	case miINT8, miUINT8, miUTF8:
		size = 1
	case miINT16, miUINT16, miUTF16:
		size = 2
	case miINT32, miUINT32, miSINGLE, miUTF32:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("element type %d is not numeric", el.typ)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("element type %d has %d bytes", el.typ, len(b))
	}

	out := make([]float64, len(b)/size)
	for i := range out {
		p := b[i*size:]
		switch el.typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8, miUTF8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(p)))
		case miUINT16, miUTF16:
			out[i] = float64(d.order.Uint16(p))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(p)))
		case miUINT32, miUTF32:
			out[i] = float64(d.order.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(p))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(p)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(p))
		}
	}
	return out, nil
}
