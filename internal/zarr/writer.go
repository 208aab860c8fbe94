package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const zarrFormat = 2

// Writer lays groups and arrays out on a Store.
type Writer struct {
	store Store
	level int
	gzip  bool
}

type Option func(*Writer)

// WithGzip compresses every chunk with gzip at level.
func WithGzip(level int) Option {
	return func(w *Writer) {
		w.gzip = true
		w.level = level
	}
}

func NewWriter(store Store, opts ...Option) *Writer {
	w := &Writer{store: store}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Group writes .zgroup and, when attrs is non-empty, .zattrs at p.
func (w *Writer) Group(p string, attrs map[string]any) error {
	if err := w.putJSON(join(p, ".zgroup"), map[string]any{"zarr_format": zarrFormat}); err != nil {
		return err
	}
	return w.Attrs(p, attrs)
}

// Attrs writes the attributes of the node at p.
func (w *Writer) Attrs(p string, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}
	return w.putJSON(join(p, ".zattrs"), attrs)
}

// Array writes the metadata and the single chunk of a at p.
func (w *Writer) Array(p string, a Array, attrs map[string]any) error {
	chunks := make([]int, len(a.Shape))
	for i, d := range a.Shape {
		chunks[i] = d
		if d == 0 {
			chunks[i] = 1
		}
	}
	var compressor any
	if w.gzip {
		compressor = map[string]any{"id": "gzip", "level": w.level}
	}
	var filters any
	if len(a.Filters) > 0 {
		filters = a.Filters
	}
	meta := map[string]any{
		"chunks":      chunks,
		"compressor":  compressor,
		"dtype":       a.DType,
		"fill_value":  a.FillValue,
		"filters":     filters,
		"order":       "C",
		"shape":       a.Shape,
		"zarr_format": zarrFormat,
	}
	if err := w.putJSON(join(p, ".zarray"), meta); err != nil {
		return err
	}
	if err := w.Attrs(p, attrs); err != nil {
		return err
	}
	if a.Len() == 0 {
		return nil
	}

	chunk, err := w.compress(a.raw)
	if err != nil {
		return fmt.Errorf("zarr: %s: %w", p, err)
	}
	return w.store.Set(join(p, chunkKey(len(a.Shape))), chunk)
}

func (w *Writer) compress(raw []byte) ([]byte, error) {
	if !w.gzip {
		return raw, nil
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, w.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *Writer) putJSON(key string, v any) error {
	raw, err := marshalJSON(v)
	if err != nil {
		return fmt.Errorf("zarr: %s: %w", key, err)
	}
	return w.store.Set(key, raw)
}

// chunkKey names the only chunk of an array with ndim dimensions.
func chunkKey(ndim int) string {
	if ndim == 0 {
		return "0"
	}
	return strings.TrimSuffix(strings.Repeat("0.", ndim), ".")
}

func join(p, name string) string {
	return strings.TrimPrefix(path.Join(p, name), "/")
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
