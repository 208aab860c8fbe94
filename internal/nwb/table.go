package nwb

import (
	"fmt"
	"math"
	"sort"
)

// ColumnKind is the storage kind of a table column.
type ColumnKind int

const (
	FloatColumn ColumnKind = iota
	IntColumn
	TextColumn
	BoolColumn
	// RaggedFloatColumn holds a variable-length float list per row.
	RaggedFloatColumn
	// RegionColumn holds one row index into another table.
	RegionColumn
	// RaggedRegionColumn holds a list of row indexes into another table.
	RaggedRegionColumn
	// ReferenceColumn holds the path of another object in the file.
	ReferenceColumn
)

type Column struct {
	Name        string
	Description string
	Kind        ColumnKind
	// Target is the referenced table of region columns.
	Target *DynamicTable

	floats []float64
	ints   []int64
	texts  []string
	bools  []bool
	ends   []int64
}

// DynamicTable is a column-oriented table with integer row ids.
type DynamicTable struct {
	Name          string
	Description   string
	NeurodataType string
	Namespace     string

	ids     []int64
	columns []*Column
	byName  map[string]*Column
	path    string
}

func NewDynamicTable(name, description string) *DynamicTable {
	return newTable(name, description, "DynamicTable", NamespaceHDMF)
}

func newTable(name, description, typ, namespace string) *DynamicTable {
	return &DynamicTable{
		Name:          name,
		Description:   description,
		NeurodataType: typ,
		Namespace:     namespace,
		byName:        map[string]*Column{},
	}
}

// AddColumn declares a column. Columns can only be added while the table
// is empty.
func (t *DynamicTable) AddColumn(name, description string, kind ColumnKind) (*Column, error) {
	if kind == RegionColumn || kind == RaggedRegionColumn {
		return nil, fmt.Errorf("table %s: column %s: region columns need a target table", t.Name, name)
	}
	return t.addColumn(&Column{Name: name, Description: description, Kind: kind})
}

// AddRegionColumn declares a column of row indexes into target.
func (t *DynamicTable) AddRegionColumn(name, description string, target *DynamicTable, ragged bool) (*Column, error) {
	if target == nil {
		return nil, fmt.Errorf("table %s: column %s: nil target table", t.Name, name)
	}
	kind := RegionColumn
	if ragged {
		kind = RaggedRegionColumn
	}
	return t.addColumn(&Column{Name: name, Description: description, Kind: kind, Target: target})
}

func (t *DynamicTable) addColumn(c *Column) (*Column, error) {
	if c.Name == "" || c.Name == "id" {
		return nil, fmt.Errorf("table %s: invalid column name %q", t.Name, c.Name)
	}
	if _, dup := t.byName[c.Name]; dup {
		return nil, fmt.Errorf("table %s: column %s already exists", t.Name, c.Name)
	}
	if len(t.ids) > 0 {
		return nil, fmt.Errorf("table %s: cannot add column %s to a table with rows", t.Name, c.Name)
	}
	t.columns = append(t.columns, c)
	t.byName[c.Name] = c
	return c, nil
}

func (t *DynamicTable) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

func (t *DynamicTable) Columns() []*Column {
	return t.columns
}

func (t *DynamicTable) Len() int {
	return len(t.ids)
}

func (t *DynamicTable) IDs() []int64 {
	return t.ids
}

// IndexOf returns the row index of id.
func (t *DynamicTable) IndexOf(id int64) (int, bool) {
	for i, v := range t.ids {
		if v == id {
			return i, true
		}
	}
	return 0, false
}

// AddRow appends one row. values must hold exactly the declared columns;
// a nil value in a float column is stored as NaN.
func (t *DynamicTable) AddRow(id int64, values map[string]any) error {
	for name := range values {
		if _, ok := t.byName[name]; !ok {
			return fmt.Errorf("table %s: unknown column %s", t.Name, name)
		}
	}
	var missing []string
	for _, c := range t.columns {
		if _, ok := values[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("table %s: row %d is missing columns %v", t.Name, id, missing)
	}

	// Convert every value before appending so a bad row leaves no trace.
	staged := make([]func(), 0, len(t.columns))
	for _, c := range t.columns {
		apply, err := c.stage(values[c.Name])
		if err != nil {
			return fmt.Errorf("table %s: row %d: column %s: %w", t.Name, id, c.Name, err)
		}
		staged = append(staged, apply)
	}
	for _, apply := range staged {
		apply()
	}
	t.ids = append(t.ids, id)
	return nil
}

func (c *Column) stage(v any) (func(), error) {
	switch c.Kind {
	case FloatColumn:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		return func() { c.floats = append(c.floats, f) }, nil
	case IntColumn:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return func() { c.ints = append(c.ints, n) }, nil
	case TextColumn, ReferenceColumn:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		return func() { c.texts = append(c.texts, s) }, nil
	case BoolColumn:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		return func() { c.bools = append(c.bools, b) }, nil
	case RaggedFloatColumn:
		fs, ok := v.([]float64)
		if !ok && v != nil {
			return nil, fmt.Errorf("want []float64, got %T", v)
		}
		return func() {
			c.floats = append(c.floats, fs...)
			c.ends = append(c.ends, int64(len(c.floats)))
		}, nil
	case RegionColumn:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if err := c.checkRow(n); err != nil {
			return nil, err
		}
		return func() { c.ints = append(c.ints, n) }, nil
	case RaggedRegionColumn:
		rows, ok := v.([]int)
		if !ok {
			return nil, fmt.Errorf("want []int, got %T", v)
		}
		idx := make([]int64, len(rows))
		for i, r := range rows {
			if err := c.checkRow(int64(r)); err != nil {
				return nil, err
			}
			idx[i] = int64(r)
		}
		return func() {
			c.ints = append(c.ints, idx...)
			c.ends = append(c.ends, int64(len(c.ints)))
		}, nil
	}
	return nil, fmt.Errorf("unknown column kind %d", c.Kind)
}

func (c *Column) checkRow(n int64) error {
	if n < 0 || n >= int64(c.Target.Len()) {
		return fmt.Errorf("row %d out of range of table %s (%d rows)", n, c.Target.Name, c.Target.Len())
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return x, nil
	case *float64:
		if x == nil {
			return math.NaN(), nil
		}
		return *x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func toInt(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}
