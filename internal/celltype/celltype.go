// Package celltype maps recording file names to the projection class tagged
// in that recording, as listed in the dataset's animal key spreadsheet.
package celltype

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

// TagColumn is the header of the cell-type column.
const TagColumn = "Cell type tagged"

var ErrUnknownRecording = errors.New("recording not listed in animal key")

type Table struct {
	tags map[string]models.CellType
}

func New(tags map[string]models.CellType) *Table {
	t := &Table{tags: make(map[string]models.CellType, len(tags))}
	for k, v := range tags {
		t.tags[recordingName(k)] = v
	}
	return t
}

// Load reads an .xlsx workbook (first sheet) or a .csv file.
func Load(path string) (*Table, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	var t *Table
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		t, err = ReadCSV(fh)
	default:
		t, err = ReadXLSX(fh)
	}
	if err != nil {
		return nil, fmt.Errorf("animal key %s: %w", path, err)
	}
	return t, nil
}

func ReadXLSX(r io.Reader) (*Table, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := wb.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// fromRows takes recording names from the first column and tags from the
// column headed TagColumn, falling back to the second column.
func fromRows(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty sheet")
	}
	col := 1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), TagColumn) {
			col = i
			break
		}
	}

	t := &Table{tags: map[string]models.CellType{}}
	for i, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		if col >= len(row) || strings.TrimSpace(row[col]) == "" {
			continue
		}
		ct, err := models.ParseCellType(strings.TrimSpace(row[col]))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		t.tags[recordingName(row[0])] = ct
	}
	return t, nil
}

// Lookup accepts a bare recording name or an archive path.
func (t *Table) Lookup(recording string) (models.CellType, error) {
	name := recordingName(recording)
	if t != nil {
		if ct, ok := t.tags[name]; ok {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRecording, name)
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tags)
}

func recordingName(s string) string {
	s = filepath.Base(strings.TrimSpace(s))
	return strings.TrimSuffix(s, ".mat")
}
