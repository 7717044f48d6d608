// Package dataset materializes training data: built-in reference datasets and
// CSV tables read from local paths or object storage.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Table is a CSV file held in memory. Every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// missingMarkers are the cell values read as missing.
var missingMarkers = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

func IsMissing(cell string) bool {
	_, ok := missingMarkers[cell]
	return ok
}

// ParseNumber parses a numeric cell. Missing cells are not numbers.
func ParseNumber(cell string) (float64, bool) {
	if IsMissing(cell) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ReadCSV reads a comma separated file with a header row. Short rows are
// padded with missing cells; rows longer than the header are rejected.
// Blank or repeated header names are made unique.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, errors.New("no columns to parse from file")
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	columns := uniqueColumns(header)

	rows := make([][]string, 0, 128)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read row: %w", err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}
		if len(record) > len(columns) {
			line, _ := cr.FieldPos(0)
			return Table{}, fmt.Errorf("expected %d fields in line %d, saw %d", len(columns), line, len(record))
		}
		for len(record) < len(columns) {
			record = append(record, "")
		}
		rows = append(rows, record)
	}
	return Table{Columns: columns, Rows: rows}, nil
}

func uniqueColumns(header []string) []string {
	out := make([]string, len(header))
	taken := make(map[string]bool, len(header))
	suffix := make(map[string]int)
	for i, name := range header {
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		candidate := name
		for taken[candidate] {
			suffix[name]++
			candidate = name + "." + strconv.Itoa(suffix[name])
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}

func (t Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Column returns the cells of column i.
func (t Table) Column(i int) []string {
	out := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Drop returns the table without the named column.
func (t Table) Drop(name string) Table {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return t
	}
	cols := make([]string, 0, len(t.Columns)-1)
	cols = append(cols, t.Columns[:idx]...)
	cols = append(cols, t.Columns[idx+1:]...)
	rows := make([][]string, len(t.Rows))
	for r, row := range t.Rows {
		out := make([]string, 0, len(row)-1)
		out = append(out, row[:idx]...)
		out = append(out, row[idx+1:]...)
		rows[r] = out
	}
	return Table{Columns: cols, Rows: rows}
}
