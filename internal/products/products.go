// Package products turns uploaded CSV bytes into ordered product rows.
package products

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

const bom = "\ufeff"

// Field is one column of a product row.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Row is one normalized CSV record. Fields keep header order.
type Row struct {
	Fields      []Field `json:"fields"`
	Description string  `json:"description"`
}

// NewRow builds a row and derives its description.
func NewRow(fields []Field) Row {
	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = f.Value
	}
	return Row{Fields: fields, Description: strings.Join(values, ", ")}
}

// Get returns the value of the named column.
func (r Row) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// ParseError reports input that is not readable as CSV.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse csv: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("parse csv: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errNoHeader    = errors.New("no header row")
	errInvalidUTF8 = errors.New("input is not valid UTF-8")
)

// Parse reads a header row followed by data rows.
//
// Rows shorter than the header keep their leading columns; extra cells are
// named column_N by 1-based position. A header-only input returns an empty
// slice and no error.
func Parse(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	data = bytes.TrimPrefix(data, []byte(bom))
	if !utf8.Valid(data) {
		return nil, &ParseError{Err: errInvalidUTF8}
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ParseError{Err: errNoHeader}
	}
	if err != nil {
		return nil, wrapCSVError(err)
	}
	names := headerNames(header)
	if names == nil {
		return nil, &ParseError{Line: 1, Err: errNoHeader}
	}

	rows := []Row{}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, wrapCSVError(err)
		}
		fields := make([]Field, 0, len(record))
		for i, cell := range record {
			fields = append(fields, Field{Name: names.name(i), Value: strings.TrimSpace(cell)})
		}
		rows = append(rows, NewRow(fields))
	}
	return rows, nil
}

func wrapCSVError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &ParseError{Line: pe.Line, Err: pe.Err}
	}
	return &ParseError{Err: err}
}

// columnNames assigns every column a distinct name. Header names are trimmed,
// blanks become column_N and repeats get the lowest free _N suffix. Names
// written in the header are never taken by a generated one.
type columnNames struct {
	names    []string
	used     map[string]bool
	explicit map[string]bool
}

func headerNames(header []string) *columnNames {
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return nil
	}
	c := &columnNames{
		names:    make([]string, 0, len(header)),
		used:     make(map[string]bool, len(header)),
		explicit: make(map[string]bool, len(header)),
	}
	for _, h := range header {
		if name := strings.TrimSpace(h); name != "" {
			c.explicit[name] = true
		}
	}
	for i, h := range header {
		if name := strings.TrimSpace(h); name != "" {
			c.add(name, true)
		} else {
			c.add(positional(i), false)
		}
	}
	return c
}

func (c *columnNames) add(name string, fromHeader bool) {
	if c.used[name] || (!fromHeader && c.explicit[name]) {
		base := name
		for n := 2; ; n++ {
			name = base + "_" + strconv.Itoa(n)
			if !c.used[name] && !c.explicit[name] {
				break
			}
		}
	}
	c.used[name] = true
	c.names = append(c.names, name)
}

// name returns the name of column i, extending past the header with
// column_N as needed.
func (c *columnNames) name(i int) string {
	for len(c.names) <= i {
		c.add(positional(len(c.names)), false)
	}
	return c.names[i]
}

func positional(i int) string {
	return "column_" + strconv.Itoa(i+1)
}
