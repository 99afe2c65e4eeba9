// Package report serializes batch results into an xlsx workbook.
package report

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/fyrsmithlabs/recd/internal/batch"
)

const (
	// SheetName is the only sheet in a report.
	SheetName = "Recommendations"

	// ContentType is the MIME type of a report.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	filenameLayout = "20060102_150405"
)

// Header is the first row of the sheet.
var Header = []string{"Product", "Model", "Iteration", "Recommendation", "Timestamp"}

// Filename names a report generated at t.
func Filename(t time.Time) string {
	return "recommendations_" + t.UTC().Format(filenameLayout) + ".xlsx"
}

// Write renders rows, in order, below the header.
func Write(rows []batch.ResultRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return nil, fmt.Errorf("open stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, 1, 40); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := sw.SetColWidth(4, 4, 80); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		values := []interface{}{
			r.Product,
			r.Model,
			r.Iteration,
			r.Recommendation,
			r.Timestamp.UTC().Format(time.RFC3339Nano),
		}
		if err := sw.SetRow(cell, values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush sheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Read parses a workbook produced by Write.
func Read(data []byte) ([]batch.ResultRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	grid, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(grid) == 0 {
		return nil, fmt.Errorf("sheet %q has no header", SheetName)
	}
	for i, h := range Header {
		if i >= len(grid[0]) || grid[0][i] != h {
			return nil, fmt.Errorf("unexpected header %v", grid[0])
		}
	}

	rows := make([]batch.ResultRow, 0, len(grid)-1)
	for n, cells := range grid[1:] {
		// GetRows trims trailing empty cells.
		for len(cells) < len(Header) {
			cells = append(cells, "")
		}
		iteration, err := strconv.Atoi(cells[2])
		if err != nil {
			return nil, fmt.Errorf("row %d: iteration %q: %w", n+2, cells[2], err)
		}
		ts, err := time.Parse(time.RFC3339Nano, cells[4])
		if err != nil {
			return nil, fmt.Errorf("row %d: timestamp %q: %w", n+2, cells[4], err)
		}
		rows = append(rows, batch.ResultRow{
			Product:        cells[0],
			Model:          cells[1],
			Iteration:      iteration,
			Recommendation: cells[3],
			Timestamp:      ts,
			Failed:         batch.HasErrorMarker(cells[3]),
		})
	}
	return rows, nil
}
