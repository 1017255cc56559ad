package export

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// XLSXExporter renders datasets into a workbook, one sheet per dataset.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes every dataset to its own sheet. Cells that parse as numbers are stored as
// numbers.
func (e *XLSXExporter) Render(sets []Dataset) ([]byte, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one dataset")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	defaultSheet := f.GetSheetName(0)
	for i, set := range sets {
		if err := set.validate(); err != nil {
			return nil, err
		}
		name := sheetName(set.Name, i)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return nil, fmt.Errorf("name sheet %s: %w", name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("add sheet %s: %w", name, err)
		}

		for col, header := range set.Headers {
			ref, _ := excelize.CoordinatesToCellName(col+1, 1)
			if err := f.SetCellValue(name, ref, header); err != nil {
				return nil, fmt.Errorf("write header: %w", err)
			}
		}
		for r, row := range set.Rows {
			for col := range set.Headers {
				value := cell(row, col)
				if value == "" {
					continue
				}
				ref, _ := excelize.CoordinatesToCellName(col+1, r+2)
				var err error
				if n, perr := strconv.ParseFloat(value, 64); perr == nil && col > 0 {
					err = f.SetCellFloat(name, ref, n, -1, 64)
				} else {
					err = f.SetCellStr(name, ref, value)
				}
				if err != nil {
					return nil, fmt.Errorf("write cell %s: %w", ref, err)
				}
			}
		}
		if err := f.SetColWidth(name, "A", "A", 32); err != nil {
			return nil, fmt.Errorf("size name column: %w", err)
		}
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetName trims names to the 31 character limit and falls back to a positional name.
func sheetName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("Hoja%d", i+1)
	}
	runes := []rune(name)
	if len(runes) > 31 {
		runes = runes[:31]
	}
	return string(runes)
}
