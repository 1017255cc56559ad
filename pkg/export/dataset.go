package export

import "fmt"

// Dataset defines one table of export content. Rows are positional and must be no wider than
// Headers.
type Dataset struct {
	Name    string
	Headers []string
	Rows    [][]string
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset %q requires at least one header", d.Name)
	}
	for i, row := range d.Rows {
		if len(row) > len(d.Headers) {
			return fmt.Errorf("dataset %q row %d has %d cells for %d headers", d.Name, i, len(row), len(d.Headers))
		}
	}
	return nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
