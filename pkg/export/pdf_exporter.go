package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a printable landscape document, one table per dataset.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

const (
	pdfPageWidth  = 277.0
	pdfNameColumn = 60.0
)

// Render creates a PDF document with a title and a section per dataset. The first column of
// each table is treated as the student name and gets a wider cell.
func (e *PDFExporter) Render(title string, sets []Dataset) ([]byte, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("pdf requires at least one dataset")
	}
	for _, set := range sets {
		if err := set.validate(); err != nil {
			return nil, err
		}
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(2)
	}

	for i, set := range sets {
		if i > 0 {
			pdf.Ln(6)
		}
		if set.Name != "" {
			pdf.SetFont("Arial", "B", 11)
			pdf.CellFormat(0, 8, tr(set.Name), "", 1, "L", false, 0, "")
		}
		widths := columnWidths(len(set.Headers))

		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for j, header := range set.Headers {
			pdf.CellFormat(widths[j], 7, tr(header), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 8)
		for _, row := range set.Rows {
			for j := range set.Headers {
				align := "C"
				if j == 0 {
					align = "L"
				}
				pdf.CellFormat(widths[j], 6, tr(cell(row, j)), "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(n int) []float64 {
	widths := make([]float64, n)
	if n == 1 {
		widths[0] = pdfPageWidth
		return widths
	}
	widths[0] = pdfNameColumn
	rest := (pdfPageWidth - pdfNameColumn) / float64(n-1)
	for i := 1; i < n; i++ {
		widths[i] = rest
	}
	return widths
}
