package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfPageWidth  = 277.0 // A4 landscape minus 10mm margins
	pdfRowHeight  = 6.0
	pdfMinColumn  = 14.0
	pdfFontSize   = 8.0
	pdfCharWidthM = 1.6 // rough mm per character at pdfFontSize
)

// PDFExporter renders datasets into a paginated tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Extension is the file suffix for rendered output.
func (e *PDFExporter) Extension() string { return "pdf" }

// Render creates a PDF document with the dataset title, a header row repeated on
// every page and a page number footer.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	widths := columnWidths(data)

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)

	pdf.SetHeaderFunc(func() {
		if data.Title != "" && pdf.PageNo() == 1 {
			pdf.SetFont("Arial", "B", 14)
			pdf.CellFormat(0, 10, data.Title, "", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont("Arial", "B", pdfFontSize+1)
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], pdfRowHeight+1, header, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", pdfFontSize)
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	for i, row := range data.Rows {
		if len(row) != len(data.Headers) {
			return nil, fmt.Errorf("pdf row %d has %d columns, want %d", i, len(row), len(data.Headers))
		}
		for j, value := range row {
			pdf.CellFormat(widths[j], pdfRowHeight, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths splits the printable width proportionally to the longest value per column.
func columnWidths(data Dataset) []float64 {
	longest := make([]int, len(data.Headers))
	for i, h := range data.Headers {
		longest[i] = len(h)
	}
	for _, row := range data.Rows {
		for i := 0; i < len(row) && i < len(longest); i++ {
			if len(row[i]) > longest[i] {
				longest[i] = len(row[i])
			}
		}
	}

	total := 0.0
	widths := make([]float64, len(longest))
	for i, n := range longest {
		w := float64(n) * pdfCharWidthM
		if w < pdfMinColumn {
			w = pdfMinColumn
		}
		widths[i] = w
		total += w
	}
	scale := pdfPageWidth / total
	for i := range widths {
		widths[i] *= scale
	}
	return widths
}
