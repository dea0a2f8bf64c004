package report

import (
	"io"

	"github.com/go-pdf/fpdf"
)

const (
	pdfMargin     = 72.0
	pdfLineHeight = 14.0
	pdfKeyWidth   = 150.0
	pdfValueWidth = 318.0
)

type rgb struct{ r, g, b int }

var (
	headerFill = rgb{128, 128, 128}
	headerText = rgb{245, 245, 245}
	filterFill = rgb{173, 216, 230}
	statsFill  = rgb{245, 245, 220}
	plainFill  = rgb{255, 255, 255}
	black      = rgb{0, 0, 0}
)

// PDFRenderer writes the document as a letter-size PDF.
type PDFRenderer struct{}

// Extension implements Renderer.
func (PDFRenderer) Extension() string { return ".pdf" }

// Render implements Renderer.
func (PDFRenderer) Render(w io.Writer, doc *Document) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreationDate(doc.Generated)
	pdf.AddPage()

	p := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	p.heading(doc.Title, 18)
	p.paragraph("Generated: " + doc.Generated.Format(generatedLayout))
	pdf.Ln(pdfLineHeight)

	if doc.Statistics != nil {
		p.heading("Statistics", 14)
		p.table(doc.Statistics, headerFill, headerText, statsFill)
		pdf.Ln(pdfLineHeight)
	}

	if doc.HasRules() {
		p.heading("Forwarding Rules", 14)
		for _, section := range doc.Rules {
			p.heading(section.Heading, 12)
			p.table(&section.Details, headerFill, headerText, plainFill)
			if section.Filter != nil {
				pdf.Ln(pdfLineHeight / 2)
				p.heading("Filter Configuration:", 11)
				p.table(section.Filter, filterFill, black, plainFill)
			}
			pdf.Ln(pdfLineHeight)
		}
	}

	for _, note := range doc.Notes {
		p.paragraph(note)
	}

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}

type pdfWriter struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (p *pdfWriter) heading(text string, size float64) {
	p.pdf.SetFont("Helvetica", "B", size)
	p.pdf.SetTextColor(black.r, black.g, black.b)
	p.pdf.MultiCell(0, size+4, p.tr(text), "", "L", false)
	p.pdf.Ln(4)
}

func (p *pdfWriter) paragraph(text string) {
	p.pdf.SetFont("Helvetica", "", 10)
	p.pdf.SetTextColor(black.r, black.g, black.b)
	p.pdf.MultiCell(0, pdfLineHeight, p.tr(text), "", "L", false)
}

func (p *pdfWriter) table(t *Table, headFill, headText, bodyFill rgb) {
	widths := []float64{pdfKeyWidth, pdfValueWidth}

	p.pdf.SetFont("Helvetica", "B", 11)
	p.pdf.SetFillColor(headFill.r, headFill.g, headFill.b)
	p.pdf.SetTextColor(headText.r, headText.g, headText.b)
	p.row(t.Header, widths, "C")

	p.pdf.SetFont("Helvetica", "", 10)
	p.pdf.SetFillColor(bodyFill.r, bodyFill.g, bodyFill.b)
	p.pdf.SetTextColor(black.r, black.g, black.b)
	for _, cells := range t.Rows {
		p.row(cells, widths, "L")
	}
}

// row draws one table row whose height fits its tallest cell, breaking the
// page first when the row would not fit.
func (p *pdfWriter) row(cells []string, widths []float64, align string) {
	lines := 1
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		if n := len(p.pdf.SplitLines([]byte(p.tr(cell)), widths[i]-4)); n > lines {
			lines = n
		}
	}
	height := float64(lines) * pdfLineHeight

	_, pageHeight := p.pdf.GetPageSize()
	if p.pdf.GetY()+height > pageHeight-pdfMargin {
		p.pdf.AddPage()
	}

	x, y := p.pdf.GetXY()
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		p.pdf.Rect(x, y, widths[i], height, "FD")
		p.pdf.SetXY(x, y)
		p.pdf.MultiCell(widths[i], pdfLineHeight, p.tr(cell), "", align, false)
		x += widths[i]
	}
	p.pdf.SetXY(pdfMargin, y+height)
}
