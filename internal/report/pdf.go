package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/seenimoa/cvmratios/internal/analysis/ranking"
	"github.com/seenimoa/cvmratios/pkg/models"
)

// pdfColumn is one column of the ranking table, widths in mm.
type pdfColumn struct {
	title string
	width float64
	align string
}

var pdfRankingColumns = []pdfColumn{
	{"#", 12, "R"},
	{"Ticker", 24, "L"},
	{"Empresa", 78, "L"},
	{"Ano", 16, "R"},
	{"Valor", 40, "R"},
}

// RankingPDF writes a ranking as an A4 PDF table.
func RankingPDF(w io.Writer, r ranking.Ranking, opts PageOptions) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 12)
	// Core fonts are cp1252; translate so accented names render.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := opts.Title
	if title == "" {
		title = "Ranking: " + r.Metric.Label
	}
	pdf.SetTitle(title, true)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 4, tr(fmt.Sprintf("Valores em milhares de reais. Fonte: DFP/CVM. Página %d", pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	header := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for _, c := range pdfRankingColumns {
			pdf.CellFormat(c.width, 7, tr(c.title), "1", 0, c.align, true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
	}

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	if opts.Subtitle != "" {
		pdf.CellFormat(0, 5, tr(opts.Subtitle), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("%s, %s. Gerado em %s.", r.Metric.Label, orderLabel(r.Order), timestamp(opts.GeneratedAt))), "", 1, "L", false, 0, "")
	pdf.Ln(3)

	header()
	_, pageH := pdf.GetPageSize()
	for _, e := range r.Top(opts.Limit) {
		if pdf.GetY()+6 > pageH-14 {
			pdf.AddPage()
			header()
		}
		cells := []string{
			fmt.Sprint(e.Rank),
			e.Entity.Label(),
			truncate(e.Entity.Name, 42),
			fmt.Sprint(e.Year),
			r.Metric.Format(models.Some(e.Value)),
		}
		for i, c := range pdfRankingColumns {
			pdf.CellFormat(c.width, 6, tr(cells[i]), "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(2)
	summary := fmt.Sprintf("%d registro(s) classificados", len(r.Entries))
	if r.Absent > 0 {
		summary += fmt.Sprintf(", %d sem valor", r.Absent)
	}
	pdf.CellFormat(0, 5, tr(summary+"."), "", 1, "L", false, 0, "")

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("building PDF: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("writing PDF: %w", err)
	}
	return nil
}
