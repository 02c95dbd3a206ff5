package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/seenimoa/cvmratios/internal/analysis/ranking"
	"github.com/seenimoa/cvmratios/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

func sampleRecords() []models.DerivedRecord {
	mk := func(ticker string, year int, roe, ep1, ep2 float64) models.DerivedRecord {
		var r models.DerivedRecord
		r.Entity = models.Entity{Code: "9512", Ticker: ticker, Name: "CPFL Energia S.A.", Sector: "Energia Elétrica"}
		r.Year = year
		r.Set(models.FieldEquity, models.Some(900))
		r.Indicators.ROE = models.Some(roe)
		r.Indicators.WACC = models.Some(0.0833)
		r.Indicators.EconomicProfit1 = models.Some(ep1)
		r.Indicators.EconomicProfit2 = models.Some(ep2)
		r.Indicators.EconomicProfitGap = models.Some(math.Abs(ep1 - ep2))
		return r
	}
	recs := []models.DerivedRecord{
		mk("CPFE3", 2022, 0.12, 100, 100),
		mk("CPFE3", 2023, 0.1875, 200, 50),
	}
	recs[1].HasPrior = true
	recs[1].Indicators.Divergent = true
	return recs
}

func sampleRanking(t *testing.T) ranking.Ranking {
	t.Helper()
	recs := sampleRecords()
	other := recs[0]
	other.Entity = models.Entity{Ticker: "MGLU3", Name: "Magazine <Luiza>", Sector: "Varejo"}
	other.Indicators.ROE = models.Some(-0.05)
	missing := recs[0]
	missing.Entity = models.Entity{Ticker: "LREN3"}
	missing.Indicators.ROE = models.None
	r, err := ranking.Rank([]models.DerivedRecord{recs[1], other, missing}, models.MetricROE, "")
	if err != nil {
		t.Fatal(err)
	}
	return r
}

var fixedTime = time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

// ════════════════════════════════════════════════════════════════════
// Charts
// ════════════════════════════════════════════════════════════════════

func TestHorizontalBarChart_Basic(t *testing.T) {
	svg := HorizontalBarChart([]BarItem{
		{Label: "CPFE3", Value: 0.18, Text: "18,00%"},
		{Label: "TAEE11", Value: 0.25},
	}, ChartConfig{})
	if !strings.HasPrefix(svg, "<svg") || !strings.HasSuffix(svg, "</svg>") {
		t.Fatal("expected a complete SVG document")
	}
	if !strings.Contains(svg, "18,00%") || !strings.Contains(svg, "TAEE11") {
		t.Error("expected labels and value text in SVG")
	}
	if strings.Count(svg, "<rect") != 3 {
		t.Errorf("expected background + 2 bars, got %d rects", strings.Count(svg, "<rect"))
	}
}

func TestHorizontalBarChart_WithNegative(t *testing.T) {
	svg := HorizontalBarChart([]BarItem{{Label: "A", Value: 10}, {Label: "B", Value: -5}}, ChartConfig{})
	if !strings.Contains(svg, "#ef5350") {
		t.Error("negative bar should be red")
	}
	if !strings.Contains(svg, `stroke="#999"`) {
		t.Error("expected a zero line")
	}
}

func TestHorizontalBarChart_Empty(t *testing.T) {
	svg := HorizontalBarChart(nil, ChartConfig{})
	if !strings.Contains(svg, "Sem dados") {
		t.Error("expected empty-chart message")
	}
}

func TestHorizontalBarChart_GrowsForManyBars(t *testing.T) {
	items := make([]BarItem, 40)
	for i := range items {
		items[i] = BarItem{Label: "X", Value: float64(i)}
	}
	svg := HorizontalBarChart(items, ChartConfig{})
	if strings.Contains(svg, `height="400"`) {
		t.Error("chart height should grow with the number of bars")
	}
}

func TestLineChart_Gaps(t *testing.T) {
	svg := LineChart([]LineChartSeries{
		{Name: "ROE", Values: []float64{10, math.NaN(), 12, 14}},
	}, []string{"2020", "2021", "2022", "2023"}, ChartConfig{})
	if strings.Count(svg, "<circle") != 3 {
		t.Errorf("expected 3 points, got %d", strings.Count(svg, "<circle"))
	}
	if strings.Contains(svg, "NaN") {
		t.Error("NaN leaked into SVG coordinates")
	}
	if !strings.Contains(svg, "2021") {
		t.Error("expected x labels")
	}
}

func TestLineChart_SinglePoint(t *testing.T) {
	svg := LineChart([]LineChartSeries{{Name: "ROE", Values: []float64{5}}}, []string{"2023"}, ChartConfig{})
	if strings.Contains(svg, "NaN") || strings.Contains(svg, "Inf") {
		t.Error("single point produced invalid coordinates")
	}
}

func TestLineChart_AllMissing(t *testing.T) {
	svg := LineChart([]LineChartSeries{{Name: "ROE", Values: []float64{math.NaN()}}}, nil, ChartConfig{})
	if !strings.Contains(svg, "Sem dados") {
		t.Error("expected empty-chart message")
	}
}

func TestEscapeXML(t *testing.T) {
	if got := escapeXML(`<a & "b">`); got != "&lt;a &amp; &quot;b&quot;&gt;" {
		t.Errorf("got %q", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// Text
// ════════════════════════════════════════════════════════════════════

func TestRankingText(t *testing.T) {
	out := RankingText(sampleRanking(t), 0)
	for _, want := range []string{"ROE (highest first)", "CPFE3", "18,75%", "-5,00%", "2 ranked", "1 without a value"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "CPFE3") > strings.Index(out, "MGLU3") {
		t.Error("CPFE3 should rank above MGLU3")
	}

	out = RankingText(sampleRanking(t), 1)
	if strings.Contains(out, "MGLU3") || !strings.Contains(out, "top 1 shown") {
		t.Errorf("limit not applied:\n%s", out)
	}
}

func TestDrillDownText(t *testing.T) {
	out := DrillDownText(sampleRecords())
	for _, want := range []string{"CPFE3", "CVM 9512", "2022", "2023", "12,00%", "18,75%", "—", "sim", "não"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if DrillDownText(nil) != "  no records\n" {
		t.Error("expected placeholder for no records")
	}
}

func TestDivergenceText(t *testing.T) {
	out := DivergenceText(ranking.Divergences(sampleRecords()))
	if !strings.Contains(out, "1 divergent record(s)") {
		t.Errorf("unexpected header:\n%s", out)
	}
	if !strings.Contains(out, "150") || !strings.Contains(out, "2023") {
		t.Errorf("expected the 2023 gap of 150:\n%s", out)
	}
}

func TestSectorText(t *testing.T) {
	p := &models.DerivedPanel{Records: sampleRecords()}
	roe, _ := ranking.Lookup("roe")
	ki, _ := ranking.Lookup("ki")
	out := SectorText(ranking.SectorSummary(p, 2023), 2023, []ranking.MetricInfo{roe, ki})
	if !strings.Contains(out, "Energia Elétrica") || !strings.Contains(out, "18,75%") || !strings.Contains(out, "—") {
		t.Errorf("unexpected sector table:\n%s", out)
	}
}

func TestComparisonText(t *testing.T) {
	recs := sampleRecords()
	peer := recs[0]
	peer.Entity = models.Entity{Ticker: "TAEE11"}
	peer.Year = 2023
	out := ComparisonText(ranking.Compare(recs[1], []models.DerivedRecord{peer}))
	if !strings.Contains(out, "CPFE3 2023") || !strings.Contains(out, "ROE") {
		t.Errorf("unexpected comparison:\n%s", out)
	}
}

func TestPadCountsRunes(t *testing.T) {
	if got := pad("Ação", 6); got != "Ação  " {
		t.Errorf("pad = %q", got)
	}
	if got := padLeft("—", 3); got != "  —" {
		t.Errorf("padLeft = %q", got)
	}
	if got := truncate("Companhia Energética", 10); got != "Companhia…" {
		t.Errorf("truncate = %q", got)
	}
}

// ════════════════════════════════════════════════════════════════════
// HTML
// ════════════════════════════════════════════════════════════════════

func TestRankingHTML(t *testing.T) {
	html, err := RankingHTML(sampleRanking(t), PageOptions{Subtitle: "Ano 2023", GeneratedAt: fixedTime})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<!DOCTYPE html>", "Ranking: ROE", "Ano 2023", "<svg", "18,75%", "10/05/2024 12:30", "1 sem valor"} {
		if !strings.Contains(html, want) {
			t.Errorf("missing %q", want)
		}
	}
	if strings.Contains(html, "Magazine <Luiza>") {
		t.Error("company name not escaped")
	}
	if strings.Contains(html, "&lt;svg") {
		t.Error("chart should be embedded as markup, not escaped")
	}
}

func TestRankingHTML_Empty(t *testing.T) {
	r, _ := ranking.Rank(nil, models.MetricROE, "")
	html, err := RankingHTML(r, PageOptions{GeneratedAt: fixedTime})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Nenhum registro") {
		t.Error("expected empty-table message")
	}
}

func TestCompanyHTML(t *testing.T) {
	html, err := CompanyHTML(sampleRecords(), PageOptions{GeneratedAt: fixedTime})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"CPFE3", "CVM 9512", "Returns vs WACC", "<th class=\"num\">2022</th>", "18,75%"} {
		if !strings.Contains(html, want) {
			t.Errorf("missing %q", want)
		}
	}
	if _, err := CompanyHTML(nil, PageOptions{}); err == nil {
		t.Error("expected error for no records")
	}
}

// ════════════════════════════════════════════════════════════════════
// Exports
// ════════════════════════════════════════════════════════════════════

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"text", "HTML", " json ", "csv", "pdf", "markdown"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if f, err := ParseFormat("md"); err != nil || f != FormatMD {
		t.Errorf("ParseFormat(md) = %q, %v", f, err)
	}
	if _, err := ParseFormat("parquet"); err == nil {
		t.Error("expected error for parquet")
	}
}

func TestWriteJSON(t *testing.T) {
	p := &models.DerivedPanel{Rules: "v2/asymmetric/capital-weighted/capital-charge", Records: sampleRecords()}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, p); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	recs := decoded["records"].([]any)
	ind := recs[0].(map[string]any)["indicators"].(map[string]any)
	if ind["roe"] != 0.12 {
		t.Errorf("roe = %v", ind["roe"])
	}
	if v, ok := ind["ki"]; !ok || v != nil {
		t.Errorf("absent ki should be null, got %v (present %v)", v, ok)
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleRecords()); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	header := rows[0]
	col := func(name string) int {
		for i, h := range header {
			if h == name {
				return i
			}
		}
		t.Fatalf("column %s missing", name)
		return -1
	}
	row := rows[2]
	if row[col("ticker")] != "CPFE3" || row[col("year")] != "2023" {
		t.Errorf("keys = %s/%s", row[col("ticker")], row[col("year")])
	}
	if row[col("roe")] != "0.1875" || row[col("ki")] != "" || row[col("equity")] != "900" {
		t.Errorf("roe=%q ki=%q equity=%q", row[col("roe")], row[col("ki")], row[col("equity")])
	}
	if row[col("divergent")] != "true" || row[col("has_prior")] != "true" {
		t.Error("flags not written")
	}
	if len(row) != len(CSVHeader()) {
		t.Errorf("row has %d cells, header %d", len(row), len(CSVHeader()))
	}
}

func TestRankingPDF(t *testing.T) {
	var buf bytes.Buffer
	if err := RankingPDF(&buf, sampleRanking(t), PageOptions{Subtitle: "Energia Elétrica", GeneratedAt: fixedTime}); err != nil {
		t.Fatal(err)
	}
	out := buf.Bytes()
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Errorf("not a PDF: %q", out[:min(len(out), 16)])
	}
	if !bytes.Contains(out, []byte("%%EOF")) {
		t.Error("PDF trailer missing")
	}
}

func TestRankingPDF_ManyRowsPaginates(t *testing.T) {
	var recs []models.DerivedRecord
	for i := range 120 {
		var r models.DerivedRecord
		r.Entity = models.Entity{Code: fmt.Sprint(1000 + i), Ticker: fmt.Sprintf("TST%d", i)}
		r.Year = 2023
		r.Indicators.ROE = models.Some(float64(i) / 100)
		recs = append(recs, r)
	}
	rk, err := ranking.Rank(recs, models.MetricROE, "")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := RankingPDF(&buf, rk, PageOptions{}); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Error("not a PDF")
	}
}

// ════════════════════════════════════════════════════════════════════
// Markdown
// ════════════════════════════════════════════════════════════════════

func TestRankingMarkdown(t *testing.T) {
	out := RankingMarkdown(sampleRanking(t), 0)
	for _, want := range []string{"## ROE (highest first)", "| 1 | CPFE3 |", "18,75%", "1 registro(s) sem valor"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}

	empty, _ := ranking.Rank(nil, models.MetricROE, "")
	if out := RankingMarkdown(empty, 0); !strings.Contains(out, "Nenhum registro") {
		t.Errorf("empty ranking:\n%s", out)
	}
}

func TestMdCellEscapesPipes(t *testing.T) {
	if got := mdCell("A|B"); got != `A\|B` {
		t.Errorf("mdCell = %q", got)
	}
}

func TestMarkdownHTML(t *testing.T) {
	out, err := MarkdownHTML("| a | b |\n|---|---|\n| 1 | 2 |\n")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "<table>") || !strings.Contains(out, "<td>1</td>") {
		t.Errorf("GFM table not rendered:\n%s", out)
	}
}

func TestMethodologyHTML(t *testing.T) {
	out, err := MethodologyHTML(PageOptions{GeneratedAt: fixedTime})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"<h1", "Metodologia", "<table>", "WACC", "10/05/2024 12:30"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
	if !strings.HasPrefix(Methodology(), "# Metodologia") {
		t.Error("embedded methodology missing")
	}
}
