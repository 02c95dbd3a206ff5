package report

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/seenimoa/cvmratios/internal/analysis/ranking"
	"github.com/seenimoa/cvmratios/pkg/models"
	"github.com/seenimoa/cvmratios/pkg/utils"
)

// Format specifies the output format.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatMD   Format = "markdown"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatHTML, FormatJSON, FormatCSV, FormatPDF, FormatMD:
		return f, nil
	case "md":
		return FormatMD, nil
	}
	return "", fmt.Errorf("unsupported output format %q (want text, html, json, csv, pdf or markdown)", s)
}

// PageOptions controls HTML page rendering.
type PageOptions struct {
	Title       string
	Subtitle    string // e.g. the filter and rule set
	Limit       int    // rows shown; 0 means all
	Chart       ChartConfig
	GeneratedAt time.Time
}

// ════════════════════════════════════════════════════════════════════
// Plain-text tables
// ════════════════════════════════════════════════════════════════════

const width = 72

var (
	heavyLine = strings.Repeat("═", width)
	thinLine  = strings.Repeat("─", width)
)

// RankingText renders a ranking as a terminal table.
func RankingText(r ranking.Ranking, limit int) string {
	var sb strings.Builder
	sb.WriteString(heavyLine + "\n")
	fmt.Fprintf(&sb, "  %s (%s)\n", r.Metric.Label, orderLabel(r.Order))
	sb.WriteString(heavyLine + "\n")

	entries := r.Top(limit)
	if len(entries) == 0 {
		sb.WriteString("  no records carry this indicator\n")
	}
	fmt.Fprintf(&sb, "  %4s  %-8s  %-28s  %4s  %16s\n", "#", "Ticker", "Company", "Year", "Value")
	sb.WriteString(thinLine + "\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "  %4d  %s  %s  %4d  %s\n",
			e.Rank, pad(e.Entity.Label(), 8), pad(truncate(e.Entity.Name, 28), 28), e.Year,
			padLeft(r.Metric.Format(models.Some(e.Value)), 16))
	}
	sb.WriteString(thinLine + "\n")
	fmt.Fprintf(&sb, "  %d ranked", len(r.Entries))
	if len(entries) < len(r.Entries) {
		fmt.Fprintf(&sb, ", top %d shown", len(entries))
	}
	if r.Absent > 0 {
		fmt.Fprintf(&sb, ", %d without a value", r.Absent)
	}
	sb.WriteString("\n")
	return sb.String()
}

// DrillDownText renders one entity's indicators with a column per year.
func DrillDownText(records []models.DerivedRecord) string {
	var sb strings.Builder
	if len(records) == 0 {
		return "  no records\n"
	}
	e := records[0].Entity
	sb.WriteString(heavyLine + "\n")
	fmt.Fprintf(&sb, "  %s  %s\n", e.Label(), e.Name)
	if e.Sector != "" || e.Code != "" {
		fmt.Fprintf(&sb, "  CVM %s | %s\n", orAbsent(e.Code), orAbsent(e.Sector))
	}
	sb.WriteString(heavyLine + "\n")

	sb.WriteString("  " + pad("Indicator", 34))
	for _, rec := range records {
		sb.WriteString(padLeft(strconv.Itoa(rec.Year), 14))
	}
	sb.WriteString("\n" + thinLine + "\n")

	for _, mi := range ranking.Metrics() {
		sb.WriteString("  " + pad(mi.Label, 34))
		for i := range records {
			sb.WriteString(padLeft(mi.Format(records[i].Indicators.Get(mi.Metric)), 14))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(thinLine + "\n")

	flag := func(label string, get func(*models.DerivedRecord) bool) {
		sb.WriteString("  " + pad(label, 34))
		for i := range records {
			sb.WriteString(padLeft(yesNo(get(&records[i])), 14))
		}
		sb.WriteString("\n")
	}
	flag("Prior year available", func(r *models.DerivedRecord) bool { return r.HasPrior })
	flag("Effective leverage", func(r *models.DerivedRecord) bool { return r.Indicators.LeverageEffective })
	flag("Economic profit divergent", func(r *models.DerivedRecord) bool { return r.Indicators.Divergent })
	return sb.String()
}

// DivergenceText lists records whose economic-profit figures disagree.
func DivergenceText(records []models.DerivedRecord) string {
	var sb strings.Builder
	sb.WriteString(heavyLine + "\n")
	fmt.Fprintf(&sb, "  Economic profit reconciliation: %d divergent record(s)\n", len(records))
	sb.WriteString(heavyLine + "\n")
	if len(records) == 0 {
		return sb.String()
	}
	fmt.Fprintf(&sb, "  %-8s  %4s  %16s  %16s  %16s\n", "Ticker", "Year", "EP (spread)", "EP (income)", "Gap")
	sb.WriteString(thinLine + "\n")
	for i := range records {
		ind := &records[i].Indicators
		fmt.Fprintf(&sb, "  %s  %4d  %s  %s  %s\n",
			pad(records[i].Entity.Label(), 8), records[i].Year,
			padLeft(amount(ind.EconomicProfit1), 16),
			padLeft(amount(ind.EconomicProfit2), 16),
			padLeft(amount(ind.EconomicProfitGap), 16))
	}
	return sb.String()
}

// SectorText renders per-sector medians of the given metrics.
func SectorText(stats []ranking.SectorStats, year int, metrics []ranking.MetricInfo) string {
	var sb strings.Builder
	sb.WriteString(heavyLine + "\n")
	fmt.Fprintf(&sb, "  Sector medians, %d\n", year)
	sb.WriteString(heavyLine + "\n")

	sb.WriteString("  " + pad("Sector", 26) + padLeft("N", 4))
	for _, mi := range metrics {
		sb.WriteString(padLeft(truncate(mi.Label, 13), 14))
	}
	sb.WriteString("\n" + thinLine + "\n")
	for _, s := range stats {
		sb.WriteString("  " + pad(truncate(s.Sector, 26), 26) + padLeft(strconv.Itoa(s.Companies), 4))
		for _, mi := range metrics {
			sb.WriteString(padLeft(mi.Format(s.Medians[mi.Metric]), 14))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ComparisonText renders a peer comparison.
func ComparisonText(cmp ranking.Comparison) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  Peer comparison, %s %d\n", cmp.Entity.Label(), cmp.Year)
	sb.WriteString(thinLine + "\n")
	fmt.Fprintf(&sb, "  %s%s%s%s%s\n", pad("Indicator", 34), padLeft("Value", 14), padLeft("Peer avg", 14), padLeft("Median", 14), padLeft("Pctl", 6))
	for _, rm := range cmp.Metrics {
		mi, err := ranking.Lookup(string(rm.Metric))
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "  %s%s%s%s%s\n", pad(mi.Label, 34),
			padLeft(mi.Format(models.Some(rm.TargetValue)), 14),
			padLeft(mi.Format(models.Some(rm.PeerAvg)), 14),
			padLeft(mi.Format(models.Some(rm.PeerMedian)), 14),
			padLeft(utils.FormatNumber(rm.Percentile, 0), 6))
	}
	if cmp.Summary != "" {
		fmt.Fprintf(&sb, "\n  %s\n", cmp.Summary)
	}
	return sb.String()
}

// ════════════════════════════════════════════════════════════════════
// HTML pages
// ════════════════════════════════════════════════════════════════════

type rankingRow struct {
	Rank   int
	Ticker string
	Name   string
	Sector string
	Year   int
	Value  string
	Class  string
}

type rankingPage struct {
	Title       string
	Subtitle    string
	GeneratedAt string
	Metric      string
	Order       string
	Chart       template.HTML
	Rows        []rankingRow
	Ranked      int
	Absent      int
}

// RankingHTML renders a ranking as a standalone HTML page with an SVG bar chart.
func RankingHTML(r ranking.Ranking, opts PageOptions) (string, error) {
	entries := r.Top(opts.Limit)
	title := opts.Title
	if title == "" {
		title = "Ranking: " + r.Metric.Label
	}

	page := rankingPage{
		Title:       title,
		Subtitle:    opts.Subtitle,
		GeneratedAt: timestamp(opts.GeneratedAt),
		Metric:      r.Metric.Label,
		Order:       orderLabel(r.Order),
		Ranked:      len(r.Entries),
		Absent:      r.Absent,
	}

	bars := make([]BarItem, 0, len(entries))
	for _, e := range entries {
		text := r.Metric.Format(models.Some(e.Value))
		label := fmt.Sprintf("%s %d", e.Entity.Label(), e.Year)
		bars = append(bars, BarItem{Label: label, Value: e.Value, Text: text})
		page.Rows = append(page.Rows, rankingRow{
			Rank:   e.Rank,
			Ticker: e.Entity.Label(),
			Name:   e.Entity.Name,
			Sector: e.Entity.Sector,
			Year:   e.Year,
			Value:  text,
			Class:  signClass(e.Value),
		})
	}
	cfg := opts.Chart
	cfg.Title = r.Metric.Label
	page.Chart = template.HTML(HorizontalBarChart(bars, cfg))

	return execute(rankingTmpl, page)
}

type companyRow struct {
	Label  string
	Values []string
}

type companyPage struct {
	Title       string
	Subtitle    string
	GeneratedAt string
	Entity      models.Entity
	Years       []int
	Chart       template.HTML
	Rows        []companyRow
}

// CompanyHTML renders one entity's indicator history with a chart of its
// returns against WACC.
func CompanyHTML(records []models.DerivedRecord, opts PageOptions) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("no records to render")
	}
	e := records[0].Entity
	page := companyPage{
		Title:       opts.Title,
		Subtitle:    opts.Subtitle,
		GeneratedAt: timestamp(opts.GeneratedAt),
		Entity:      e,
	}
	if page.Title == "" {
		page.Title = e.Label() + " indicators"
	}

	labels := make([]string, len(records))
	for i := range records {
		page.Years = append(page.Years, records[i].Year)
		labels[i] = strconv.Itoa(records[i].Year)
	}
	for _, mi := range ranking.Metrics() {
		row := companyRow{Label: mi.Label}
		for i := range records {
			row.Values = append(row.Values, mi.Format(records[i].Indicators.Get(mi.Metric)))
		}
		page.Rows = append(page.Rows, row)
	}

	var series []LineChartSeries
	for _, m := range []models.Metric{models.MetricROE, models.MetricROI, models.MetricWACC} {
		mi, _ := ranking.Lookup(string(m))
		s := LineChartSeries{Name: mi.Label}
		for i := range records {
			v, ok := records[i].Indicators.Get(m).Get()
			if !ok {
				v = math.NaN()
			} else {
				v *= 100
			}
			s.Values = append(s.Values, v)
		}
		series = append(series, s)
	}
	cfg := opts.Chart
	cfg.Title = "Returns vs WACC (%)"
	page.Chart = template.HTML(LineChart(series, labels, cfg))

	return execute(companyTmpl, page)
}

func execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// ReportTimestamp returns the current São Paulo time for report headers.
func ReportTimestamp() string {
	return timestamp(time.Time{})
}

var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}()

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.In(saoPaulo).Format("02/01/2006 15:04")
}

func amount(n models.Num) string {
	v, ok := n.Get()
	if !ok {
		return utils.Absent
	}
	return utils.FormatNumber(v, 0)
}

func orAbsent(s string) string {
	if s == "" {
		return utils.Absent
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "sim"
	}
	return "não"
}

func orderLabel(o ranking.Order) string {
	if o == ranking.OrderAsc {
		return "lowest first"
	}
	return "highest first"
}

func signClass(v float64) string {
	if v < 0 {
		return "negative"
	}
	return "positive"
}

// pad right-pads s to n runes.
func pad(s string, n int) string {
	if c := utf8.RuneCountInString(s); c < n {
		return s + strings.Repeat(" ", n-c)
	}
	return s
}

// padLeft left-pads s to n runes.
func padLeft(s string, n int) string {
	if c := utf8.RuneCountInString(s); c < n {
		return strings.Repeat(" ", n-c) + s
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
