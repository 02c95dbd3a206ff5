// Package report renders derived indicators for people: plain-text tables
// for the terminal, HTML pages with SVG charts, and JSON/CSV exports.
// Amounts are in thousands of BRL and use Brazilian number formatting.
package report

import (
	"fmt"
	"math"
	"strings"
)

// ════════════════════════════════════════════════════════════════════
// SVG Charts
// ════════════════════════════════════════════════════════════════════

// ChartConfig holds rendering parameters for SVG charts.
type ChartConfig struct {
	Width        int    // SVG width in pixels (default: 800)
	Height       int    // SVG height in pixels (default: 400)
	MarginTop    int    // top margin (default: 40)
	MarginRight  int    // right margin (default: 90)
	MarginBottom int    // bottom margin (default: 30)
	MarginLeft   int    // left margin (default: 120)
	BgColor      string // background color (default: "#ffffff")
	GridColor    string // grid line color (default: "#e8e8e8")
	TextColor    string // axis label color (default: "#333333")
	FontSize     int    // label font size (default: 11)
	Title        string // chart title
}

// DefaultChartConfig returns sensible defaults for chart rendering.
func DefaultChartConfig() ChartConfig {
	return ChartConfig{
		Width:        800,
		Height:       400,
		MarginTop:    40,
		MarginRight:  90,
		MarginBottom: 30,
		MarginLeft:   120,
		BgColor:      "#ffffff",
		GridColor:    "#e8e8e8",
		TextColor:    "#333333",
		FontSize:     11,
	}
}

// plotArea returns the usable drawing area dimensions.
func (c ChartConfig) plotArea() (x, y, w, h int) {
	return c.MarginLeft, c.MarginTop,
		c.Width - c.MarginLeft - c.MarginRight,
		c.Height - c.MarginTop - c.MarginBottom
}

// ── Horizontal bar chart ──

// BarItem is a single bar. Text is the value label drawn after the bar.
type BarItem struct {
	Label string
	Value float64
	Text  string
	Color string // optional
}

// HorizontalBarChart draws one bar per item, top to bottom. Negative values
// extend left of a zero line.
func HorizontalBarChart(items []BarItem, cfg ChartConfig) string {
	if cfg.Width == 0 {
		title := cfg.Title
		cfg = DefaultChartConfig()
		cfg.Title = title
	}
	if len(items) == 0 {
		return emptySVG(cfg, "Sem dados")
	}
	// Keep bars legible for long rankings.
	if need := cfg.MarginTop + cfg.MarginBottom + 22*len(items); need > cfg.Height {
		cfg.Height = need
	}

	px, py, pw, ph := cfg.plotArea()

	maxVal, minVal := 0.0, 0.0
	for _, item := range items {
		maxVal = math.Max(maxVal, item.Value)
		minVal = math.Min(minVal, item.Value)
	}
	valRange := maxVal - minVal
	if valRange == 0 {
		valRange = 1
	}
	zeroX := float64(px) + (-minVal/valRange)*float64(pw)

	barH := math.Min(float64(ph)/float64(len(items))*0.7, 30)
	gap := (float64(ph) - barH*float64(len(items))) / float64(len(items)+1)

	var sb strings.Builder
	sb.WriteString(svgHeader(cfg))
	fmt.Fprintf(&sb, `<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`,
		cfg.Width, cfg.Height, cfg.BgColor)
	if cfg.Title != "" {
		fmt.Fprintf(&sb, `<text x="%d" y="20" font-size="14" font-weight="bold" fill="%s" text-anchor="middle">%s</text>`,
			cfg.Width/2, cfg.TextColor, escapeXML(cfg.Title))
	}
	if minVal < 0 {
		fmt.Fprintf(&sb, `<line x1="%.1f" y1="%d" x2="%.1f" y2="%d" stroke="#999" stroke-width="1"/>`,
			zeroX, py, zeroX, py+ph)
	}

	for i, item := range items {
		by := float64(py) + gap + float64(i)*(barH+gap)
		color := item.Color
		if color == "" {
			color = "#4caf50"
			if item.Value < 0 {
				color = "#ef5350"
			}
		}

		bw := math.Abs(item.Value) / valRange * float64(pw)
		bx := zeroX
		if item.Value < 0 {
			bx = zeroX - bw
		}
		fmt.Fprintf(&sb, `<rect x="%.1f" y="%.1f" width="%.1f" height="%.1f" fill="%s" rx="2"/>`,
			bx, by, bw, barH, color)
		fmt.Fprintf(&sb, `<text x="%d" y="%.1f" font-size="%d" fill="%s" text-anchor="end">%s</text>`,
			px-5, by+barH/2+4, cfg.FontSize, cfg.TextColor, escapeXML(item.Label))

		text := item.Text
		if text == "" {
			text = fmt.Sprintf("%.2f", item.Value)
		}
		fmt.Fprintf(&sb, `<text x="%.1f" y="%.1f" font-size="%d" fill="%s">%s</text>`,
			math.Max(bx+bw, zeroX)+5, by+barH/2+4, cfg.FontSize, cfg.TextColor, escapeXML(text))
	}

	sb.WriteString("</svg>")
	return sb.String()
}

// ── Line chart ──

// LineChartSeries is a named series. NaN marks a missing point.
type LineChartSeries struct {
	Name   string
	Values []float64
	Color  string // optional, auto-assigned if empty
}

// LineChart draws one or more series over shared x labels.
func LineChart(series []LineChartSeries, labels []string, cfg ChartConfig) string {
	if cfg.Width == 0 {
		title := cfg.Title
		cfg = DefaultChartConfig()
		cfg.MarginLeft = 70
		cfg.Title = title
	}

	minVal, maxVal := math.Inf(1), math.Inf(-1)
	maxLen := 0
	for _, s := range series {
		maxLen = max(maxLen, len(s.Values))
		for _, v := range s.Values {
			if math.IsNaN(v) {
				continue
			}
			minVal = math.Min(minVal, v)
			maxVal = math.Max(maxVal, v)
		}
	}
	if maxLen == 0 || math.IsInf(minVal, 1) {
		return emptySVG(cfg, "Sem dados")
	}

	px, py, pw, ph := cfg.plotArea()
	vRange := maxVal - minVal
	if vRange == 0 {
		vRange = math.Max(math.Abs(maxVal), 1)
	}
	minVal -= vRange * 0.05
	maxVal += vRange * 0.05
	vRange = maxVal - minVal

	xOf := func(i int) float64 {
		if maxLen == 1 {
			return float64(px) + float64(pw)/2
		}
		return float64(px) + float64(i)*float64(pw)/float64(maxLen-1)
	}
	yOf := func(v float64) float64 {
		return float64(py+ph) - (v-minVal)/vRange*float64(ph)
	}

	var sb strings.Builder
	sb.WriteString(svgHeader(cfg))
	fmt.Fprintf(&sb, `<rect x="0" y="0" width="%d" height="%d" fill="%s"/>`,
		cfg.Width, cfg.Height, cfg.BgColor)
	if cfg.Title != "" {
		fmt.Fprintf(&sb, `<text x="%d" y="20" font-size="14" font-weight="bold" fill="%s" text-anchor="middle">%s</text>`,
			cfg.Width/2, cfg.TextColor, escapeXML(cfg.Title))
	}

	const gridLines = 5
	for i := 0; i <= gridLines; i++ {
		val := minVal + vRange*float64(i)/gridLines
		y := yOf(val)
		fmt.Fprintf(&sb, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="%s" stroke-dasharray="3,3"/>`,
			px, y, px+pw, y, cfg.GridColor)
		fmt.Fprintf(&sb, `<text x="%d" y="%.1f" font-size="%d" fill="%s" text-anchor="end">%.2f</text>`,
			px-5, y+4, cfg.FontSize, cfg.TextColor, val)
	}

	defaultColors := []string{"#2196f3", "#ff9800", "#4caf50", "#e91e63", "#9c27b0", "#00bcd4"}
	for si, s := range series {
		color := s.Color
		if color == "" {
			color = defaultColors[si%len(defaultColors)]
		}

		// A missing point breaks the line.
		var path []string
		cmd := "M"
		for i, v := range s.Values {
			if math.IsNaN(v) {
				cmd = "M"
				continue
			}
			path = append(path, fmt.Sprintf("%s%.1f,%.1f", cmd, xOf(i), yOf(v)))
			cmd = "L"
			fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="3" fill="%s"/>`, xOf(i), yOf(v), color)
		}
		if len(path) > 1 {
			fmt.Fprintf(&sb, `<path d="%s" fill="none" stroke="%s" stroke-width="2"/>`,
				strings.Join(path, " "), color)
		}

		ly := py + 10 + si*16
		fmt.Fprintf(&sb, `<line x1="%d" y1="%d" x2="%d" y2="%d" stroke="%s" stroke-width="2"/>`,
			px+10, ly, px+30, ly, color)
		fmt.Fprintf(&sb, `<text x="%d" y="%d" font-size="10" fill="%s">%s</text>`,
			px+35, ly+4, cfg.TextColor, escapeXML(s.Name))
	}

	for i := 0; i < len(labels) && i < maxLen; i++ {
		fmt.Fprintf(&sb, `<text x="%.1f" y="%d" font-size="%d" fill="%s" text-anchor="middle">%s</text>`,
			xOf(i), py+ph+18, cfg.FontSize-1, cfg.TextColor, escapeXML(labels[i]))
	}

	sb.WriteString("</svg>")
	return sb.String()
}

func svgHeader(cfg ChartConfig) string {
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`,
		cfg.Width, cfg.Height, cfg.Width, cfg.Height)
}

func emptySVG(cfg ChartConfig, msg string) string {
	if cfg.Width == 0 {
		cfg.Width = 400
	}
	if cfg.Height == 0 {
		cfg.Height = 200
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><rect width="%d" height="%d" fill="#f5f5f5"/><text x="%d" y="%d" text-anchor="middle" fill="#999" font-size="14">%s</text></svg>`,
		cfg.Width, cfg.Height, cfg.Width, cfg.Height, cfg.Width/2, cfg.Height/2, escapeXML(msg))
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}
