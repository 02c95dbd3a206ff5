package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/seenimoa/cvmratios/internal/analysis/ranking"
	"github.com/seenimoa/cvmratios/pkg/models"
)

//go:embed methodology.md
var methodology string

// Methodology returns the indicator reference as Markdown.
func Methodology() string { return methodology }

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithXHTML()),
)

// MarkdownHTML converts GitHub-flavoured Markdown to an HTML fragment.
func MarkdownHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// MethodologyHTML renders the indicator reference as a standalone page.
func MethodologyHTML(opts PageOptions) (string, error) {
	body, err := MarkdownHTML(methodology)
	if err != nil {
		return "", err
	}
	title := opts.Title
	if title == "" {
		title = "Metodologia dos indicadores"
	}
	return execute(methodologyTmpl, struct {
		Title       string
		Body        template.HTML
		GeneratedAt string
	}{title, template.HTML(body), timestamp(opts.GeneratedAt)})
}

// RankingMarkdown renders a ranking as a GFM table.
func RankingMarkdown(r ranking.Ranking, limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s (%s)\n\n", r.Metric.Label, orderLabel(r.Order))
	if len(r.Entries) == 0 {
		sb.WriteString("Nenhum registro possui este indicador.\n")
		return sb.String()
	}
	sb.WriteString("| # | Ticker | Empresa | Ano | Valor |\n|---:|---|---|---:|---:|\n")
	for _, e := range r.Top(limit) {
		fmt.Fprintf(&sb, "| %d | %s | %s | %d | %s |\n",
			e.Rank, mdCell(e.Entity.Label()), mdCell(e.Entity.Name), e.Year,
			r.Metric.Format(models.Some(e.Value)))
	}
	if r.Absent > 0 {
		fmt.Fprintf(&sb, "\n%d registro(s) sem valor.\n", r.Absent)
	}
	return sb.String()
}

func mdCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
