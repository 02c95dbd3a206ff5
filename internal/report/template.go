package report

import "html/template"

// pageStyle is shared by every HTML page.
const pageStyle = `
  :root {
    --bg: #ffffff;
    --text: #1a1a2e;
    --muted: #6b7280;
    --border: #e5e7eb;
    --accent: #2563eb;
    --green: #16a34a;
    --red: #dc2626;
    --section-bg: #f8fafc;
  }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
    color: var(--text);
    background: var(--bg);
    line-height: 1.6;
    max-width: 960px;
    margin: 0 auto;
    padding: 20px;
  }
  h1 { font-size: 1.5rem; margin-bottom: 4px; color: var(--accent); }
  h2 { font-size: 1.2rem; margin: 24px 0 12px; padding-bottom: 6px; border-bottom: 2px solid var(--accent); }
  .muted { color: var(--muted); font-size: 0.85rem; }
  .header { border-bottom: 3px solid var(--accent); padding-bottom: 12px; margin-bottom: 16px; }
  .ticker-badge {
    display: inline-block;
    background: var(--accent);
    color: white;
    padding: 2px 12px;
    border-radius: 4px;
    font-weight: 700;
    margin-right: 8px;
  }
  .chart { margin: 16px 0; overflow-x: auto; }
  table { width: 100%; border-collapse: collapse; margin: 8px 0 16px; font-size: 0.9rem; }
  th { background: var(--section-bg); text-align: left; padding: 8px; font-weight: 600; }
  td { padding: 8px; border-bottom: 1px solid var(--border); }
  td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
  .positive { color: var(--green); }
  .negative { color: var(--red); }
  .footer { margin-top: 24px; font-size: 0.75rem; color: var(--muted); border-top: 1px solid var(--border); padding-top: 8px; }
`

const rankingHTML = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="header">
  <h1>{{.Title}}</h1>
  {{if .Subtitle}}<p class="muted">{{.Subtitle}}</p>{{end}}
  <p class="muted">{{.Metric}}, {{.Order}}. Gerado em {{.GeneratedAt}}.</p>
</div>

<div class="chart">{{.Chart}}</div>

<h2>Ranking</h2>
<table>
  <thead>
    <tr><th class="num">#</th><th>Ticker</th><th>Empresa</th><th>Setor</th><th class="num">Ano</th><th class="num">{{.Metric}}</th></tr>
  </thead>
  <tbody>
  {{- range .Rows}}
    <tr>
      <td class="num">{{.Rank}}</td>
      <td><span class="ticker-badge">{{.Ticker}}</span></td>
      <td>{{.Name}}</td>
      <td>{{.Sector}}</td>
      <td class="num">{{.Year}}</td>
      <td class="num {{.Class}}">{{.Value}}</td>
    </tr>
  {{- else}}
    <tr><td colspan="6" class="muted">Nenhum registro possui este indicador.</td></tr>
  {{- end}}
  </tbody>
</table>
<p class="muted">{{.Ranked}} registro(s) classificados{{if .Absent}}, {{.Absent}} sem valor{{end}}.</p>

<div class="footer">Valores em milhares de reais. Fonte: demonstrações financeiras padronizadas (DFP) da CVM.</div>
</body>
</html>
`

const companyHTML = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="header">
  <h1><span class="ticker-badge">{{.Entity.Label}}</span>{{.Entity.Name}}</h1>
  <p class="muted">{{if .Entity.Code}}CVM {{.Entity.Code}}{{end}}{{if .Entity.Sector}} · {{.Entity.Sector}}{{end}}</p>
  {{if .Subtitle}}<p class="muted">{{.Subtitle}}</p>{{end}}
  <p class="muted">Gerado em {{.GeneratedAt}}.</p>
</div>

<div class="chart">{{.Chart}}</div>

<h2>Indicadores</h2>
<table>
  <thead>
    <tr><th>Indicador</th>{{range .Years}}<th class="num">{{.}}</th>{{end}}</tr>
  </thead>
  <tbody>
  {{- range .Rows}}
    <tr><td>{{.Label}}</td>{{range .Values}}<td class="num">{{.}}</td>{{end}}</tr>
  {{- end}}
  </tbody>
</table>

<div class="footer">Valores em milhares de reais. Fonte: demonstrações financeiras padronizadas (DFP) da CVM.</div>
</body>
</html>
`

const methodologyHTML = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
{{.Body}}
<div class="footer">Gerado em {{.GeneratedAt}}</div>
</body>
</html>
`

var (
	methodologyTmpl = template.Must(template.New("methodology").Parse(methodologyHTML))
	rankingTmpl     = template.Must(template.New("ranking").Parse(rankingHTML))
	companyTmpl     = template.Must(template.New("company").Parse(companyHTML))
)
