package datasource

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/seenimoa/cvmratios/internal/mapping"
	"github.com/seenimoa/cvmratios/pkg/models"
	"github.com/seenimoa/cvmratios/pkg/utils"
)

// Line is one account value of a DFP extract, scaled to thousands.
type Line struct {
	CompanyCode string // CD_CVM
	CompanyName string // DENOM_CIA
	Year        int
	Version     int
	Statement   models.Statement
	AccountCode string // CD_CONTA
	Description string // DS_CONTA
	Value       decimal.Decimal
}

// Extract column names of the CVM open-data DFP files.
const (
	colCompanyCode = "CD_CVM"
	colCompanyName = "DENOM_CIA"
	colRefDate     = "DT_REFER"
	colEndDate     = "DT_FIM_EXERC"
	colVersion     = "VERSAO"
	colGroup       = "GRUPO_DFP"
	colScale       = "ESCALA_MOEDA"
	colOrder       = "ORDEM_EXERC"
	colAccountCode = "CD_CONTA"
	colDescription = "DS_CONTA"
	colValue       = "VL_CONTA"
)

var requiredExtractColumns = []string{colCompanyCode, colAccountCode, colDescription, colValue}

var thousand = decimal.NewFromInt(1000)

// ReadExtract parses a DFP extract. CSV input follows the CVM open-data
// layout (';' separated, ISO-8859-1 or UTF-8); HTML input is the first
// <table> of the page with the same column names in its header.
//
// Only the current-year column (ORDEM_EXERC "ÚLTIMO") is kept; amounts
// reported in units are converted to thousands.
func ReadExtract(r io.Reader, format Format) ([]Line, error) {
	var rows [][]string
	var err error
	switch format {
	case FormatCSV:
		rows, err = extractCSVRows(r)
	case FormatHTML:
		rows, err = extractHTMLRows(r)
	default:
		return nil, fmt.Errorf("%w for an extract: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return parseExtract(rows)
}

func extractCSVRows(r io.Reader) ([][]string, error) {
	data, err := readText(r)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read extract csv: %w", err)
	}
	return rows, nil
}

func extractHTMLRows(r io.Reader) ([][]string, error) {
	data, err := readText(r)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse extract HTML: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("extract HTML has no table")
	}

	var rows [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, strings.TrimSpace(cell.Text()))
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows, nil
}

func parseExtract(rows [][]string) ([]Line, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	idx := make(map[string]int)
	for i, h := range rows[0] {
		idx[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredExtractColumns {
		if _, ok := idx[c]; !ok {
			return nil, fmt.Errorf("%w: extract lacks %s", ErrMissingKeyColumn, c)
		}
	}
	_, hasEnd := idx[colEndDate]
	_, hasRef := idx[colRefDate]
	if !hasEnd && !hasRef {
		return nil, fmt.Errorf("%w: extract lacks %s or %s", ErrMissingKeyColumn, colEndDate, colRefDate)
	}

	get := func(row []string, col string) string {
		i, ok := idx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lines := make([]Line, 0, len(rows)-1)
	for n, row := range rows[1:] {
		lineNo := n + 2
		if blank(row) {
			continue
		}
		if !currentYear(get(row, colOrder)) {
			continue
		}

		date := get(row, colEndDate)
		if date == "" {
			date = get(row, colRefDate)
		}
		year, err := utils.ParseFiscalYear(date)
		if err != nil {
			return nil, fmt.Errorf("extract line %d: %w", lineNo, err)
		}

		raw := get(row, colValue)
		if raw == "" {
			continue
		}
		value, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			return nil, fmt.Errorf("extract line %d: amount %q: %w", lineNo, raw, err)
		}
		if strings.EqualFold(get(row, colScale), "UNIDADE") {
			value = value.Div(thousand)
		}

		version := 0
		if v := get(row, colVersion); v != "" {
			if version, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("extract line %d: version %q: %w", lineNo, v, err)
			}
		}

		code := get(row, colAccountCode)
		lines = append(lines, Line{
			CompanyCode: normalizeCVMCode(get(row, colCompanyCode)),
			CompanyName: get(row, colCompanyName),
			Year:        year,
			Version:     version,
			Statement:   statementOf(get(row, colGroup), code),
			AccountCode: code,
			Description: get(row, colDescription),
			Value:       value,
		})
	}
	return lines, nil
}

// currentYear reports whether an ORDEM_EXERC value selects the filing's own
// fiscal year. Files without the column carry a single year.
func currentYear(order string) bool {
	if order == "" {
		return true
	}
	return mapping.NormalizeLabel(order) == "ultimo"
}

// statementOf classifies a line from GRUPO_DFP, falling back to the first
// digit of the account code.
func statementOf(group, code string) models.Statement {
	g := mapping.NormalizeLabel(group)
	switch {
	case strings.Contains(g, "balanco"):
		return models.StatementBalance
	case strings.Contains(g, "resultado") && !strings.Contains(g, "abrangente"):
		return models.StatementIncome
	case strings.Contains(g, "fluxo de caixa"):
		return models.StatementCashFlow
	}
	switch {
	case strings.HasPrefix(code, "1"), strings.HasPrefix(code, "2"):
		return models.StatementBalance
	case strings.HasPrefix(code, "3"):
		return models.StatementIncome
	case strings.HasPrefix(code, "6"):
		return models.StatementCashFlow
	}
	return ""
}
