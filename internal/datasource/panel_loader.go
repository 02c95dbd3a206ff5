package datasource

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/cvmratios/internal/mapping"
	"github.com/seenimoa/cvmratios/pkg/models"
	"github.com/seenimoa/cvmratios/pkg/utils"
)

// PanelLoader reads a panel workbook: one row per (company, fiscal year),
// one column per raw field. Headers are matched after trimming, case and
// accent folding, against the field names and the account labels of the
// mapping table. Unrecognised columns are ignored.
type PanelLoader struct {
	aliases map[string]models.Field
	sheet   string
	logger  *slog.Logger
}

// LoaderOption configures a PanelLoader.
type LoaderOption func(*PanelLoader)

// WithSheet selects the workbook sheet. The first sheet is used by default.
func WithSheet(name string) LoaderOption {
	return func(l *PanelLoader) { l.sheet = name }
}

// WithLoaderLogger sets the logger.
func WithLoaderLogger(log *slog.Logger) LoaderOption {
	return func(l *PanelLoader) {
		if log != nil {
			l.logger = log
		}
	}
}

// NewPanelLoader creates a loader recognising the headers of table.
func NewPanelLoader(table mapping.Table, opts ...LoaderOption) *PanelLoader {
	l := &PanelLoader{
		aliases: mapping.ColumnAliases(table),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the panel at src, a local path or URL ending in .xlsx or .csv.
func (l *PanelLoader) Load(ctx context.Context, src string) (*models.Panel, error) {
	format, err := FormatOf(src)
	if err != nil {
		return nil, err
	}
	rc, err := open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("open panel: %w", err)
	}
	defer rc.Close()

	p, err := l.Read(rc, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src, err)
	}
	l.logger.Info("panel loaded", "source", src, "records", len(p.Records), "columns", len(p.Columns))
	return p, nil
}

// Read parses a panel from r.
func (l *PanelLoader) Read(r io.Reader, format Format) (*models.Panel, error) {
	var rows [][]string
	var err error
	switch format {
	case FormatXLSX:
		rows, err = l.xlsxRows(r)
	case FormatCSV:
		rows, err = csvRows(r)
	default:
		return nil, fmt.Errorf("%w for a panel: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	return l.build(rows)
}

func (l *PanelLoader) xlsxRows(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func csvRows(r io.Reader) ([][]string, error) {
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
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// column is what a header resolved to: a key column or a raw field.
type column struct {
	key   string
	field models.Field
}

func (l *PanelLoader) build(rows [][]string) (*models.Panel, error) {
	if len(rows) == 0 {
		return &models.Panel{Columns: map[models.Field]bool{}}, nil
	}

	header := rows[0]
	cols := make([]column, len(header))
	p := &models.Panel{Columns: make(map[models.Field]bool)}
	seenKey := make(map[string]bool)
	for i, h := range header {
		if key, ok := mapping.KeyColumn(h); ok {
			cols[i].key = key
			seenKey[key] = true
			continue
		}
		if f, ok := l.aliases[mapping.NormalizeLabel(h)]; ok {
			cols[i].field = f
			p.Columns[f] = true
		}
	}
	if !seenKey[mapping.ColumnYear] || (!seenKey[mapping.ColumnTicker] && !seenKey[mapping.ColumnCode]) {
		return nil, fmt.Errorf("%w: need a year column and a ticker or CVM code column", ErrMissingKeyColumn)
	}

	for n, row := range rows[1:] {
		line := n + 2
		if blank(row) {
			continue
		}
		var rec models.PeriodRecord
		for i, cell := range row {
			if i >= len(cols) {
				break
			}
			cell = strings.TrimSpace(cell)
			switch c := cols[i]; {
			case c.key == mapping.ColumnTicker:
				rec.Entity.Ticker = utils.NormalizeTicker(cell)
			case c.key == mapping.ColumnCode:
				rec.Entity.Code = normalizeCVMCode(cell)
			case c.key == mapping.ColumnName:
				rec.Entity.Name = cell
			case c.key == mapping.ColumnSector:
				rec.Entity.Sector = cell
			case c.key == mapping.ColumnYear:
				if cell == "" {
					continue
				}
				y, err := utils.ParseFiscalYear(cell)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				rec.Year = y
			case c.field != "":
				v, err := parseAmount(cell)
				if err != nil {
					return nil, fmt.Errorf("line %d, column %q: %w", line, header[i], err)
				}
				rec.Set(c.field, v)
			}
		}
		p.Records = append(p.Records, rec)
	}
	return p, nil
}

// parseAmount parses a cell. Blank and placeholder cells are absent.
func parseAmount(s string) (models.Num, error) {
	switch strings.ToLower(s) {
	case "", "-", "—", "nan", "n/d", "null":
		return models.None, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return models.Some(v), nil
	}
	v, err := utils.ParseNumber(s)
	if err != nil {
		return models.None, err
	}
	return models.Some(v), nil
}

// normalizeCVMCode strips spreadsheet artefacts ("9512.0") and leading zeros.
func normalizeCVMCode(s string) string {
	s = strings.TrimSuffix(strings.TrimSpace(s), ".0")
	if t := strings.TrimLeft(s, "0"); t != "" {
		return t
	}
	return s
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
