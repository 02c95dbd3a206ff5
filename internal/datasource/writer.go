package datasource

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// PanelSheet is the sheet name used for written workbooks.
const PanelSheet = "painel"

var panelKeyHeader = []string{"Ticker", "Ano", "CD_CVM", "DENOM_CIA", "SETOR_ATIV"}

// WritePanel writes p in a layout PanelLoader reads back: key columns
// followed by one column per raw field the panel carries.
func WritePanel(w io.Writer, p *models.Panel, format Format) error {
	fields := panelFields(p)
	header := append(append([]string{}, panelKeyHeader...), fieldNames(fields)...)

	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for i := range p.Records {
			if err := cw.Write(panelRow(&p.Records[i], fields)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case FormatXLSX:
		f := excelize.NewFile()
		defer f.Close()
		if err := f.SetSheetName("Sheet1", PanelSheet); err != nil {
			return err
		}
		if err := f.SetSheetRow(PanelSheet, "A1", &header); err != nil {
			return err
		}
		for i := range p.Records {
			rec := &p.Records[i]
			row := []any{rec.Entity.Ticker, rec.Year, rec.Entity.Code, rec.Entity.Name, rec.Entity.Sector}
			for _, fld := range fields {
				if v, ok := rec.Get(fld).Get(); ok {
					row = append(row, v)
				} else {
					row = append(row, nil)
				}
			}
			cell, err := excelize.CoordinatesToCellName(1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(PanelSheet, cell, &row); err != nil {
				return err
			}
		}
		if _, err := f.WriteTo(w); err != nil {
			return fmt.Errorf("write workbook: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w for a panel: %s", ErrUnsupportedFormat, format)
}

func panelFields(p *models.Panel) []models.Field {
	var out []models.Field
	for _, f := range models.RawFields() {
		if p.HasColumn(f) {
			out = append(out, f)
		}
	}
	return out
}

func fieldNames(fields []models.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}

func panelRow(rec *models.PeriodRecord, fields []models.Field) []string {
	row := []string{rec.Entity.Ticker, strconv.Itoa(rec.Year), rec.Entity.Code, rec.Entity.Name, rec.Entity.Sector}
	for _, f := range fields {
		v, ok := rec.Get(f).Get()
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
	}
	return row
}
