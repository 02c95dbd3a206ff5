package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// WriteJSON writes the derived panel as indented JSON. Absent values are null.
func WriteJSON(w io.Writer, p *models.DerivedPanel) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// CSVHeader returns the column names written by WriteCSV.
func CSVHeader() []string {
	h := []string{"ticker", "year", "cvm_code", "name", "sector"}
	for _, f := range models.RawFields() {
		h = append(h, string(f))
	}
	for _, m := range models.Metrics() {
		h = append(h, string(m))
	}
	return append(h, "has_prior", "leverage_effective", "divergent")
}

// WriteCSV writes one row per derived record: keys, raw fields, indicators
// and flags. Absent values are empty cells; numbers use '.' decimals.
func WriteCSV(w io.Writer, records []models.DerivedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader()); err != nil {
		return err
	}
	for i := range records {
		rec := &records[i]
		row := []string{rec.Entity.Ticker, strconv.Itoa(rec.Year), rec.Entity.Code, rec.Entity.Name, rec.Entity.Sector}
		for _, f := range models.RawFields() {
			row = append(row, csvNum(rec.Get(f)))
		}
		for _, m := range models.Metrics() {
			row = append(row, csvNum(rec.Indicators.Get(m)))
		}
		row = append(row,
			strconv.FormatBool(rec.HasPrior),
			strconv.FormatBool(rec.Indicators.LeverageEffective),
			strconv.FormatBool(rec.Indicators.Divergent))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvNum(n models.Num) string {
	v, ok := n.Get()
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
