package datasource

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/seenimoa/cvmratios/internal/mapping"
	"github.com/seenimoa/cvmratios/pkg/models"
	"github.com/seenimoa/cvmratios/pkg/utils"
)

// LoadCompanies reads a company registry from a local path or URL.
func LoadCompanies(ctx context.Context, src string) (map[string]models.Entity, error) {
	rc, err := open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer rc.Close()
	return ReadCompanies(rc)
}

// ReadCompanies reads a company registry CSV keyed by CVM code, such as the
// CVM cad_cia_aberta.csv file optionally extended with a Ticker column.
// Cancelled registrations are skipped when a SIT column is present.
func ReadCompanies(r io.Reader) (map[string]models.Entity, error) {
	rows, err := csvRows(r)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return map[string]models.Entity{}, nil
	}

	cols := make(map[string]int)
	status := -1
	for i, h := range rows[0] {
		if key, ok := mapping.KeyColumn(h); ok {
			if _, dup := cols[key]; !dup {
				cols[key] = i
			}
		}
		if strings.EqualFold(strings.TrimSpace(h), "SIT") {
			status = i
		}
	}
	codeCol, ok := cols[mapping.ColumnCode]
	if !ok {
		return nil, fmt.Errorf("%w: registry lacks CD_CVM", ErrMissingKeyColumn)
	}

	cell := func(row []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make(map[string]models.Entity)
	for _, row := range rows[1:] {
		if codeCol >= len(row) || blank(row) {
			continue
		}
		if status >= 0 && status < len(row) && mapping.NormalizeLabel(row[status]) == "cancelada" {
			continue
		}
		code := normalizeCVMCode(row[codeCol])
		if code == "" {
			continue
		}
		out[code] = models.Entity{
			Code:   code,
			Ticker: utils.NormalizeTicker(cell(row, mapping.ColumnTicker)),
			Name:   cell(row, mapping.ColumnName),
			Sector: cell(row, mapping.ColumnSector),
		}
	}
	return out, nil
}
