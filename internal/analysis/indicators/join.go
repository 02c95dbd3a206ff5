package indicators

import (
	"errors"
	"fmt"
	"sort"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// ErrDuplicateKey is returned when two records share an (entity, year) key.
var ErrDuplicateKey = errors.New("duplicate (entity, year) record")

// ErrMissingKey is returned when a record has no entity identifier or year.
var ErrMissingKey = errors.New("record without entity or year")

// Index locates records by (entity, year) so each record's prior fiscal year
// can be found in constant time regardless of input order.
type Index struct {
	records []models.PeriodRecord
	byKey   map[string]map[int]int
	order   map[string][]int // row indices per entity, ascending by year
}

// NewIndex indexes records. It fails on records without a key and on
// duplicate keys.
func NewIndex(records []models.PeriodRecord) (*Index, error) {
	ix := &Index{
		records: records,
		byKey:   make(map[string]map[int]int),
		order:   make(map[string][]int),
	}

	for i := range records {
		rec := &records[i]
		key := rec.Entity.Key()
		if key == "" || rec.Year <= 0 {
			return nil, fmt.Errorf("%w: row %d (entity %q, year %d)", ErrMissingKey, i, key, rec.Year)
		}
		years, ok := ix.byKey[key]
		if !ok {
			years = make(map[int]int)
			ix.byKey[key] = years
		}
		if prev, dup := years[rec.Year]; dup {
			return nil, fmt.Errorf("%w: %s/%d at rows %d and %d", ErrDuplicateKey, key, rec.Year, prev, i)
		}
		years[rec.Year] = i
		ix.order[key] = append(ix.order[key], i)
	}

	for key, rows := range ix.order {
		sort.Slice(rows, func(a, b int) bool {
			return records[rows[a]].Year < records[rows[b]].Year
		})
		ix.order[key] = rows
	}

	return ix, nil
}

// Lookup returns the record of entity key for year.
func (ix *Index) Lookup(key string, year int) (*models.PeriodRecord, bool) {
	i, ok := ix.byKey[key][year]
	if !ok {
		return nil, false
	}
	return &ix.records[i], true
}

// Prior returns the record for the same entity and the immediately
// preceding fiscal year of row i. A gap in filings means no prior record.
func (ix *Index) Prior(i int) (*models.PeriodRecord, bool) {
	rec := &ix.records[i]
	return ix.Lookup(rec.Entity.Key(), rec.Year-1)
}

// Entities returns every entity key, sorted.
func (ix *Index) Entities() []string {
	keys := make([]string, 0, len(ix.order))
	for k := range ix.order {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rows returns the row indices of entity key in ascending year order.
func (ix *Index) Rows(key string) []int {
	return ix.order[key]
}

// Len returns the number of indexed records.
func (ix *Index) Len() int {
	return len(ix.records)
}
