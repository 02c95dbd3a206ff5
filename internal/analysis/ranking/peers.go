package ranking

import (
	"math"
	"sort"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// RelativeMetric places a target's indicator among its peers.
type RelativeMetric struct {
	Metric      models.Metric `json:"metric"`
	TargetValue float64       `json:"target_value"`
	PeerAvg     float64       `json:"peer_avg"`
	PeerMedian  float64       `json:"peer_median"`
	Percentile  float64       `json:"percentile"` // 0-100, share of peers the target beats
	Peers       int           `json:"peers"`
}

// Comparison is a target record measured against a peer group.
type Comparison struct {
	Entity  models.Entity    `json:"entity"`
	Year    int              `json:"year"`
	Metrics []RelativeMetric `json:"metrics"`
	Summary string           `json:"summary"`
}

// Compare measures target against peers on every catalogue metric the
// target carries. Peers with the target's own key and year are ignored,
// and so are absent peer values.
func Compare(target models.DerivedRecord, peers []models.DerivedRecord) Comparison {
	cmp := Comparison{Entity: target.Entity, Year: target.Year}
	key := target.Entity.Key()

	var pctSum float64
	for _, mi := range catalogue {
		tv, ok := target.Indicators.Get(mi.Metric).Get()
		if !ok {
			continue
		}

		var vals []float64
		for i := range peers {
			if peers[i].Entity.Key() == key && peers[i].Year == target.Year {
				continue
			}
			if v, ok := peers[i].Indicators.Get(mi.Metric).Get(); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}

		beaten := 0
		for _, v := range vals {
			if mi.LowerBetter {
				if v > tv {
					beaten++
				}
			} else if v < tv {
				beaten++
			}
		}
		pct := float64(beaten) / float64(len(vals)) * 100
		pctSum += pct

		cmp.Metrics = append(cmp.Metrics, RelativeMetric{
			Metric:      mi.Metric,
			TargetValue: tv,
			PeerAvg:     mean(vals),
			PeerMedian:  median(vals),
			Percentile:  pct,
			Peers:       len(vals),
		})
	}

	if len(cmp.Metrics) > 0 {
		cmp.Summary = standing(target.Entity.Label(), pctSum/float64(len(cmp.Metrics)))
	}
	return cmp
}

func standing(label string, pctile float64) string {
	switch {
	case pctile >= 80:
		return label + " ranks in the top quintile among peers"
	case pctile >= 60:
		return label + " ranks above average among peers"
	case pctile >= 40:
		return label + " ranks average among peers"
	case pctile >= 20:
		return label + " ranks below average among peers"
	default:
		return label + " ranks in the bottom quintile among peers"
	}
}

// PeerCompare compares rec against the companies of its sector in the same
// year, or against the whole year when rec has no sector. ok is false when
// fewer than two records form the group.
func PeerCompare(p *models.DerivedPanel, rec models.DerivedRecord) (cmp Comparison, ok bool) {
	f := Filter{Year: rec.Year, Sector: rec.Entity.Sector}
	peers := f.Apply(p)
	if len(peers) < 2 {
		return Comparison{}, false
	}
	return Compare(rec, peers), true
}

// SectorStats holds per-sector medians for one fiscal year.
type SectorStats struct {
	Sector    string                       `json:"sector"`
	Companies int                          `json:"companies"`
	Medians   map[models.Metric]models.Num `json:"medians"`
}

// Unclassified labels records without a sector.
const Unclassified = "(sem setor)"

// SectorSummary groups the records of year by sector and returns the median
// of every catalogue metric, sorted by sector. A metric with no present value
// in a sector has an absent median.
func SectorSummary(p *models.DerivedPanel, year int) []SectorStats {
	groups := make(map[string][]*models.DerivedRecord)
	for i := range p.Records {
		rec := &p.Records[i]
		if rec.Year != year {
			continue
		}
		sector := rec.Entity.Sector
		if sector == "" {
			sector = Unclassified
		}
		groups[sector] = append(groups[sector], rec)
	}

	out := make([]SectorStats, 0, len(groups))
	for sector, recs := range groups {
		s := SectorStats{Sector: sector, Companies: len(recs), Medians: make(map[models.Metric]models.Num, len(catalogue))}
		for _, mi := range catalogue {
			var vals []float64
			for _, rec := range recs {
				if v, ok := rec.Indicators.Get(mi.Metric).Get(); ok {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				s.Medians[mi.Metric] = models.None
				continue
			}
			s.Medians[mi.Metric] = models.Some(median(vals))
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sector < out[j].Sector })
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
