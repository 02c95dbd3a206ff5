package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seenimoa/cvmratios/internal/analysis/ranking"
	"github.com/seenimoa/cvmratios/internal/datasource"
	"github.com/seenimoa/cvmratios/internal/pipeline"
	"github.com/seenimoa/cvmratios/internal/report"
	"github.com/seenimoa/cvmratios/pkg/models"
)

// defaultReportLimit caps the rows of a rendered ranking page.
const defaultReportLimit = 25

// SummaryResponse describes the panel being served.
type SummaryResponse struct {
	Source   string                    `json:"source"`
	Rules    string                    `json:"rules"`
	LoadedAt time.Time                 `json:"loaded_at"`
	Summary  models.RunSummary         `json:"summary"`
	Years    []int                     `json:"years"`
	Sectors  []string                  `json:"sectors"`
	Assembly *datasource.AssemblyStats `json:"assembly,omitempty"`
}

// PanelResponse is a filtered slice of the panel.
type PanelResponse struct {
	Filter  ranking.Filter         `json:"filter"`
	Count   int                    `json:"count"`
	Records []models.DerivedRecord `json:"records"`
}

// EntityResponse is one entity's history and its standing in the latest year.
type EntityResponse struct {
	Entity     models.Entity          `json:"entity"`
	Records    []models.DerivedRecord `json:"records"`
	Comparison *ranking.Comparison    `json:"comparison,omitempty"`
}

// SectorsResponse holds the per-sector medians of one year.
type SectorsResponse struct {
	Year    int                   `json:"year"`
	Sectors []ranking.SectorStats `json:"sectors"`
}

// ReconciliationResponse lists the records whose economic-profit figures diverge.
type ReconciliationResponse struct {
	Year      int                    `json:"year,omitempty"`
	Tolerance float64                `json:"tolerance"`
	Count     int                    `json:"count"`
	Records   []models.DerivedRecord `json:"records"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state, _ := s.snapshot()
	data := map[string]any{
		"status":     "ok",
		"version":    Version,
		"ws_clients": s.wsHub.ClientCount(),
		"cache":      s.cache.Stats(),
	}
	if state != nil {
		data["records"] = state.Panel.Summary.Records
		data["loaded_at"] = state.LoadedAt
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	state, _ := s.snapshot()
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "no panel loaded")
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: SummaryResponse{
		Source:   state.Source,
		Rules:    state.Panel.Rules,
		LoadedAt: state.LoadedAt,
		Summary:  state.Panel.Summary,
		Years:    state.Panel.Years(),
		Sectors:  state.Panel.Sectors(),
		Assembly: state.Assembly,
	}})
}

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	state, gen, ok := s.requirePanel(w)
	if !ok {
		return
	}
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, _ := s.cached("panel|"+r.URL.RawQuery, gen, func() (any, error) {
		recs := f.Apply(state.Panel)
		return PanelResponse{Filter: f, Count: len(recs), Records: recs}, nil
	})
	resp := v.(PanelResponse)

	if strings.EqualFold(r.URL.Query().Get("format"), string(report.FormatCSV)) {
		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, resp.Records); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="indicadores.csv"`)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes()) //nolint:errcheck
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: ranking.Metrics()})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrReloadDisabled) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	state, _ := s.snapshot()
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: newReloadEvent(state)})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	rk, limit, ok := s.rankFromRequest(w, r)
	if !ok {
		return
	}
	rk.Entries = rk.Top(limit)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: rk})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	state, gen, ok := s.requirePanel(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "ticker")

	v, err := s.cached("entity|"+strings.ToUpper(id), gen, func() (any, error) {
		recs, err := ranking.DrillDown(state.Panel, id)
		if err != nil {
			return nil, err
		}
		return EntityResponse{
			Entity:     recs[len(recs)-1].Entity,
			Records:    recs,
			Comparison: peerComparison(state.Panel, recs[len(recs)-1]),
		}, nil
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: v})
}

func peerComparison(p *models.DerivedPanel, latest models.DerivedRecord) *ranking.Comparison {
	cmp, ok := ranking.PeerCompare(p, latest)
	if !ok {
		return nil
	}
	return &cmp
}

func (s *Server) handleSectors(w http.ResponseWriter, r *http.Request) {
	state, gen, ok := s.requirePanel(w)
	if !ok {
		return
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid year %q", chi.URLParam(r, "year")))
		return
	}
	v, _ := s.cached("sectors|"+strconv.Itoa(year), gen, func() (any, error) {
		return SectorsResponse{Year: year, Sectors: ranking.SectorSummary(state.Panel, year)}, nil
	})
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: v})
}

func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	state, gen, ok := s.requirePanel(w)
	if !ok {
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, _ := s.cached("reconciliation|"+strconv.Itoa(year), gen, func() (any, error) {
		recs := ranking.Divergences(ranking.Filter{Year: year}.Apply(state.Panel))
		return ReconciliationResponse{
			Year:      year,
			Tolerance: s.cfg.Engine.Tolerance,
			Count:     len(recs),
			Records:   recs,
		}, nil
	})
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: v})
}

// ============================================================
// Report handlers
// ============================================================

func (s *Server) handleRankReport(w http.ResponseWriter, r *http.Request) {
	rk, limit, ok := s.rankFromRequest(w, r)
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultReportLimit
	}
	opts := report.PageOptions{Limit: limit, Subtitle: subtitle(r)}

	format := report.FormatHTML
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := report.ParseFormat(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}

	switch format {
	case report.FormatPDF:
		var buf bytes.Buffer
		if err := report.RankingPDF(&buf, rk, opts); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="ranking-%s.pdf"`, rk.Metric.Metric))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes()) //nolint:errcheck
	case report.FormatMD:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(report.RankingMarkdown(rk, limit))) //nolint:errcheck
	case report.FormatHTML:
		page, err := report.RankingHTML(rk, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeHTML(w, page)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("format %q is not available for reports", format))
	}
}

func (s *Server) handleCompanyReport(w http.ResponseWriter, r *http.Request) {
	state, _, ok := s.requirePanel(w)
	if !ok {
		return
	}
	recs, err := ranking.DrillDown(state.Panel, chi.URLParam(r, "ticker"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	page, err := report.CompanyHTML(recs, report.PageOptions{Subtitle: state.Panel.Rules})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeHTML(w, page)
}

func (s *Server) handleMethodology(w http.ResponseWriter, r *http.Request) {
	page, err := report.MethodologyHTML(report.PageOptions{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeHTML(w, page)
}

// ============================================================
// Request parsing
// ============================================================

// requirePanel writes 503 when nothing is loaded yet.
func (s *Server) requirePanel(w http.ResponseWriter) (*pipeline.Result, uint64, bool) {
	state, gen := s.snapshot()
	if state == nil || state.Panel == nil {
		writeError(w, http.StatusServiceUnavailable, "no panel loaded")
		return nil, 0, false
	}
	return state, gen, true
}

// rankFromRequest builds the ranking named by the {metric} URL parameter,
// filtered by the year and sector query parameters.
func (s *Server) rankFromRequest(w http.ResponseWriter, r *http.Request) (ranking.Ranking, int, bool) {
	state, gen, ok := s.requirePanel(w)
	if !ok {
		return ranking.Ranking{}, 0, false
	}
	mi, err := ranking.Lookup(chi.URLParam(r, "metric"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return ranking.Ranking{}, 0, false
	}
	order, err := ranking.ParseOrder(r.URL.Query().Get("order"), mi)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ranking.Ranking{}, 0, false
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ranking.Ranking{}, 0, false
	}
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return ranking.Ranking{}, 0, false
	}

	key := fmt.Sprintf("rank|%s|%s|%d|%s", mi.Metric, order, f.Year, strings.ToLower(f.Sector))
	v, err := s.cached(key, gen, func() (any, error) {
		return ranking.Rank(f.Apply(state.Panel), mi.Metric, order)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return ranking.Ranking{}, 0, false
	}
	return v.(ranking.Ranking), limit, true
}

func filterFromQuery(r *http.Request) (ranking.Filter, error) {
	year, err := queryInt(r, "year")
	if err != nil {
		return ranking.Filter{}, err
	}
	q := r.URL.Query()
	return ranking.Filter{
		Year:   year,
		Ticker: strings.TrimSpace(q.Get("ticker")),
		Sector: strings.TrimSpace(q.Get("sector")),
	}, nil
}

func subtitle(r *http.Request) string {
	var parts []string
	q := r.URL.Query()
	if y := q.Get("year"); y != "" {
		parts = append(parts, "Ano "+y)
	}
	if sec := q.Get("sector"); sec != "" {
		parts = append(parts, sec)
	}
	return strings.Join(parts, " · ")
}
