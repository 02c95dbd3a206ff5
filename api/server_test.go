package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seenimoa/cvmratios/internal/analysis/indicators"
	"github.com/seenimoa/cvmratios/internal/config"
	"github.com/seenimoa/cvmratios/internal/datasource"
	"github.com/seenimoa/cvmratios/internal/pipeline"
	"github.com/seenimoa/cvmratios/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Test Helpers
// ════════════════════════════════════════════════════════════════════

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	def := indicators.DefaultRules()
	cfg := &config.Config{}
	cfg.Rules.Averaging = string(def.Averaging)
	cfg.Rules.WACC = string(def.WACC)
	cfg.Rules.EconomicProfit = string(def.EconomicProfit)
	cfg.Engine.Tolerance = def.Tolerance
	cfg.API.CacheTTL = 60
	return cfg
}

func derived(ticker, code, sector string, year int, roe, wacc models.Num, divergent bool, gap float64) models.DerivedRecord {
	var r models.DerivedRecord
	r.Entity = models.Entity{Code: code, Ticker: ticker, Name: ticker + " S.A.", Sector: sector}
	r.Year = year
	r.HasPrior = year > 2022
	r.Indicators.ROE = roe
	r.Indicators.WACC = wacc
	r.Indicators.Divergent = divergent
	r.Indicators.EconomicProfitGap = models.Some(gap)
	return r
}

func samplePanel() *models.DerivedPanel {
	return &models.DerivedPanel{
		Rules: "v2/asymmetric/capital-weighted/capital-charge",
		Records: []models.DerivedRecord{
			derived("CPFE3", "9512", "Energia", 2022, models.None, models.Some(0.09), false, 0),
			derived("CPFE3", "9512", "Energia", 2023, models.Some(0.20), models.Some(0.08), true, 150),
			derived("TAEE11", "20257", "Energia", 2023, models.Some(0.15), models.Some(0.07), false, 1),
			derived("LREN3", "8133", "Varejo", 2023, models.Some(0.10), models.None, true, 40),
			derived("MGLU3", "22470", "Varejo", 2023, models.None, models.Some(0.12), false, 0),
		},
		Summary: models.RunSummary{Records: 5, Entities: 4, WithPrior: 4, Divergent: 2},
	}
}

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		Panel:    samplePanel(),
		Source:   "painel.xlsx",
		LoadedAt: time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func testServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	cfg := testConfig()
	return NewServer(cfg, sampleResult(), append([]Option{WithLogger(quietLogger())}, opts...)...)
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// decodeData re-decodes the envelope's data into v.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !env.Success {
		t.Fatalf("unexpected error response: %s", env.Error)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

// ════════════════════════════════════════════════════════════════════
// Health / summary
// ════════════════════════════════════════════════════════════════════

func TestHandleHealth(t *testing.T) {
	rec := get(t, testServer(t), "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	if data["status"] != "ok" || data["records"] != float64(5) {
		t.Errorf("health = %v", data)
	}
}

func TestHandleSummary(t *testing.T) {
	var s SummaryResponse
	decodeData(t, get(t, testServer(t), "/api/v1/summary"), &s)
	if s.Source != "painel.xlsx" || s.Summary.Divergent != 2 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Years) != 2 || s.Years[0] != 2022 {
		t.Errorf("years = %v", s.Years)
	}
	if len(s.Sectors) != 2 || s.Sectors[1] != "Varejo" {
		t.Errorf("sectors = %v", s.Sectors)
	}
}

func TestNoPanelLoaded(t *testing.T) {
	srv := NewServer(testConfig(), nil, WithLogger(quietLogger()))
	if rec := get(t, srv, "/api/v1/panel"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if rec := get(t, srv, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Panel queries
// ════════════════════════════════════════════════════════════════════

func TestHandlePanel(t *testing.T) {
	tests := []struct {
		name  string
		query string
		count int
	}{
		{"all", "", 5},
		{"year", "?year=2023", 4},
		{"sector", "?year=2023&sector=energia", 2},
		{"ticker", "?ticker=cpfe3", 2},
		{"code", "?ticker=009512", 2},
	}
	srv := testServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p PanelResponse
			decodeData(t, get(t, srv, "/api/v1/panel"+tt.query), &p)
			if p.Count != tt.count || len(p.Records) != tt.count {
				t.Errorf("count = %d (%d records), want %d", p.Count, len(p.Records), tt.count)
			}
		})
	}
}

func TestHandlePanelBadYear(t *testing.T) {
	rec := get(t, testServer(t), "/api/v1/panel?year=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePanelCSV(t *testing.T) {
	rec := get(t, testServer(t), "/api/v1/panel?year=2023&format=csv")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "ticker,year") {
		t.Errorf("csv = %q", rec.Body.String())
	}
}

func TestHandleMetrics(t *testing.T) {
	var metrics []map[string]any
	decodeData(t, get(t, testServer(t), "/api/v1/metrics"), &metrics)
	if len(metrics) != len(models.Metrics()) {
		t.Errorf("got %d metrics, want %d", len(metrics), len(models.Metrics()))
	}
}

// ════════════════════════════════════════════════════════════════════
// Rankings
// ════════════════════════════════════════════════════════════════════

type rankingJSON struct {
	Order   string `json:"order"`
	Absent  int    `json:"absent"`
	Entries []struct {
		Rank   int           `json:"rank"`
		Entity models.Entity `json:"entity"`
		Value  float64       `json:"value"`
	} `json:"entries"`
}

func TestHandleRank(t *testing.T) {
	srv := testServer(t)

	var rk rankingJSON
	decodeData(t, get(t, srv, "/api/v1/rank/roe?year=2023"), &rk)
	if rk.Order != "desc" || rk.Absent != 1 || len(rk.Entries) != 3 {
		t.Fatalf("ranking = %+v", rk)
	}
	if rk.Entries[0].Entity.Ticker != "CPFE3" || rk.Entries[2].Entity.Ticker != "LREN3" {
		t.Errorf("order = %+v", rk.Entries)
	}

	// WACC is lower-better: the default order is ascending.
	rk = rankingJSON{}
	decodeData(t, get(t, srv, "/api/v1/rank/wacc?year=2023&limit=2"), &rk)
	if rk.Order != "asc" || len(rk.Entries) != 2 || rk.Entries[0].Entity.Ticker != "TAEE11" {
		t.Errorf("wacc ranking = %+v", rk)
	}

	rk = rankingJSON{}
	decodeData(t, get(t, srv, "/api/v1/rank/roe?sector=Varejo&order=asc"), &rk)
	if len(rk.Entries) != 1 || rk.Entries[0].Entity.Ticker != "LREN3" || rk.Absent != 1 {
		t.Errorf("sector ranking = %+v", rk)
	}
}

func TestHandleRankErrors(t *testing.T) {
	srv := testServer(t)
	tests := []struct {
		path   string
		status int
	}{
		{"/api/v1/rank/ebit", http.StatusNotFound},
		{"/api/v1/rank/roe?order=up", http.StatusBadRequest},
		{"/api/v1/rank/roe?limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := get(t, srv, tt.path)
		if rec.Code != tt.status {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.status)
		}
		if resp := decodeResponse(t, rec); resp.Success || resp.Error == "" {
			t.Errorf("%s: response = %+v", tt.path, resp)
		}
	}
}

func TestRankIsCached(t *testing.T) {
	srv := testServer(t)
	get(t, srv, "/api/v1/rank/roe")
	get(t, srv, "/api/v1/rank/roe")
	if st := srv.cache.Stats(); st.Hits != 1 || st.Misses != 1 {
		t.Errorf("cache stats = %+v", st)
	}
}

// ════════════════════════════════════════════════════════════════════
// Entities, sectors, reconciliation
// ════════════════════════════════════════════════════════════════════

func TestHandleEntity(t *testing.T) {
	var e EntityResponse
	decodeData(t, get(t, testServer(t), "/api/v1/entities/cpfe3"), &e)
	if e.Entity.Ticker != "CPFE3" || len(e.Records) != 2 || e.Records[0].Year != 2022 {
		t.Fatalf("entity = %+v", e)
	}
	if e.Comparison == nil || e.Comparison.Year != 2023 {
		t.Fatalf("comparison = %+v", e.Comparison)
	}
	for _, m := range e.Comparison.Metrics {
		if m.Metric == models.MetricROE && (m.Peers != 1 || m.Percentile != 100) {
			t.Errorf("roe vs sector = %+v", m)
		}
	}
}

func TestHandleEntityNotFound(t *testing.T) {
	rec := get(t, testServer(t), "/api/v1/entities/XPTO3")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSectors(t *testing.T) {
	srv := testServer(t)
	var s SectorsResponse
	decodeData(t, get(t, srv, "/api/v1/sectors/2023"), &s)
	if s.Year != 2023 || len(s.Sectors) != 2 {
		t.Fatalf("sectors = %+v", s)
	}
	energia := s.Sectors[0]
	if energia.Sector != "Energia" || energia.Companies != 2 {
		t.Errorf("energia = %+v", energia)
	}
	if got, ok := energia.Medians[models.MetricROE].Get(); !ok || math.Abs(got-0.175) > 1e-12 {
		t.Errorf("energia ROE median = %v", energia.Medians[models.MetricROE])
	}

	if rec := get(t, srv, "/api/v1/sectors/last"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad year status = %d", rec.Code)
	}
}

func TestHandleReconciliation(t *testing.T) {
	var rc ReconciliationResponse
	decodeData(t, get(t, testServer(t), "/api/v1/reconciliation?year=2023"), &rc)
	if rc.Count != 2 || rc.Records[0].Entity.Ticker != "CPFE3" || rc.Records[1].Entity.Ticker != "LREN3" {
		t.Errorf("reconciliation = %+v", rc)
	}
	if rc.Tolerance != indicators.DefaultRules().Tolerance {
		t.Errorf("tolerance = %v", rc.Tolerance)
	}
}

// ════════════════════════════════════════════════════════════════════
// Reports
// ════════════════════════════════════════════════════════════════════

func TestRankReport(t *testing.T) {
	srv := testServer(t)
	tests := []struct {
		query       string
		contentType string
		contains    string
	}{
		{"", "text/html", "<svg"},
		{"?format=markdown", "text/markdown", "| 1 | CPFE3 |"},
		{"?format=pdf", "application/pdf", "%PDF-"},
	}
	for _, tt := range tests {
		rec := get(t, srv, "/report/rank/roe"+tt.query)
		if rec.Code != http.StatusOK {
			t.Errorf("%q: status = %d", tt.query, rec.Code)
			continue
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, tt.contentType) {
			t.Errorf("%q: Content-Type = %q", tt.query, ct)
		}
		if !strings.Contains(rec.Body.String(), tt.contains) {
			t.Errorf("%q: body lacks %q", tt.query, tt.contains)
		}
	}

	if rec := get(t, srv, "/report/rank/roe?format=json"); rec.Code != http.StatusBadRequest {
		t.Errorf("json report status = %d, want 400", rec.Code)
	}
}

func TestCompanyReport(t *testing.T) {
	rec := get(t, testServer(t), "/report/company/CPFE3")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "CPFE3") {
		t.Errorf("status = %d", rec.Code)
	}
	if rec := get(t, testServer(t), "/report/company/NOPE3"); rec.Code != http.StatusNotFound {
		t.Errorf("missing company status = %d", rec.Code)
	}
}

func TestMethodologyReport(t *testing.T) {
	rec := get(t, testServer(t), "/report/methodology")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<table>") {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDashboard(t *testing.T) {
	rec := get(t, testServer(t), "/")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/v1/ws") {
		t.Errorf("status = %d", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Config, rate limiting
// ════════════════════════════════════════════════════════════════════

func TestHandleConfigHidesDatabaseURL(t *testing.T) {
	cfg := testConfig()
	cfg.Database.URL = "postgres://cvm:s3cret@db/cvm"
	srv := NewServer(cfg, sampleResult(), WithLogger(quietLogger()))

	rec := get(t, srv, "/api/v1/config")
	if strings.Contains(rec.Body.String(), "s3cret") {
		t.Error("config response leaks the database password")
	}
	rec = get(t, srv, "/api/v1/config/secrets")
	if body := rec.Body.String(); strings.Contains(body, "s3cret") || !strings.Contains(body, "xxxxx") {
		t.Errorf("secrets = %s", body)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.RateLimit = 1
	srv := NewServer(cfg, sampleResult(), WithLogger(quietLogger()))

	if rec := get(t, srv, "/api/v1/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := get(t, srv, "/api/v1/metrics")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	// Health stays outside the limiter.
	if rec := get(t, srv, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

// ════════════════════════════════════════════════════════════════════
// Reload
// ════════════════════════════════════════════════════════════════════

func TestReloadDisabled(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// writePanelFile writes a one-company two-year panel carrying every raw field.
func writePanelFile(t *testing.T, ticker string) string {
	t.Helper()
	p := &models.Panel{}
	for _, year := range []int{2022, 2023} {
		rec := models.PeriodRecord{Entity: models.Entity{Code: "9512", Ticker: ticker, Sector: "Energia"}, Year: year}
		for _, f := range models.RawFields() {
			rec.Set(f, models.Some(100))
		}
		p.Records = append(p.Records, rec)
	}
	path := filepath.Join(t.TempDir(), "painel.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := datasource.WritePanel(f, p, datasource.FormatCSV); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReloadSwapsPanel(t *testing.T) {
	cfg := testConfig()
	cfg.Input.Panel = writePanelFile(t, "CPFE3")
	b, err := pipeline.New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(cfg, sampleResult(), WithLogger(quietLogger()), WithBuilder(b))

	get(t, srv, "/api/v1/rank/roe") // warm the cache
	_, genBefore := srv.snapshot()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reload", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload status = %d: %s", rec.Code, rec.Body.String())
	}
	var ev ReloadEvent
	decodeData(t, rec, &ev)
	if ev.Records != 2 || ev.Entities != 1 || ev.Source != cfg.Input.Panel {
		t.Errorf("reload event = %+v", ev)
	}

	if _, gen := srv.snapshot(); gen != genBefore+1 {
		t.Errorf("generation = %d, want %d", gen, genBefore+1)
	}
	if st := srv.cache.Stats(); st.Entries != 0 {
		t.Errorf("cache not flushed: %+v", st)
	}
	if got := len(srv.Panel().Records); got != 2 {
		t.Errorf("served records = %d, want 2", got)
	}
}

func TestReloadFailureKeepsPanel(t *testing.T) {
	cfg := testConfig()
	cfg.Input.Panel = filepath.Join(t.TempDir(), "missing.xlsx")
	b, err := pipeline.New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(cfg, sampleResult(), WithLogger(quietLogger()), WithBuilder(b))
	if err := srv.Reload(context.Background()); err == nil {
		t.Fatal("expected reload error")
	}
	if got := len(srv.Panel().Records); got != 5 {
		t.Errorf("panel replaced after failed reload: %d records", got)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	cfg := testConfig()
	cfg.Input.Panel = writePanelFile(t, "CPFE3")
	b, err := pipeline.New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(cfg, sampleResult(), WithLogger(quietLogger()), WithBuilder(b))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.watch(ctx, []string{cfg.Input.Panel}) }()
	time.Sleep(100 * time.Millisecond)

	// Rewrite the same file with a different ticker.
	data, err := os.ReadFile(writePanelFile(t, "TAEE11"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.Input.Panel, data, 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p := srv.Panel(); len(p.Records) == 2 && p.Records[0].Entity.Ticker == "TAEE11" {
			cancel()
			if err := <-done; err != nil {
				t.Errorf("watch: %v", err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("panel was not reloaded after the file changed")
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	srv := testServer(t)
	if _, err := srv.schedule(context.Background(), "every tuesday"); err == nil {
		t.Error("expected error for invalid cron spec")
	}
	c, err := srv.schedule(context.Background(), "@hourly")
	if err != nil {
		t.Fatal(err)
	}
	c.Stop()
}

// ════════════════════════════════════════════════════════════════════
// WebSocket
// ════════════════════════════════════════════════════════════════════

func TestWebSocketReceivesReload(t *testing.T) {
	srv := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.wsHub.Run(ctx)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != EventHello {
		t.Fatalf("hello = %+v, %v", msg, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.wsHub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	next := sampleResult()
	next.Source = "outro.xlsx"
	srv.SetResult(next)

	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != EventReloaded {
		t.Fatalf("type = %q, want %q", msg.Type, EventReloaded)
	}
	if data, _ := msg.Data.(map[string]any); data["source"] != "outro.xlsx" {
		t.Errorf("event data = %v", msg.Data)
	}

	if err := conn.WriteJSON(WSMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != EventPong {
		t.Errorf("pong = %+v, %v", msg, err)
	}
}

func TestAPIResponseOmitsEmpty(t *testing.T) {
	data, err := json.Marshal(APIResponse{Success: true})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"success":true}` {
		t.Errorf("got %s", data)
	}
}
