package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seenimoa/cvmratios/internal/analysis/indicators"
	"github.com/seenimoa/cvmratios/internal/config"
	"github.com/seenimoa/cvmratios/internal/datasource"
	"github.com/seenimoa/cvmratios/pkg/models"
)

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
	return cfg
}

// writePanel writes a two-year CPFE3 panel carrying every raw field.
func writePanel(t *testing.T) string {
	t.Helper()
	p := &models.Panel{}
	for _, y := range []struct {
		year           int
		equity, income float64
	}{{2022, 800, 150}, {2023, 1000, 180}} {
		rec := models.PeriodRecord{Entity: models.Entity{Code: "9512", Ticker: "CPFE3", Sector: "Energia"}, Year: y.year}
		for _, f := range models.RawFields() {
			rec.Set(f, models.Some(100))
		}
		rec.Set(models.FieldEquity, models.Some(y.equity))
		rec.Set(models.FieldNetIncome, models.Some(y.income))
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

func TestBuildFromPanel(t *testing.T) {
	cfg := testConfig()
	cfg.Input.Panel = writePanel(t)

	b, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Assembly != nil {
		t.Error("panel input should carry no assembly stats")
	}
	if res.Source != cfg.Input.Panel {
		t.Errorf("Source = %q", res.Source)
	}
	recs := res.Panel.Records
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].Indicators.ROE.Valid {
		t.Errorf("2022 has no prior year, ROE = %v", recs[0].Indicators.ROE)
	}
	roe, ok := recs[1].Indicators.ROE.Get()
	if !ok || math.Abs(roe-0.2) > 1e-12 {
		t.Errorf("2023 ROE = %v, want 0.2", recs[1].Indicators.ROE)
	}
	if res.Panel.Summary.WithPrior != 1 {
		t.Errorf("Summary = %+v", res.Panel.Summary)
	}
}

func TestBuildShareClassesOfOneIssuer(t *testing.T) {
	// PETR3 and PETR4 file under the same CVM code.
	p := &models.Panel{}
	for _, ticker := range []string{"PETR3", "PETR4"} {
		for _, y := range []struct {
			year           int
			equity, income float64
		}{{2022, 800, 150}, {2023, 1000, 180}} {
			rec := models.PeriodRecord{Entity: models.Entity{Code: "9512", Ticker: ticker, Sector: "Petróleo"}, Year: y.year}
			for _, f := range models.RawFields() {
				rec.Set(f, models.Some(100))
			}
			rec.Set(models.FieldEquity, models.Some(y.equity))
			rec.Set(models.FieldNetIncome, models.Some(y.income))
			p.Records = append(p.Records, rec)
		}
	}
	var buf bytes.Buffer
	if err := datasource.WritePanel(&buf, p, datasource.FormatCSV); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "Ticker,Ano,CD_CVM,") {
		t.Fatalf("unexpected header: %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
	path := filepath.Join(t.TempDir(), "painel.csv")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Input.Panel = path
	b, err := New(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	res, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := res.Panel.Summary; got.Records != 4 || got.Entities != 2 || got.WithPrior != 2 {
		t.Errorf("Summary = %+v", got)
	}
	for _, rec := range res.Panel.Records {
		if rec.Entity.Code != "9512" {
			t.Errorf("%s code = %q", rec.Entity.Ticker, rec.Entity.Code)
		}
		if rec.Year != 2023 {
			continue
		}
		roe, ok := rec.Indicators.ROE.Get()
		if !ok || math.Abs(roe-0.2) > 1e-12 {
			t.Errorf("%s 2023 ROE = %v, want 0.2", rec.Entity.Ticker, rec.Indicators.ROE)
		}
	}
}

func TestBuildNoInput(t *testing.T) {
	b, err := New(testConfig(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Build(context.Background()); !errors.Is(err, ErrNoInput) {
		t.Errorf("err = %v, want ErrNoInput", err)
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	cfg := testConfig()
	cfg.Rules.WACC = "market"
	if _, err := New(cfg, quietLogger()); err == nil {
		t.Error("expected an invalid rule set error")
	}
}

const incomeExtract = `CD_CVM;DENOM_CIA;GRUPO_DFP;ESCALA_MOEDA;ORDEM_EXERC;DT_FIM_EXERC;VERSAO;CD_CONTA;DS_CONTA;VL_CONTA
9512;CPFL ENERGIA S.A.;DF Consolidado - Demonstração do Resultado;MIL;ÚLTIMO;2023-12-31;1;3.01;Receita de Venda de Bens e/ou Serviços;1000
`

func TestBuildFromExtractsChecksSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dre.csv")
	if err := os.WriteFile(path, []byte(incomeExtract), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := New(testConfig(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	b = b.WithSource(Source{Extracts: []string{path}})

	raw, stats, err := b.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if stats == nil || stats.Records != 1 || stats.Mapped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if got := raw.Records[0].Get(models.FieldRevenue); got != models.Some(1000) {
		t.Errorf("revenue = %v", got)
	}

	// Only revenue was assembled, so derivation must name the missing fields.
	_, err = b.Build(context.Background())
	var se *indicators.SchemaError
	if !errors.As(err, &se) || len(se.Missing) == 0 {
		t.Errorf("err = %v, want *SchemaError", err)
	}
}

func TestSourceDescribe(t *testing.T) {
	if got := (Source{Panel: "a.xlsx"}).Describe(); got != "a.xlsx" {
		t.Errorf("Describe = %q", got)
	}
	if got := (Source{Panel: "a.xlsx", Extracts: []string{"x", "y"}}).Describe(); got != "2 extract(s)" {
		t.Errorf("Describe = %q", got)
	}
}

func TestSourceLocalFiles(t *testing.T) {
	src := Source{
		Panel:     "ignored.xlsx",
		Extracts:  []string{"/data/bpp.csv", "https://dados.cvm.gov.br/dre.csv"},
		Companies: "https://dados.cvm.gov.br/cad_cia_aberta.csv",
		Mapping:   "mapping.toml",
	}
	got := src.LocalFiles()
	want := []string{"/data/bpp.csv", "mapping.toml"}
	if len(got) != len(want) {
		t.Fatalf("LocalFiles = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("LocalFiles[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if got := (Source{Panel: "p.xlsx"}).LocalFiles(); len(got) != 1 || got[0] != "p.xlsx" {
		t.Errorf("panel LocalFiles = %v", got)
	}
}
