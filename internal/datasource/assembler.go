package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/cvmratios/internal/mapping"
	"github.com/seenimoa/cvmratios/pkg/models"
)

// AssemblyStats counts what an assembly run did with the extract lines.
type AssemblyStats struct {
	Files    int `json:"files"`
	Lines    int `json:"lines"`
	Mapped   int `json:"mapped"`
	Unmapped int `json:"unmapped"`
	Skipped  int `json:"skipped"` // company not in the registry
	Records  int `json:"records"`
}

// Assembler pivots DFP extract lines into a panel through an account mapping.
type Assembler struct {
	resolver  *mapping.Resolver
	companies map[string]models.Entity
	workers   int
	logger    *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithCompanies restricts assembly to the registry's companies and takes
// ticker, name and sector from it. Keys are CVM codes.
func WithCompanies(companies map[string]models.Entity) AssemblerOption {
	return func(a *Assembler) { a.companies = companies }
}

// WithFetchWorkers bounds how many extract files are read concurrently.
func WithFetchWorkers(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(log *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if log != nil {
			a.logger = log
		}
	}
}

// NewAssembler creates an assembler resolving accounts through table.
func NewAssembler(table mapping.Table, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		resolver: mapping.NewResolver(table),
		workers:  runtime.NumCPU(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble reads every extract source concurrently and builds one record per
// (company, fiscal year). Unmapped lines are counted, never fatal; a source
// that cannot be read fails the run.
func (a *Assembler) Assemble(ctx context.Context, sources []string) (*models.Panel, AssemblyStats, error) {
	results := make([][]Line, len(sources))

	var mu sync.Mutex
	var errs []error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, src := range sources {
		g.Go(func() error {
			lines, err := a.readSource(gctx, src)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", src, err))
				mu.Unlock()
				return nil
			}
			results[i] = lines
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, AssemblyStats{}, err
	}
	if len(errs) > 0 {
		return nil, AssemblyStats{}, fmt.Errorf("assemble: %w", errors.Join(errs...))
	}

	p, stats := a.pivot(results)
	stats.Files = len(sources)
	a.logger.Info("extracts assembled",
		"files", stats.Files,
		"lines", stats.Lines,
		"mapped", stats.Mapped,
		"unmapped", stats.Unmapped,
		"skipped", stats.Skipped,
		"records", stats.Records,
	)
	return p, stats, nil
}

// AssembleReaders is Assemble over already opened extracts.
func (a *Assembler) AssembleReaders(readers []io.Reader, format Format) (*models.Panel, AssemblyStats, error) {
	results := make([][]Line, len(readers))
	for i, r := range readers {
		lines, err := ReadExtract(r, format)
		if err != nil {
			return nil, AssemblyStats{}, fmt.Errorf("extract %d: %w", i, err)
		}
		results[i] = lines
	}
	p, stats := a.pivot(results)
	stats.Files = len(readers)
	return p, stats, nil
}

func (a *Assembler) readSource(ctx context.Context, src string) ([]Line, error) {
	format, err := FormatOf(src)
	if err != nil {
		return nil, err
	}
	rc, err := open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadExtract(rc, format)
}

type cellKey struct {
	company string
	year    int
	field   models.Field
}

type candidate struct {
	line  *Line
	match mapping.Match
}

// better reports whether c should replace cur: a newer filing version wins,
// then an account-code match over a description match.
func (c candidate) better(cur candidate) bool {
	if c.line.Version != cur.line.Version {
		return c.line.Version > cur.line.Version
	}
	return c.match > cur.match
}

func (a *Assembler) pivot(results [][]Line) (*models.Panel, AssemblyStats) {
	var stats AssemblyStats
	cells := make(map[cellKey]candidate)
	names := make(map[string]string)

	for _, lines := range results {
		for i := range lines {
			ln := &lines[i]
			stats.Lines++
			if a.companies != nil {
				if _, ok := a.companies[ln.CompanyCode]; !ok {
					stats.Skipped++
					continue
				}
			}
			field, match := a.resolver.Resolve(ln.Statement, ln.AccountCode, ln.Description)
			if match == mapping.MatchNone {
				stats.Unmapped++
				continue
			}
			stats.Mapped++
			if names[ln.CompanyCode] == "" {
				names[ln.CompanyCode] = ln.CompanyName
			}

			k := cellKey{ln.CompanyCode, ln.Year, field}
			c := candidate{line: ln, match: match}
			if cur, ok := cells[k]; !ok || c.better(cur) {
				cells[k] = c
			}
		}
	}

	type rowKey struct {
		company string
		year    int
	}
	rows := make(map[rowKey]*models.PeriodRecord)
	p := &models.Panel{Columns: make(map[models.Field]bool)}
	for k, c := range cells {
		rk := rowKey{k.company, k.year}
		rec, ok := rows[rk]
		if !ok {
			rec = &models.PeriodRecord{Entity: a.entity(k.company, names[k.company]), Year: k.year}
			rows[rk] = rec
		}
		rec.Set(k.field, models.Some(c.line.Value.InexactFloat64()))
		p.Columns[k.field] = true
	}

	keys := make([]rowKey, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].company != keys[j].company {
			return keys[i].company < keys[j].company
		}
		return keys[i].year < keys[j].year
	})
	p.Records = make([]models.PeriodRecord, 0, len(keys))
	for _, k := range keys {
		p.Records = append(p.Records, *rows[k])
	}
	stats.Records = len(p.Records)
	return p, stats
}

func (a *Assembler) entity(code, name string) models.Entity {
	if e, ok := a.companies[code]; ok {
		e.Code = code
		if e.Name == "" {
			e.Name = name
		}
		return e
	}
	return models.Entity{Code: code, Name: name}
}
