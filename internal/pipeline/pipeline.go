// Package pipeline wires the loaders, the account mapping and the indicator
// engine into one load-and-derive run driven by the configuration.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seenimoa/cvmratios/internal/analysis/indicators"
	"github.com/seenimoa/cvmratios/internal/config"
	"github.com/seenimoa/cvmratios/internal/datasource"
	"github.com/seenimoa/cvmratios/internal/mapping"
	"github.com/seenimoa/cvmratios/pkg/models"
)

// ErrNoInput is returned when neither a panel file nor extracts are configured.
var ErrNoInput = errors.New("no input configured (set input.panel or input.extracts)")

// Source locates the raw data for a run.
type Source struct {
	Panel     string   // workbook or CSV panel
	Extracts  []string // DFP extracts; take precedence over Panel when set
	Companies string   // registry used with Extracts
	Mapping   string   // account mapping file; empty = built-in table
}

// SourceFromConfig returns the input section as a Source.
func SourceFromConfig(cfg *config.Config) Source {
	return Source{
		Panel:     cfg.Input.Panel,
		Extracts:  cfg.Input.Extracts,
		Companies: cfg.Input.Companies,
		Mapping:   cfg.Input.Mapping,
	}
}

// Describe names the source for logs and reload events.
func (s Source) Describe() string {
	if len(s.Extracts) > 0 {
		return fmt.Sprintf("%d extract(s)", len(s.Extracts))
	}
	return s.Panel
}

// LocalFiles returns the local files a run reads, skipping URLs.
func (s Source) LocalFiles() []string {
	var files []string
	add := func(p string) {
		if p != "" && !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			files = append(files, p)
		}
	}
	if len(s.Extracts) > 0 {
		for _, e := range s.Extracts {
			add(e)
		}
		add(s.Companies)
	} else {
		add(s.Panel)
	}
	add(s.Mapping)
	return files
}

// Result is the outcome of one run.
type Result struct {
	Panel    *models.DerivedPanel      `json:"-"`
	Source   string                    `json:"source"`
	Assembly *datasource.AssemblyStats `json:"assembly,omitempty"` // set when built from extracts
	LoadedAt time.Time                 `json:"loaded_at"`
	Elapsed  time.Duration             `json:"elapsed"`
}

// Builder loads a raw panel and derives its indicators.
type Builder struct {
	source Source
	engine *indicators.Engine
	logger *slog.Logger
}

// New returns a builder for cfg. It fails on an invalid rule set.
func New(cfg *config.Config, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := indicators.NewEngine(cfg.IndicatorRules(),
		indicators.WithWorkers(cfg.Engine.Workers),
		indicators.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	return &Builder{source: SourceFromConfig(cfg), engine: engine, logger: logger}, nil
}

// WithSource returns a copy of b reading from src.
func (b *Builder) WithSource(src Source) *Builder {
	c := *b
	c.source = src
	return &c
}

// Source returns the configured source.
func (b *Builder) Source() Source { return b.source }

// Engine returns the underlying indicator engine.
func (b *Builder) Engine() *indicators.Engine { return b.engine }

// Load reads the raw panel without deriving it. stats is nil unless the
// panel was assembled from extracts.
func (b *Builder) Load(ctx context.Context) (*models.Panel, *datasource.AssemblyStats, error) {
	table, err := mapping.LoadFile(b.source.Mapping)
	if err != nil {
		return nil, nil, err
	}

	if len(b.source.Extracts) > 0 {
		opts := []datasource.AssemblerOption{datasource.WithAssemblerLogger(b.logger)}
		if b.source.Companies != "" {
			companies, err := datasource.LoadCompanies(ctx, b.source.Companies)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, datasource.WithCompanies(companies))
		}
		p, stats, err := datasource.NewAssembler(table, opts...).Assemble(ctx, b.source.Extracts)
		if err != nil {
			return nil, nil, err
		}
		return p, &stats, nil
	}

	if b.source.Panel == "" {
		return nil, nil, ErrNoInput
	}
	p, err := datasource.NewPanelLoader(table, datasource.WithLoaderLogger(b.logger)).Load(ctx, b.source.Panel)
	if err != nil {
		return nil, nil, err
	}
	return p, nil, nil
}

// Build loads the raw panel and derives it.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	raw, stats, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}
	derived, err := b.engine.Derive(raw)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Panel:    derived,
		Source:   b.source.Describe(),
		Assembly: stats,
		LoadedAt: time.Now(),
		Elapsed:  time.Since(start),
	}
	b.logger.Debug("pipeline: build finished", "source", res.Source, "elapsed", res.Elapsed)
	return res, nil
}
