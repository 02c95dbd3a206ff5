package indicators

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/cvmratios/pkg/models"
)

// Engine derives indicators for a whole panel.
// An Engine holds no per-run state and is safe for concurrent use.
type Engine struct {
	rules   Rules
	workers int
	logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of entities derived concurrently.
// Values below 1 select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n < 1 {
			n = runtime.NumCPU()
		}
		e.workers = n
	}
}

// WithLogger sets the logger used for the per-run summary.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine returns an engine applying rules. It fails on an invalid rule set.
func NewEngine(rules Rules, opts ...Option) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		rules:   rules,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules returns the rule set the engine applies.
func (e *Engine) Rules() Rules { return e.rules }

// Derive computes the indicators of every record in p and returns a new
// panel in the same row order. p is not modified.
//
// It fails with a *SchemaError when required fields are missing from the
// whole panel, and with ErrMissingKey or ErrDuplicateKey on key defects.
func (e *Engine) Derive(p *models.Panel) (*models.DerivedPanel, error) {
	if p == nil {
		return nil, errors.New("derive: nil panel")
	}

	out := &models.DerivedPanel{Rules: e.rules.String()}
	if len(p.Records) == 0 {
		e.logger.Warn("derive: empty panel")
		return out, nil
	}

	if err := CheckSchema(p); err != nil {
		return nil, err
	}

	ix, err := NewIndex(p.Records)
	if err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}

	out.Records = make([]models.DerivedRecord, len(p.Records))

	// Each entity is independent: rows only read their own prior record,
	// and each goroutine writes a disjoint set of output slots.
	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, key := range ix.Entities() {
		rows := ix.Rows(key)
		g.Go(func() error {
			for _, i := range rows {
				cur := &p.Records[i]
				prior, ok := ix.Prior(i)
				out.Records[i] = models.DerivedRecord{
					PeriodRecord: *cur,
					HasPrior:     ok,
					Indicators:   e.rules.derive(cur, prior),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}

	out.Summary = summarize(out.Records, len(ix.Entities()))
	e.logger.Info("derive: panel derived",
		"rules", out.Rules,
		"records", out.Summary.Records,
		"entities", out.Summary.Entities,
		"with_prior", out.Summary.WithPrior,
		"divergent", out.Summary.Divergent,
	)
	return out, nil
}

func summarize(records []models.DerivedRecord, entities int) models.RunSummary {
	s := models.RunSummary{Records: len(records), Entities: entities}
	for i := range records {
		if records[i].HasPrior {
			s.WithPrior++
		}
		if records[i].Indicators.Divergent {
			s.Divergent++
		}
	}
	return s
}
