// internal/core/pipeline.go
package core

import (
	"PerpMetrics/internal/observability"
	"PerpMetrics/internal/position"
	"PerpMetrics/internal/token"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Pipeline runs normalize -> assemble -> valuate over one materialized
// snapshot. It performs no I/O and keeps no state between runs.
type Pipeline struct {
	normalizer *token.Normalizer
	engine     *position.Engine
	native     string
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// Result is the output of one run.
type Result struct {
	RunID  string                 `json:"-"`
	Tokens map[string]*token.Info `json:"tokens"`
	Stats  token.BlendStats       `json:"blend_stats"`
	Book   *position.Book         `json:"book,omitempty"`
}

func NewPipeline(tc token.Config, pc position.Config, metrics *observability.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: token.NewNormalizer(tc),
		engine:     position.NewEngine(pc),
		native:     tc.NativeTokenAddress,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run derives the token map and, when in.Account is set, the account's
// valuations.
func (p *Pipeline) Run(in *Inputs, opts position.Options) (*Result, error) {
	logger, runID := observability.WithRunID(p.logger)

	res, err := p.run(in, opts, runID)
	if err != nil {
		p.countRun("error")
		logger.Warn().Err(err).Msg("pipeline run failed")
		return nil, err
	}
	p.countRun("ok")

	ev := logger.Debug().
		Int("tokens", len(res.Tokens)).
		Int("blended", res.Stats.Blended).
		Int("divergent", res.Stats.Divergent).
		Int("skipped", res.Stats.Skipped)
	if res.Book != nil {
		ev = ev.Int("positions", len(res.Book.Positions))
	}
	ev.Msg("pipeline run complete")

	return res, nil
}

func (p *Pipeline) run(in *Inputs, opts position.Options, runID string) (*Result, error) {
	if in == nil || in.Tokens == nil {
		return nil, fmt.Errorf("pipeline: no token state")
	}

	start := time.Now()
	ti := token.Input{
		Tokens:            in.Tokens.Tokens,
		WhitelistedTokens: in.Tokens.WhitelistedTokens,
		Vault:             in.Tokens.Vault,
		Funding:           in.Tokens.Funding,
		IndexPrices:       in.IndexPrices,
	}
	if in.Account != nil {
		ti.Balances = in.Account.Balances
	}

	normalized, err := p.normalizer.Normalize(ti)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	p.observeStage("normalize", start)

	res := &Result{RunID: runID, Tokens: normalized.Tokens, Stats: normalized.Stats}
	if p.metrics != nil {
		p.metrics.TokensNormalized.Set(float64(len(res.Tokens)))
		p.metrics.BlendOutcomes.WithLabelValues("blended").Add(float64(res.Stats.Blended))
		p.metrics.BlendOutcomes.WithLabelValues("divergent").Add(float64(res.Stats.Divergent))
		p.metrics.BlendOutcomes.WithLabelValues("skipped").Add(float64(res.Stats.Skipped))
	}

	if in.Account == nil {
		return res, nil
	}

	start = time.Now()
	positions, err := position.Assemble(in.Account.Account, in.Account.Queries, in.Account.Records, res.Tokens, p.native)
	if err != nil {
		return nil, fmt.Errorf("assemble positions: %w", err)
	}

	book, err := p.engine.Valuate(in.Account.Account, positions, opts)
	if err != nil {
		return nil, fmt.Errorf("valuate: %w", err)
	}
	p.observeStage("valuate", start)
	p.countValuations(book)

	res.Book = book
	return res, nil
}

func (p *Pipeline) countRun(status string) {
	if p.metrics != nil {
		p.metrics.PipelineRuns.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.PipelineDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) countValuations(book *position.Book) {
	if p.metrics == nil {
		return
	}
	p.metrics.PositionsValuated.Add(float64(len(book.Positions)))
	for i := range book.Positions {
		v := &book.Positions[i]
		switch {
		case v.Leverage == nil:
			p.metrics.LeverageUndefined.Inc()
		case v.Overleveraged():
			p.metrics.Overleveraged.Inc()
		}
	}
}
