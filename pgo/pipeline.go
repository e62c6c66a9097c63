package pgo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Optimizer refines the values of an accepted estimate. Implementations
// receive a private copy and return refined values for existing keys only.
type Optimizer interface {
	Optimize(ctx context.Context, est *Estimate) (Values, error)
}

// OptimizerFunc adapts a function to the Optimizer interface.
type OptimizerFunc func(ctx context.Context, est *Estimate) (Values, error)

// Optimize calls f.
func (f OptimizerFunc) Optimize(ctx context.Context, est *Estimate) (Values, error) {
	return f(ctx, est)
}

// NopOptimizer leaves every estimate unchanged.
type NopOptimizer struct{}

// Optimize returns no refined values.
func (NopOptimizer) Optimize(ctx context.Context, est *Estimate) (Values, error) {
	return NewValues(), nil
}

// ErrPipelineHalted is returned for every batch after a contract violation.
var ErrPipelineHalted = errors.New("pipeline halted")

// Result summarizes one processed batch.
type Result struct {
	GraphID      string `json:"graphId"`
	Seq          int    `json:"seq"`
	Forced       bool   `json:"forced"`
	Reoptimize   bool   `json:"reoptimize"`
	Optimized    bool   `json:"optimized"`
	Accepted     int    `json:"accepted"`
	Rejected     int    `json:"rejected"`
	NewVariables int    `json:"newVariables"`
	Stats        Stats  `json:"stats"`
}

// Pipeline owns one accumulated estimate and the strategy that guards it.
// Calls are serialized; independent pipelines share nothing.
type Pipeline struct {
	id        string
	remover   OutlierRemover
	optimizer Optimizer

	mu     sync.Mutex
	est    *Estimate
	seq    int
	halted error
	last   *Result
}

// NewPipeline creates a pipeline with an empty estimate. A nil optimizer is
// replaced by NopOptimizer.
func NewPipeline(id string, remover OutlierRemover, optimizer Optimizer) *Pipeline {
	if optimizer == nil {
		optimizer = NopOptimizer{}
	}
	return &Pipeline{
		id:        id,
		remover:   remover,
		optimizer: optimizer,
		est:       NewEstimate(),
	}
}

// ID returns the graph identifier.
func (p *Pipeline) ID() string {
	return p.id
}

// Process admits a batch and runs the optimizer when the strategy asks for
// it. A contract violation halts the pipeline; the estimate stays exactly as
// it was before the offending batch.
func (p *Pipeline) Process(ctx context.Context, batch Batch) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.halted != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrPipelineHalted, p.id, p.halted)
	}

	before := p.est.Stats()
	var reopt bool
	var err error
	if batch.Force {
		reopt, err = p.remover.AddMeasurements(batch, p.est)
	} else {
		reopt, err = p.remover.RemoveOutliers(batch, p.est)
	}
	if err != nil {
		if errors.Is(err, ErrUndefinedKey) {
			p.halted = err
			log.Printf("[PIPELINE] %s: halting on contract violation: %v", p.id, err)
		}
		return Result{}, fmt.Errorf("processing batch for %s: %w", p.id, err)
	}

	p.seq++
	after := p.est.Stats()
	accepted := after.Constraints - before.Constraints
	res := Result{
		GraphID:      p.id,
		Seq:          p.seq,
		Forced:       batch.Force,
		Reoptimize:   reopt,
		Accepted:     accepted,
		Rejected:     len(batch.Constraints) - accepted,
		NewVariables: after.Variables - before.Variables,
		Stats:        after,
	}

	if reopt {
		start := time.Now()
		refined, err := p.optimizer.Optimize(ctx, p.est.Clone())
		optimizeDuration.WithLabelValues(p.id).Observe(time.Since(start).Seconds())
		if err == nil {
			err = p.est.Refine(refined)
		}
		if err != nil {
			p.last = &res
			return res, fmt.Errorf("optimizing %s: %w", p.id, err)
		}
		res.Optimized = true
	}

	p.last = &res
	return res, nil
}

// Snapshot returns a copy of the current estimate.
func (p *Pipeline) Snapshot() *Estimate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.est.Clone()
}

// Halted returns the contract violation that stopped the pipeline, or nil.
func (p *Pipeline) Halted() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Last returns the result of the most recent successful batch.
func (p *Pipeline) Last() (Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// Rejections returns the strategy's rejected-edge log when it keeps one.
func (p *Pipeline) Rejections() []Rejection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.remover.(interface{ Diagnostics() *Diagnostics }); ok {
		return d.Diagnostics().Rejections()
	}
	return nil
}

// SaveData exports strategy diagnostics. It never runs concurrently with
// Process on the same pipeline.
func (p *Pipeline) SaveData(dir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remover.SaveData(dir)
}

// Fleet holds independent pipelines keyed by graph ID.
type Fleet struct {
	pipelines map[string]*Pipeline
}

// NewFleet builds one pipeline per configured graph.
func NewFleet(graphs []GraphConfig, optimizer Optimizer) (*Fleet, error) {
	f := &Fleet{pipelines: make(map[string]*Pipeline, len(graphs))}
	for _, g := range graphs {
		remover, err := NewRemover(g.Strategy)
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", g.ID, err)
		}
		f.pipelines[g.ID] = NewPipeline(g.ID, remover, optimizer)
	}
	return f, nil
}

// Get returns the pipeline for a graph ID.
func (f *Fleet) Get(id string) (*Pipeline, bool) {
	p, ok := f.pipelines[id]
	return p, ok
}

// IDs returns graph IDs in sorted order.
func (f *Fleet) IDs() []string {
	ids := make([]string, 0, len(f.pipelines))
	for id := range f.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
