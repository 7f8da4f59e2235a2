// Package discovery produces candidate elements for a target. Each strategy is
// a tagged entry in an ordered slice; the coordinator walks the slice and
// stops at the first strategy whose candidates clear the confidence floor.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
	"github.com/xkilldash9x/pinpoint/internal/resolver/scoring"
)

// SkipSet holds fingerprints of nodes that must not be offered again within
// one resolution, such as a candidate whose action failed verification.
type SkipSet map[string]struct{}

func NewSkipSet(fingerprints ...string) SkipSet {
	s := make(SkipSet, len(fingerprints))
	for _, f := range fingerprints {
		s.Add(f)
	}
	return s
}

func (s SkipSet) Add(fingerprint string) { s[fingerprint] = struct{}{} }

func (s SkipSet) Has(fingerprint string) bool {
	_, ok := s[fingerprint]
	return ok
}

// Fingerprints lists the members in no particular order.
func (s SkipSet) Fingerprints() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	return out
}

// Request is the input shared by every strategy.
type Request struct {
	Target schemas.TargetDescriptor
	// Scope restricts discovery to a subtree; "" means the whole document.
	Scope schemas.NodeRef
	Skip  SkipSet
}

// Strategy is one entry in the discovery cascade.
type Strategy struct {
	Kind schemas.StrategyKind
	run  func(ctx context.Context, d *Discoverer, w *pagewalk.Walker, req Request) ([]schemas.CandidateElement, error)
}

// Discoverer runs the strategies against one page.
type Discoverer struct {
	cfg        config.DiscoveryConfig
	scorer     *scoring.Scorer
	logger     *zap.Logger
	strategies []Strategy
	patterns   []Pattern
}

func New(cfg config.DiscoveryConfig, scorer *scoring.Scorer, logger *zap.Logger) *Discoverer {
	return &Discoverer{
		cfg:    cfg,
		scorer: scorer,
		logger: logger.Named("discovery"),
		strategies: []Strategy{
			{Kind: schemas.StrategyVisualOverlay, run: overlayScan},
			{Kind: schemas.StrategyPatternMatch, run: patternMatch},
			{Kind: schemas.StrategyDOMTree, run: treeSearch},
		},
		patterns: DefaultPatterns(cfg),
	}
}

// Strategies returns the cascade order.
func (d *Discoverer) Strategies() []schemas.StrategyKind {
	out := make([]schemas.StrategyKind, len(d.strategies))
	for i, s := range d.strategies {
		out[i] = s.Kind
	}
	return out
}

// Run executes a single strategy.
func (d *Discoverer) Run(ctx context.Context, w *pagewalk.Walker, kind schemas.StrategyKind, req Request) ([]schemas.CandidateElement, error) {
	for _, s := range d.strategies {
		if s.Kind != kind {
			continue
		}
		cands, err := s.run(ctx, d, w, req)
		if err != nil {
			return nil, fmt.Errorf("%s discovery: %w", kind, err)
		}
		d.logger.Debug("Strategy finished.",
			zap.String("strategy", string(kind)),
			zap.Int("candidates", len(cands)))
		return cands, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", kind)
}

// collector accumulates candidates for one strategy run, deduplicating by ref
// and applying the skip set and the candidate cap.
type collector struct {
	d        *Discoverer
	w        *pagewalk.Walker
	req      Request
	strategy schemas.StrategyKind
	seen     map[schemas.NodeRef]bool
	out      []schemas.CandidateElement
}

func (d *Discoverer) newCollector(w *pagewalk.Walker, req Request, strategy schemas.StrategyKind) *collector {
	return &collector{d: d, w: w, req: req, strategy: strategy, seen: make(map[schemas.NodeRef]bool)}
}

func (c *collector) full() bool {
	return c.d.cfg.MaxCandidates > 0 && len(c.out) >= c.d.cfg.MaxCandidates
}

// add records el as a candidate if it is new, not skipped and has at least
// one signal matching the target.
func (c *collector) add(ctx context.Context, el schemas.ElementSnapshot, pattern string, origin *schemas.ElementSnapshot, hint *schemas.Signal) bool {
	if c.full() || c.seen[el.Ref] {
		return false
	}
	cand := schemas.CandidateElement{
		Element:     el,
		Strategy:    c.strategy,
		Pattern:     pattern,
		Origin:      origin,
		Hint:        hint,
		Interactive: pagewalk.IsNativelyInteractive(el),
	}
	if c.d.scorer.BestSignal(c.req.Target, cand).Level == schemas.MatchNone {
		return false
	}
	cand.Fingerprint = c.w.Fingerprint(ctx, el)
	if c.req.Skip.Has(cand.Fingerprint) {
		c.d.logger.Debug("Skipping previously rejected candidate.",
			zap.String("ref", string(el.Ref)),
			zap.String("fingerprint", cand.Fingerprint))
		return false
	}
	c.seen[el.Ref] = true
	cand.Order = len(c.out)
	c.out = append(c.out, cand)
	return true
}

// query runs a selector in the request scope and describes the matches,
// dropping nodes that went stale in between.
func query(ctx context.Context, w *pagewalk.Walker, scope schemas.NodeRef, selector string) ([]schemas.ElementSnapshot, error) {
	refs, err := w.Page().Query(ctx, scope, selector)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.ElementSnapshot, 0, len(refs))
	for _, ref := range refs {
		el, err := w.Describe(ctx, ref)
		if errors.Is(err, schemas.ErrStaleNode) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, nil
}
