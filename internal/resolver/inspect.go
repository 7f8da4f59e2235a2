package resolver

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/observability"
	"github.com/xkilldash9x/pinpoint/internal/resolver/discovery"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

// StrategyReport is what one discovery strategy found during a dry run.
type StrategyReport struct {
	Strategy schemas.StrategyKind `json:"strategy"`
	// Matches are ranked best first.
	Matches  []schemas.MatchResult       `json:"matches"`
	Excluded []schemas.ExcludedCandidate `json:"excluded,omitempty"`
	// Selected is the match the engine would act on, if this strategy were reached.
	Selected *schemas.MatchResult `json:"selected,omitempty"`
}

// Inspection is the result of a dry run.
type Inspection struct {
	Target     schemas.TargetDescriptor `json:"target"`
	PageURL    string                   `json:"pageUrl"`
	Strategies []StrategyReport         `json:"strategies"`
	// Winner is the match a ResolveAndAct call would act on first.
	Winner *schemas.MatchResult `json:"winner,omitempty"`
}

// Inspect runs every discovery strategy, the exclusion filter and the scorer
// without acting on the page. It ignores the escalation ledger.
func (e *Engine) Inspect(ctx context.Context, target schemas.TargetDescriptor) (*Inspection, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := e.inFlight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for in-flight resolution: %w", err)
	}
	defer e.inFlight.Release(1)

	ctx, span := observability.StartSpan(ctx, e.tracer, observability.SpanInspect,
		attribute.String(observability.AttrTarget, target.String()))
	ins, err := e.inspect(ctx, target)
	observability.EndSpan(span, "", err)
	return ins, err
}

func (e *Engine) inspect(ctx context.Context, target schemas.TargetDescriptor) (*Inspection, error) {
	if err := e.page.BeginSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	url, err := e.page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read url: %w", err)
	}
	vp, err := e.page.Viewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("read viewport: %w", err)
	}
	ins := &Inspection{Target: target, PageURL: url}

	c := &call{ctx: ctx, result: &schemas.Result{Target: target}}
	if err := e.resolveScope(c); err != nil {
		return nil, fmt.Errorf("scope %q: %w", target.ScopeSelector, err)
	}

	for _, kind := range e.discoverer.Strategies() {
		w := pagewalk.New(e.page)
		cands, err := e.discoverer.Run(ctx, w, kind, discovery.Request{Target: target, Scope: c.scope})
		if err != nil {
			return nil, err
		}
		kept, excluded, err := e.filter.Apply(ctx, w, cands, vp)
		if err != nil {
			return nil, err
		}
		ranked := e.scorer.Rank(target, kept)
		best, _ := e.scorer.Select(ranked)
		ins.Strategies = append(ins.Strategies, StrategyReport{
			Strategy: kind,
			Matches:  ranked,
			Excluded: excluded,
			Selected: best,
		})
		if ins.Winner == nil && best != nil {
			ins.Winner = best
		}
	}

	e.logger.Debug("Inspection finished.",
		zap.String("target", target.String()),
		zap.Bool("resolvable", ins.Winner != nil))
	return ins, nil
}
