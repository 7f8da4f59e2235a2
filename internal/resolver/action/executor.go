// Package action dispatches the physical interaction for a resolved candidate
// through an ordered cascade of tactics.
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/observability"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

var (
	errNotApplicable = errors.New("tactic does not apply")
	errNoAncestor    = errors.New("no clickable ancestor")
	errNoControl     = errors.New("no associated control")
)

var climbStopTags = map[string]bool{"body": true, "html": true, "main": true, "form": true}

// SettleFunc waits for a smooth scroll to finish. It must return early with
// the context's error when ctx is done.
type SettleFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SettleFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Outcome is what the executor reports back to the coordinator.
type Outcome struct {
	Attempts  []schemas.ActionAttempt
	Scrolled  bool
	Succeeded bool
	// Node is the node the successful tactic dispatched against.
	Node schemas.NodeRef
}

// Executor runs the tactic cascade.
type Executor struct {
	cfg     config.ActionConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	settle  SettleFunc
	tactics []tactic
}

// Option configures an Executor.
type Option func(*Executor)

// WithSettle replaces the scroll settle wait.
func WithSettle(fn SettleFunc) Option {
	return func(e *Executor) { e.settle = fn }
}

func New(cfg config.ActionConfig, logger *zap.Logger, metrics *observability.Metrics, opts ...Option) *Executor {
	e := &Executor{
		cfg:     cfg,
		logger:  logger.Named("executor"),
		metrics: metrics,
		settle:  Sleep,
		tactics: defaultTactics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// job is the state one cascade run shares between tactics.
type job struct {
	w      *pagewalk.Walker
	target schemas.TargetDescriptor
	match  schemas.MatchResult
	el     schemas.ElementSnapshot
	// optionValue is what a select should be set to.
	optionValue string
	climb       int
}

// Execute acts on the matched candidate. A non-nil error means the host went
// away or the call context ended; tactic failures are reported in the outcome.
func (e *Executor) Execute(ctx context.Context, w *pagewalk.Walker, target schemas.TargetDescriptor, match schemas.MatchResult) (Outcome, error) {
	var out Outcome
	el := match.Candidate.Element

	scrolled, el, err := e.ensureInViewport(ctx, w, el)
	if err != nil {
		return out, err
	}
	out.Scrolled = scrolled

	j := &job{w: w, target: target, match: match, el: el, optionValue: target.Value, climb: e.cfg.ClimbLimit}
	if sig := match.MatchedSignal.Signal; sig.Source == schemas.SignalOption && sig.Detail != "" {
		j.optionValue = sig.Detail
	}

	limiter := rate.NewLimiter(rate.Every(e.cfg.TacticInterval), 1)
	for i, t := range e.tactics {
		attempt := schemas.ActionAttempt{TacticIndex: i + 1, Tactic: t.kind}
		if !t.applies(j) {
			attempt.Skipped = true
			out.Attempts = append(out.Attempts, attempt)
			e.metrics.ObserveTactic(string(t.kind), "skipped")
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return out, err
		}

		tctx, cancel := context.WithTimeout(ctx, e.tacticTimeout())
		node, err := t.run(tctx, j)
		cancel()

		if err != nil {
			if errors.Is(err, schemas.ErrHostUnavailable) {
				return out, err
			}
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			attempt.Error = err.Error()
			out.Attempts = append(out.Attempts, attempt)
			e.metrics.ObserveTactic(string(t.kind), "error")
			e.logger.Debug("Tactic failed.",
				zap.String("tactic", string(t.kind)),
				zap.String("ref", string(el.Ref)),
				zap.Error(err))
			continue
		}

		attempt.SucceededSyntactically = true
		attempt.Node = node
		out.Attempts = append(out.Attempts, attempt)
		out.Succeeded = true
		out.Node = node
		e.metrics.ObserveTactic(string(t.kind), "ok")
		e.logger.Debug("Tactic succeeded.",
			zap.String("tactic", string(t.kind)),
			zap.Int("index", i+1),
			zap.String("node", string(node)))
		return out, nil
	}

	e.logger.Info("All tactics exhausted.", zap.String("ref", string(el.Ref)))
	return out, nil
}

func (e *Executor) tacticTimeout() time.Duration {
	if e.cfg.TacticTimeout > 0 {
		return e.cfg.TacticTimeout
	}
	return 5 * time.Second
}

// ensureInViewport scrolls a rendered node into view and waits for the scroll
// to settle before anything is dispatched. Nodes without a box are left alone.
func (e *Executor) ensureInViewport(ctx context.Context, w *pagewalk.Walker, el schemas.ElementSnapshot) (bool, schemas.ElementSnapshot, error) {
	if el.Box.Empty() {
		return false, el, nil
	}
	vp, err := w.Page().Viewport(ctx)
	if err != nil {
		return false, el, fmt.Errorf("read viewport: %w", err)
	}
	if vp.Contains(el.Box) {
		return false, el, nil
	}

	e.logger.Debug("Scrolling candidate into view.", zap.String("ref", string(el.Ref)))
	if err := w.Page().ScrollIntoView(ctx, el.Ref); err != nil {
		return false, el, fmt.Errorf("scroll into view: %w", err)
	}
	if err := e.settle(ctx, e.cfg.ScrollSettle); err != nil {
		return true, el, err
	}
	w.Invalidate()
	fresh, err := w.Describe(ctx, el.Ref)
	if err != nil {
		return true, el, err
	}
	return true, fresh, nil
}
