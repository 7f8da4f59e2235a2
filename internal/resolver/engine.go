// File: internal/resolver/engine.go
// Description: The resolution coordinator. It drives one target through
// discovery, exclusion, scoring, action and verification as an explicit state
// machine, and escalates to the next discovery strategy when verification fails.

package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/observability"
	"github.com/xkilldash9x/pinpoint/internal/resolver/action"
	"github.com/xkilldash9x/pinpoint/internal/resolver/discovery"
	"github.com/xkilldash9x/pinpoint/internal/resolver/exclusion"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
	"github.com/xkilldash9x/pinpoint/internal/resolver/scoring"
	"github.com/xkilldash9x/pinpoint/internal/resolver/verify"
)

// Transition reasons recorded in diagnostics.
const (
	ReasonNoCandidate      = "no candidate cleared the confidence floor"
	ReasonTacticsExhausted = "all action tactics failed"
	ReasonVerifyFailed     = "verification failed"
	ReasonBudgetExhausted  = "action budget exhausted; escalation deferred to next call"
	ReasonStrategiesDone   = "discovery strategies exhausted"
	ReasonScopeNotFound    = "scope selector matched nothing"
	ReasonTimedOut         = "call timed out"
	ReasonHostUnavailable  = "host page unavailable"
)

const (
	defaultCallTimeout      = 30 * time.Second
	visualExpectedMaxLength = 200
)

// Engine resolves semantic targets on one page. Calls are serialized: at most
// one target is in flight per Engine.
type Engine struct {
	page   schemas.PageAccessor
	cfg    config.ResolverConfig
	logger *zap.Logger

	scorer     *scoring.Scorer
	discoverer *discovery.Discoverer
	filter     *exclusion.Filter
	executor   *action.Executor
	verifier   *verify.Verifier
	ledger     *ledger

	visual  schemas.VisualVerifier
	sinks   []schemas.DiagnosticsSink
	metrics *observability.Metrics
	tracer  trace.Tracer
	settle  action.SettleFunc
	now     func() time.Time

	inFlight *semaphore.Weighted
}

// Option configures an Engine.
type Option func(*Engine)

// WithVisualVerifier enables the OCR fallback.
func WithVisualVerifier(v schemas.VisualVerifier) Option {
	return func(e *Engine) { e.visual = v }
}

// WithSinks adds diagnostics sinks that receive every finished result.
func WithSinks(sinks ...schemas.DiagnosticsSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithMetrics records resolution metrics into m. A nil m disables them.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider traces calls with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = observability.Tracer(tp) }
}

// WithSettle replaces both the scroll settle wait and the post-action wait.
func WithSettle(fn action.SettleFunc) Option {
	return func(e *Engine) { e.settle = fn }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New wires the resolver components for page. The engine never opens, closes
// or navigates the page.
func New(page schemas.PageAccessor, cfg config.ResolverConfig, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		page:     page,
		cfg:      cfg,
		logger:   logger.Named("resolver"),
		tracer:   observability.Tracer(nil),
		settle:   action.Sleep,
		now:      time.Now,
		inFlight: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.scorer = scoring.New(cfg.Scoring)
	e.discoverer = discovery.New(cfg.Discovery, e.scorer, logger)
	e.filter = exclusion.New(cfg.Exclusion, logger, e.metrics)
	e.executor = action.New(cfg.Action, logger, e.metrics, action.WithSettle(e.settle))
	e.verifier = verify.New(cfg.Verify, e.scorer, e.filter, logger, verify.WithWait(e.settle))
	e.ledger = newLedger(cfg.Ledger)
	return e
}

// call is the mutable state of one ResolveAndAct invocation.
type call struct {
	ctx    context.Context
	result *schemas.Result
	state  schemas.State
	key    string
	// urlBefore is the location when the current action began.
	urlBefore string
	scope     schemas.NodeRef
	skip      discovery.SkipSet
	actions   int
	// verifyFailed is set once a candidate in this call failed verification.
	verifyFailed bool
}

func (c *call) to(next schemas.State, strategy schemas.StrategyKind, reason string) {
	c.result.Diagnostics.Transitions = append(c.result.Diagnostics.Transitions, schemas.Transition{
		From:     c.state,
		To:       next,
		Strategy: strategy,
		Reason:   reason,
	})
	c.state = next
}

func (c *call) fail(kind schemas.FailureKind, reason string) {
	c.result.Failure = kind
	c.to(schemas.StateFailed, "", reason)
}

// errScopeNotFound ends a call with a ScopeNotFound result.
var errScopeNotFound = errors.New("scope not found")

// ResolveAndAct finds the element target describes, acts on it and verifies
// the effect. Domain failures are reported in the result with a nil error. A
// failing page accessor yields a HostUnavailable result together with an error
// wrapping schemas.ErrHostUnavailable. A timeout of zero uses the configured
// call timeout.
func (e *Engine) ResolveAndAct(ctx context.Context, target schemas.TargetDescriptor, timeout time.Duration) (*schemas.Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if err := e.inFlight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for in-flight resolution: %w", err)
	}
	defer e.inFlight.Release(1)

	if timeout <= 0 {
		timeout = e.cfg.CallTimeout
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &schemas.Result{
		ID:        uuid.NewString(),
		Target:    target,
		StartedAt: e.now(),
	}
	callCtx, span := observability.StartSpan(callCtx, e.tracer, observability.SpanResolve,
		attribute.String(observability.AttrResultID, result.ID),
		attribute.String(observability.AttrTargetKind, string(target.Kind)),
		attribute.String(observability.AttrTarget, target.String()))

	c := &call{ctx: callCtx, result: result, state: schemas.StateIdle}
	err := e.run(c)
	err = e.classify(c, err)

	result.Duration = e.now().Sub(result.StartedAt)
	observability.EndSpan(span, string(result.Failure), err)
	e.finish(ctx, result)
	return result, err
}

// run executes the state machine. It returns only host, context and scope errors.
func (e *Engine) run(c *call) error {
	ctx := c.ctx
	strategies := e.discoverer.Strategies()

	if err := e.page.BeginSnapshot(ctx); err != nil {
		return err
	}
	url, err := e.page.URL(ctx)
	if err != nil {
		return err
	}
	c.result.PageURL = url
	c.urlBefore = url
	c.key = ledgerKey(url, c.result.Target)

	start, rejected := e.ledger.lookup(c.key, len(strategies))
	c.skip = discovery.NewSkipSet(rejected...)
	if start > 0 {
		c.result.Diagnostics.ResumedFrom = strategies[start]
		e.logger.Info("Resuming escalation from an earlier call.",
			zap.String("target", c.result.Target.String()),
			zap.String("strategy", string(strategies[start])),
			zap.Int("rejected", len(rejected)))
	}

	c.to(schemas.StateDiscovering, strategies[start], "")
	if err := e.resolveScope(c); err != nil {
		return err
	}

	for i := start; i < len(strategies); i++ {
		kind := strategies[i]
		best, err := e.discoverAndScore(c, kind)
		if err != nil {
			return err
		}
		if best == nil {
			if i+1 < len(strategies) {
				c.to(schemas.StateDiscovering, strategies[i+1], ReasonNoCandidate)
				continue
			}
			break
		}

		c.to(schemas.StateActing, kind, "")
		c.result.StrategyUsed = kind
		c.result.Match = best
		verified, err := e.actAndVerify(c, best)
		if err != nil {
			return err
		}
		if c.state == schemas.StateFailed {
			return nil
		}
		if verified {
			c.to(schemas.StateSucceeded, kind, "")
			c.result.Success = true
			e.ledger.forget(c.key)
			return nil
		}

		// The rejected candidate is never offered again, here or in a later call.
		c.skip.Add(best.Candidate.Fingerprint)
		c.verifyFailed = true
		next := i + 1
		if next >= len(strategies) {
			e.ledger.record(c.key, next, c.skip.Fingerprints())
			c.fail(schemas.FailureVerificationFailed, ReasonStrategiesDone)
			return nil
		}
		c.to(schemas.StateDiscovering, strategies[next], ReasonVerifyFailed)
		e.ledger.record(c.key, next, c.skip.Fingerprints())
		if c.actions >= e.cfg.MaxActionsPerCall {
			c.fail(schemas.FailureVerificationFailed, ReasonBudgetExhausted)
			return nil
		}

		// The action may have changed the page; read it afresh.
		if err := e.page.BeginSnapshot(ctx); err != nil {
			return err
		}
		if c.urlBefore, err = e.page.URL(ctx); err != nil {
			return err
		}
		if err := e.resolveScope(c); err != nil {
			return err
		}
	}

	if err := e.visualFallback(c); err != nil {
		return err
	}
	if start > 0 {
		// Nothing left after the resumed strategy: restart the cascade next
		// time but keep avoiding what already failed.
		e.ledger.record(c.key, 0, c.skip.Fingerprints())
	}
	if c.verifyFailed {
		// An action already happened; reporting NoCandidateFound would hide it.
		c.fail(schemas.FailureVerificationFailed, ReasonStrategiesDone)
		return nil
	}
	c.fail(schemas.FailureNoCandidateFound, ReasonNoCandidate)
	return nil
}

// resolveScope turns the scope selector into a node for the current snapshot.
func (e *Engine) resolveScope(c *call) error {
	c.scope = ""
	sel := c.result.Target.ScopeSelector
	if sel == "" {
		return nil
	}
	refs, err := e.page.Query(c.ctx, "", sel)
	if err != nil {
		if errors.Is(err, schemas.ErrHostUnavailable) || c.ctx.Err() != nil {
			return err
		}
		e.logger.Warn("Scope selector rejected.", zap.String("scope", sel), zap.Error(err))
		return errScopeNotFound
	}
	if len(refs) == 0 {
		return errScopeNotFound
	}
	c.scope = refs[0]
	return nil
}

// discoverAndScore runs one strategy and returns the winning match, or nil
// when nothing cleared the floor. Near matches and exclusions accumulate in
// the diagnostics.
func (e *Engine) discoverAndScore(c *call, kind schemas.StrategyKind) (*schemas.MatchResult, error) {
	ctx, span := observability.StartSpan(c.ctx, e.tracer, observability.SpanDiscover,
		attribute.String(observability.AttrStrategy, string(kind)))
	diag := &c.result.Diagnostics
	diag.StrategiesTried = append(diag.StrategiesTried, kind)

	w := pagewalk.New(e.page)
	cands, err := e.discoverer.Run(ctx, w, kind, discovery.Request{Target: c.result.Target, Scope: c.scope, Skip: c.skip})
	if err != nil {
		observability.EndSpan(span, "", err)
		return nil, err
	}
	vp, err := e.page.Viewport(ctx)
	if err != nil {
		observability.EndSpan(span, "", err)
		return nil, err
	}
	kept, excluded, err := e.filter.Apply(ctx, w, cands, vp)
	if err != nil {
		observability.EndSpan(span, "", err)
		return nil, err
	}
	diag.Excluded = append(diag.Excluded, excluded...)

	c.to(schemas.StateScoring, kind, "")
	best, near := e.scorer.Select(e.scorer.Rank(c.result.Target, kept))
	diag.NearMatches = append(diag.NearMatches, near...)

	span.SetAttributes(attribute.Int(observability.AttrCandidates, len(kept)))
	if best != nil {
		span.SetAttributes(attribute.Int(observability.AttrConfidence, best.Confidence))
	}
	observability.EndSpan(span, "", nil)

	e.logger.Debug("Strategy scored.",
		zap.String("strategy", string(kind)),
		zap.Int("candidates", len(cands)),
		zap.Int("excluded", len(excluded)),
		zap.Bool("cleared_floor", best != nil))
	return best, nil
}

// actAndVerify runs the tactic cascade on best and, if a tactic went through,
// the verifier. It moves the call to Failed when every tactic failed.
func (e *Engine) actAndVerify(c *call, best *schemas.MatchResult) (bool, error) {
	target := c.result.Target
	w := pagewalk.New(e.page)

	ctx, span := observability.StartSpan(c.ctx, e.tracer, observability.SpanAct,
		attribute.String(observability.AttrStrategy, string(best.Strategy)),
		attribute.Int(observability.AttrConfidence, best.Confidence))
	out, err := e.executor.Execute(ctx, w, target, *best)
	c.actions++
	c.result.Attempts = append(c.result.Attempts, out.Attempts...)
	c.result.Diagnostics.Scrolled = c.result.Diagnostics.Scrolled || out.Scrolled
	observability.EndSpan(span, "", err)
	if err != nil {
		return false, err
	}
	if !out.Succeeded {
		c.fail(schemas.FailureActionTacticsExhausted, ReasonTacticsExhausted)
		return false, nil
	}

	c.to(schemas.StateVerifying, best.Strategy, "")
	ctx, span = observability.StartSpan(c.ctx, e.tracer, observability.SpanVerify)
	outcome, err := e.verifier.Verify(ctx, w, verify.Request{
		Target:    target,
		Match:     *best,
		Acted:     out.Node,
		URLBefore: c.urlBefore,
	})
	observability.EndSpan(span, string(outcome.Method), err)
	if err != nil {
		return false, err
	}
	c.result.Verification = &outcome
	return outcome.Verified, nil
}

// visualFallback asks the OCR collaborator whether the target text is on
// screen. It never selects or acts on anything; the verdict is diagnostic.
func (e *Engine) visualFallback(c *call) error {
	if e.visual == nil {
		return nil
	}
	ctx, span := observability.StartSpan(c.ctx, e.tracer, observability.SpanVisual)
	c.result.Diagnostics.StrategiesTried = append(c.result.Diagnostics.StrategiesTried, schemas.StrategyOCR)

	vp, err := e.page.Viewport(ctx)
	if err != nil {
		observability.EndSpan(span, "", err)
		return err
	}
	img, err := e.page.Screenshot(ctx, schemas.Rect{Width: vp.Width, Height: vp.Height})
	if err != nil {
		observability.EndSpan(span, "", err)
		if errors.Is(err, schemas.ErrHostUnavailable) || ctx.Err() != nil {
			return err
		}
		e.logger.Warn("Screenshot for visual check failed.", zap.Error(err))
		return nil
	}

	expected := c.result.Target.Value
	if c.result.Target.Kind == schemas.KindFieldFill {
		expected = c.result.Target.Attribute
	}
	if r := []rune(expected); len(r) > visualExpectedMaxLength {
		expected = string(r[:visualExpectedMaxLength])
	}
	verdict, err := e.visual.VerifyVisually(ctx, img, expected)
	switch {
	case errors.Is(err, schemas.ErrVisualUnavailable):
		e.logger.Debug("Visual verification unavailable.")
		err = nil
	case err != nil:
		if ctx.Err() != nil {
			observability.EndSpan(span, "", err)
			return err
		}
		e.logger.Warn("Visual verification failed.", zap.Error(err))
		err = nil
	default:
		c.result.Diagnostics.VisualCheck = &verdict
	}
	observability.EndSpan(span, verdict.Tier, nil)
	return err
}

// classify turns run errors into terminal states. It returns the error the
// caller should see.
func (e *Engine) classify(c *call, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, errScopeNotFound):
		c.fail(schemas.FailureScopeNotFound, ReasonScopeNotFound)
		return nil
	case c.ctx.Err() != nil && !errors.Is(err, schemas.ErrHostUnavailable):
		c.fail(schemas.FailureTimedOut, ReasonTimedOut)
		return nil
	}
	c.result.Diagnostics.HostError = err.Error()
	c.fail(schemas.FailureHostUnavailable, ReasonHostUnavailable)
	if !errors.Is(err, schemas.ErrHostUnavailable) {
		err = fmt.Errorf("%w: %v", schemas.ErrHostUnavailable, err)
	}
	return fmt.Errorf("resolve %s: %w", c.result.Target.String(), err)
}

// finish reports the result to metrics, the log and every sink.
func (e *Engine) finish(ctx context.Context, result *schemas.Result) {
	e.metrics.ObserveResolution(string(result.Failure), string(result.StrategyUsed), result.Duration)

	fields := []zap.Field{
		zap.String("id", result.ID),
		zap.String("target", result.Target.String()),
		zap.Bool("success", result.Success),
		zap.String("strategy", string(result.StrategyUsed)),
		zap.Int("tactic", result.TacticIndex()),
		zap.Duration("duration", result.Duration),
	}
	if result.Success {
		e.logger.Info("Resolution succeeded.", fields...)
	} else {
		e.logger.Info("Resolution failed.", append(fields, zap.String("failure", string(result.Failure)))...)
	}

	sinkCtx := context.WithoutCancel(ctx)
	for _, sink := range e.sinks {
		if err := sink.Record(sinkCtx, result); err != nil {
			e.logger.Warn("Diagnostics sink failed.", zap.String("id", result.ID), zap.Error(err))
		}
	}
}
