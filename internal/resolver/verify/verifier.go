// Package verify confirms that an action had its semantic effect by reading
// the page back after the executor reports a syntactic success.
package verify

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/resolver/action"
	"github.com/xkilldash9x/pinpoint/internal/resolver/exclusion"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
	"github.com/xkilldash9x/pinpoint/internal/resolver/scoring"
	"github.com/xkilldash9x/pinpoint/internal/resolver/textmatch"
)

const choiceSelector = "input[type=radio], input[type=checkbox]"

// Request describes the action being verified.
type Request struct {
	Target schemas.TargetDescriptor
	Match  schemas.MatchResult
	// Acted is the node the successful tactic dispatched against.
	Acted     schemas.NodeRef
	URLBefore string
}

// Verifier runs the post-action checks.
type Verifier struct {
	cfg    config.VerifyConfig
	scorer *scoring.Scorer
	filter *exclusion.Filter
	logger *zap.Logger
	wait   action.SettleFunc
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWait replaces the post-action wait.
func WithWait(fn action.SettleFunc) Option {
	return func(v *Verifier) { v.wait = fn }
}

func New(cfg config.VerifyConfig, scorer *scoring.Scorer, filter *exclusion.Filter, logger *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		cfg:    cfg,
		scorer: scorer,
		filter: filter,
		logger: logger.Named("verifier"),
		wait:   action.Sleep,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify waits for the page to react and then checks, in order, the URL, any
// selected-state marker and any readout. Errors are host failures only.
func (v *Verifier) Verify(ctx context.Context, w *pagewalk.Walker, req Request) (schemas.VerificationOutcome, error) {
	if err := v.wait(ctx, v.cfg.PostActionWait); err != nil {
		return schemas.VerificationOutcome{}, err
	}
	w.Invalidate()

	current, err := w.Page().URL(ctx)
	if err != nil {
		return schemas.VerificationOutcome{}, err
	}
	changed := current != req.URLBefore

	t := req.Target
	switch {
	case t.Kind == schemas.KindFieldFill, t.Kind == schemas.KindQuantityAdjust && !t.IsQuantityStep():
		return v.fieldValue(ctx, w, req, current)
	case t.Kind == schemas.KindButtonClick, t.IsQuantityStep():
		if changed {
			return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifyURL, ActualObservedValue: current}, nil
		}
		// Buttons often act in place; a clean dispatch is all that can be observed.
		return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifyActionDispatched}, nil
	}

	if changed && urlMentions(current, t.Value) {
		return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifyURL, ActualObservedValue: current}, nil
	}
	return v.variantState(ctx, w, req, current)
}

func (v *Verifier) fieldValue(ctx context.Context, w *pagewalk.Walker, req Request, current string) (schemas.VerificationOutcome, error) {
	el, err := w.Describe(ctx, req.Acted)
	if err != nil {
		if errors.Is(err, schemas.ErrStaleNode) {
			return v.failed(schemas.VerifyFieldValue, "", &schemas.VerificationEvidence{URL: current}), nil
		}
		return schemas.VerificationOutcome{}, err
	}
	observed := strings.TrimSpace(el.Value)
	if el.Tag == "select" {
		for _, o := range el.Options {
			if o.Selected && (o.Value == req.Target.Value || textmatch.Match(req.Target.Value, o.Text) == schemas.MatchExact) {
				observed = req.Target.Value
			}
		}
	}
	if observed == strings.TrimSpace(req.Target.Value) {
		return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifyFieldValue, ActualObservedValue: observed}, nil
	}
	return v.failed(schemas.VerifyFieldValue, observed, &schemas.VerificationEvidence{URL: current}), nil
}

// variantState looks for the chosen value in the acted select, in checked
// inputs, in selected-marked elements and finally in readouts. Elements inside
// exclusion zones never count.
func (v *Verifier) variantState(ctx context.Context, w *pagewalk.Walker, req Request, current string) (schemas.VerificationOutcome, error) {
	vp, err := w.Page().Viewport(ctx)
	if err != nil {
		return schemas.VerificationOutcome{}, err
	}
	value := req.Target.Value
	evidence := &schemas.VerificationEvidence{URL: current}

	if acted, err := w.Describe(ctx, req.Acted); err == nil && acted.Tag == "select" {
		for _, o := range acted.Options {
			if o.Selected && (textmatch.Match(value, o.Text) == schemas.MatchExact || textmatch.Match(value, o.Value) == schemas.MatchExact) {
				return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifySelectValue, ActualObservedValue: o.Text}, nil
			}
		}
	} else if err != nil && errors.Is(err, schemas.ErrHostUnavailable) {
		return schemas.VerificationOutcome{}, err
	}

	choices, err := v.query(ctx, w, choiceSelector)
	if err != nil {
		return schemas.VerificationOutcome{}, err
	}
	for _, el := range choices {
		if !el.Checked {
			continue
		}
		v.observe(&evidence.CheckedInputs, el)
		if v.signalMatches(req.Target, el) && !v.filter.InZone(ctx, w, el, vp) {
			return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifyCheckedInput, ActualObservedValue: observedText(el)}, nil
		}
	}

	marked, err := v.query(ctx, w, strings.Join(v.cfg.MarkerSelectors, ", "))
	if err != nil {
		return schemas.VerificationOutcome{}, err
	}
	for _, el := range marked {
		v.observe(&evidence.SelectedElements, el)
		if v.signalMatches(req.Target, el) && !v.filter.InZone(ctx, w, el, vp) {
			return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifySelectedMarker, ActualObservedValue: observedText(el)}, nil
		}
	}

	readouts, err := v.query(ctx, w, strings.Join(v.cfg.ReadoutSelectors, ", "))
	if err != nil {
		return schemas.VerificationOutcome{}, err
	}
	for _, el := range readouts {
		if !el.Visible || v.filter.InZone(ctx, w, el, vp) {
			continue
		}
		if textmatch.Mentions(el.Text, value) || textmatch.Mentions(el.Attr("data-selected-value"), value) {
			return schemas.VerificationOutcome{Verified: true, Method: schemas.VerifyReadout, ActualObservedValue: el.Text}, nil
		}
	}

	v.logger.Info("Verification failed.",
		zap.String("target", req.Target.String()),
		zap.Int("checked_inputs", len(evidence.CheckedInputs)),
		zap.Int("selected_elements", len(evidence.SelectedElements)))
	return v.failed(schemas.VerifyNone, "", evidence), nil
}

func (v *Verifier) failed(method schemas.VerificationMethod, observed string, evidence *schemas.VerificationEvidence) schemas.VerificationOutcome {
	return schemas.VerificationOutcome{Verified: false, Method: method, ActualObservedValue: observed, Evidence: evidence}
}

func (v *Verifier) signalMatches(t schemas.TargetDescriptor, el schemas.ElementSnapshot) bool {
	return v.scorer.BestSignal(t, schemas.CandidateElement{Element: el}).Level != schemas.MatchNone
}

func (v *Verifier) observe(into *[]schemas.ObservedElement, el schemas.ElementSnapshot) {
	if v.cfg.MaxEvidence > 0 && len(*into) >= v.cfg.MaxEvidence {
		return
	}
	*into = append(*into, schemas.ObservedElement{
		Ref:    el.Ref,
		Tag:    el.Tag,
		Text:   observedText(el),
		Value:  el.Attr("value"),
		Marker: pagewalk.SelectedMarker(el),
	})
}

// query reads a selector over the whole document. A selector the driver
// rejects is logged and treated as matching nothing.
func (v *Verifier) query(ctx context.Context, w *pagewalk.Walker, selector string) ([]schemas.ElementSnapshot, error) {
	if selector == "" {
		return nil, nil
	}
	refs, err := w.Page().Query(ctx, "", selector)
	if err != nil {
		if errors.Is(err, schemas.ErrHostUnavailable) {
			return nil, err
		}
		v.logger.Warn("Verification selector rejected.", zap.String("selector", selector), zap.Error(err))
		return nil, nil
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

func observedText(el schemas.ElementSnapshot) string {
	text := el.Text
	if text == "" {
		text = el.LabelText
	}
	if text == "" {
		text = el.Attr("aria-label")
	}
	if r := []rune(text); len(r) > 80 {
		text = string(r[:80])
	}
	return text
}

// urlMentions reports whether the decoded URL carries the value as a token.
func urlMentions(raw, value string) bool {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	// Path and query punctuation separates tokens; Normalize alone would glue them.
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' '
	})
	return textmatch.Mentions(strings.Join(tokens, " "), value)
}
