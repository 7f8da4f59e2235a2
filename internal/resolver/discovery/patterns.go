package discovery

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
	"github.com/xkilldash9x/pinpoint/internal/resolver/textmatch"
)

// Pattern is one element shape the structural strategy knows how to read.
type Pattern struct {
	Name string
	// Kinds limits the pattern to some target kinds; nil means all.
	Kinds    []schemas.TargetKind
	Selector string
	// IncludeHidden admits invisible matches, for controls that sites hide
	// behind a styled label or swatch.
	IncludeHidden bool
	// Accept decides whether the element plausibly represents the target and
	// returns what to offer in its place.
	Accept func(ctx context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool)
}

type offer struct {
	el     schemas.ElementSnapshot
	origin *schemas.ElementSnapshot
	hint   *schemas.Signal
}

type patternContext struct {
	w      *pagewalk.Walker
	target schemas.TargetDescriptor
	cfg    config.DiscoveryConfig
}

func (p Pattern) applies(t schemas.TargetDescriptor) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	for _, k := range p.Kinds {
		if k == t.Kind {
			return true
		}
	}
	return false
}

var (
	variantOnly  = []schemas.TargetKind{schemas.KindVariantSelect}
	buttonOnly   = []schemas.TargetKind{schemas.KindButtonClick}
	choiceKinds  = []schemas.TargetKind{schemas.KindVariantSelect, schemas.KindButtonClick}
	quantityOnly = []schemas.TargetKind{schemas.KindQuantityAdjust}
)

var quantityWords = []string{"qty", "quantity"}

// DefaultPatterns returns the ordered pattern library.
func DefaultPatterns(cfg config.DiscoveryConfig) []Pattern {
	return []Pattern{
		{
			Name: "native-select", Kinds: variantOnly, Selector: "select",
			Accept: func(_ context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool) {
				return offer{el: el}, hasOption(el, pc.target.Value)
			},
		},
		{
			Name: "quantity-select", Kinds: quantityOnly, Selector: "select",
			Accept: func(_ context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool) {
				if pc.target.IsQuantityStep() || !mentionsQuantity(el) {
					return offer{}, false
				}
				return offer{el: el, hint: quantityHint()}, hasOption(el, pc.target.Value)
			},
		},
		{
			Name: "quantity-input", Kinds: quantityOnly, Selector: "input, [role=spinbutton]",
			Accept: func(_ context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool) {
				if pc.target.IsQuantityStep() {
					return offer{}, false
				}
				spin := strings.EqualFold(el.Attr("role"), "spinbutton")
				if !el.IsTextField() && !spin {
					return offer{}, false
				}
				numeric := el.InputType() == "number" || spin
				return offer{el: el, hint: quantityHint()}, (numeric || mentionsQuantity(el)) && !cartLike(el, pc.cfg)
			},
		},
		{
			Name: "quantity-stepper", Kinds: quantityOnly,
			Selector: `button, [role=button], [class*="plus"], [class*="minus"], [class*="increment"], [class*="decrement"], [class*="increase"], [class*="decrease"]`,
			Accept: func(_ context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool) {
				if !pc.target.IsQuantityStep() || cartLike(el, pc.cfg) {
					return offer{}, false
				}
				step := pc.target.StepDirection()
				if stepDirection(el) != step {
					return offer{}, false
				}
				return offer{el: el, hint: &schemas.Signal{Source: schemas.SignalPattern, Text: step}}, true
			},
		},
		{
			Name: "radio-with-label", Kinds: variantOnly, Selector: "input[type=radio]", IncludeHidden: true,
			Accept: acceptSelf,
		},
		{
			Name: "checkbox-with-label", Kinds: choiceKinds, Selector: "input[type=checkbox]", IncludeHidden: true,
			Accept: acceptSelf,
		},
		{
			Name: "choice-label", Kinds: choiceKinds, Selector: "label",
			Accept: func(ctx context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool) {
				if el.Associated == "" {
					return offer{}, false
				}
				control, err := pc.w.Describe(ctx, el.Associated)
				return offer{el: el}, err == nil && control.IsChoiceInput()
			},
		},
		{
			Name: "swatch-image-alt", Kinds: variantOnly, Selector: "img[alt]",
			Accept: climbToClickable,
		},
		{
			Name: "aria-choice", Kinds: variantOnly,
			Selector: "[role=radio], [role=option], [role=tab], [role=menuitemradio], [role=checkbox]",
			Accept:   acceptSelf,
		},
		{
			Name: "data-value", Kinds: variantOnly,
			Selector: "[data-value], [data-option-value], [data-variant], [data-option], [data-name], [data-label], [data-color], [data-size]",
			Accept:   climbToClickable,
		},
		{
			Name: "swatch-class", Kinds: variantOnly,
			Selector: `[class*="swatch"], [class*="variant"], [class*="option"], [class*="size-btn"], [class*="chip"], [class*="pill"]`,
			Accept:   climbToClickable,
		},
		{
			Name: "dropdown-option", Kinds: variantOnly,
			Selector: `[role=listbox] [role=option], [class*="dropdown"] li, [class*="dropdown"] [data-value], [class*="select"] li`,
			Accept:   climbToClickable,
		},
		{
			Name: "button-text", Kinds: buttonOnly,
			Selector: `button, [role=button], input[type=submit], input[type=button], a[class*="btn"], a[class*="button"]`,
			Accept:   acceptSelf,
		},
		{
			Name: "link-text", Kinds: buttonOnly, Selector: "a[href], [role=link]",
			Accept: acceptSelf,
		},
		{
			Name: "field-by-label", Kinds: []schemas.TargetKind{schemas.KindFieldFill},
			Selector: "input, textarea, [role=textbox], [contenteditable=true]",
			Accept: func(_ context.Context, _ *patternContext, el schemas.ElementSnapshot) (offer, bool) {
				textbox := el.IsTextField() || el.Attr("role") == "textbox" || el.HasAttr("contenteditable")
				return offer{el: el}, textbox
			},
		},
		{
			Name: "titled", Kinds: choiceKinds, Selector: "[title]",
			Accept: climbToClickable,
		},
	}
}

// patternMatch runs every applicable pattern in order.
func patternMatch(ctx context.Context, d *Discoverer, w *pagewalk.Walker, req Request) ([]schemas.CandidateElement, error) {
	c := d.newCollector(w, req, schemas.StrategyPatternMatch)
	pc := &patternContext{w: w, target: req.Target, cfg: d.cfg}
	for _, p := range d.patterns {
		if !p.applies(req.Target) {
			continue
		}
		els, err := query(ctx, w, req.Scope, p.Selector)
		if err != nil {
			return nil, err
		}
		for _, el := range els {
			if !p.IncludeHidden && (!el.Visible || el.Box.Empty()) {
				continue
			}
			o, ok := p.Accept(ctx, pc, el)
			if !ok {
				continue
			}
			c.add(ctx, o.el, p.Name, o.origin, o.hint)
			if c.full() {
				return c.out, nil
			}
		}
	}
	return c.out, nil
}

func acceptSelf(_ context.Context, _ *patternContext, el schemas.ElementSnapshot) (offer, bool) {
	return offer{el: el}, true
}

// nativeControls are the elements a wrapper must not stand in for.
const nativeControls = "button, input:not([type=hidden]), select, textarea, a[href], " +
	"[role=button], [role=radio], [role=option], [role=checkbox], [role=combobox]"

// climbToClickable offers the element itself when clickable, otherwise its
// nearest clickable ancestor within the hop limit, keeping the element as the
// origin of the matched text. Nothing is offered when neither is clickable, or
// when the clickable node is a container of native controls.
func climbToClickable(ctx context.Context, pc *patternContext, el schemas.ElementSnapshot) (offer, bool) {
	if pagewalk.IsClickable(el) {
		if wrapsControls(ctx, pc.w, el) {
			return offer{}, false
		}
		return offer{el: el}, true
	}
	anc, err := nearestClickable(ctx, pc.w, el.Ref, pc.cfg.AncestorHops)
	if err != nil || anc == nil || wrapsControls(ctx, pc.w, *anc) {
		return offer{}, false
	}
	origin := el
	return offer{el: *anc, origin: &origin}, true
}

// wrapsControls reports whether a non-native element contains native controls.
func wrapsControls(ctx context.Context, w *pagewalk.Walker, el schemas.ElementSnapshot) bool {
	if pagewalk.IsNativelyInteractive(el) {
		return false
	}
	refs, err := w.Page().Query(ctx, el.Ref, nativeControls)
	if err != nil {
		return true
	}
	return len(refs) > 0
}

func nearestClickable(ctx context.Context, w *pagewalk.Walker, ref schemas.NodeRef, hops int) (*schemas.ElementSnapshot, error) {
	chain, err := w.Ancestors(ctx, ref, hops)
	if err != nil && !errors.Is(err, schemas.ErrStaleNode) {
		return nil, err
	}
	for i := range chain {
		if pagewalk.IsClickable(chain[i]) {
			return &chain[i], nil
		}
	}
	return nil, nil
}

func hasOption(el schemas.ElementSnapshot, value string) bool {
	for _, o := range el.Options {
		if o.Disabled {
			continue
		}
		if textmatch.Match(value, o.Text) == schemas.MatchExact || textmatch.Match(value, o.Value) == schemas.MatchExact {
			return true
		}
	}
	return false
}

func quantityHint() *schemas.Signal {
	return &schemas.Signal{Source: schemas.SignalPattern, Text: "quantity"}
}

func identifierText(el schemas.ElementSnapshot) string {
	return strings.ToLower(strings.Join([]string{
		el.Attr("name"), el.Attr("id"), el.Attr("class"), el.Attr("aria-label"),
		el.Attr("data-testid"), el.LabelText,
	}, " "))
}

func mentionsQuantity(el schemas.ElementSnapshot) bool {
	ids := identifierText(el)
	for _, w := range quantityWords {
		if strings.Contains(ids, w) {
			return true
		}
	}
	return false
}

// cartLike keeps purchase buttons out of the quantity patterns.
func cartLike(el schemas.ElementSnapshot, cfg config.DiscoveryConfig) bool {
	text := textmatch.Normalize(el.Text + " " + el.Attr("aria-label") + " " + el.Attr("value"))
	for _, kw := range cfg.CartKeywords {
		if textmatch.Mentions(text, kw) {
			return true
		}
	}
	return false
}

var (
	increaseWords = []string{"increase", "increment", "plus", "inc", "up", "more"}
	decreaseWords = []string{"decrease", "decrement", "minus", "dec", "down", "less", "reduce"}
)

// stepDirection reads which way a stepper moves from its text, label and classes.
func stepDirection(el schemas.ElementSnapshot) string {
	switch strings.TrimSpace(el.Text) {
	case "+", "＋":
		return schemas.QuantityIncrease
	case "-", "−", "–", "－":
		return schemas.QuantityDecrease
	}
	fields := strings.FieldsFunc(strings.ToLower(strings.Join([]string{
		el.Attr("aria-label"), el.Attr("title"), el.Attr("class"), el.Attr("data-action"), el.Attr("name"), el.Text,
	}, " ")), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, f := range fields {
		for _, w := range increaseWords {
			if f == w {
				return schemas.QuantityIncrease
			}
		}
		for _, w := range decreaseWords {
			if f == w {
				return schemas.QuantityDecrease
			}
		}
	}
	return ""
}
