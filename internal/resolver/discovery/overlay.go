package discovery

import (
	"context"
	"strings"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

// overlaySelector enumerates what a user can see and press. Native selects
// are left to the select pattern, which understands options.
var overlaySelector = strings.Join([]string{
	"button",
	"a[href]",
	"input:not([type=hidden])",
	"textarea",
	"label",
	"[role=button]",
	"[role=link]",
	"[role=radio]",
	"[role=checkbox]",
	"[role=option]",
	"[role=tab]",
	"[role=menuitem]",
	"[role=menuitemradio]",
	"[role=switch]",
}, ", ")

// overlayScan walks the visible interactive elements box by box.
func overlayScan(ctx context.Context, d *Discoverer, w *pagewalk.Walker, req Request) ([]schemas.CandidateElement, error) {
	els, err := query(ctx, w, req.Scope, overlaySelector)
	if err != nil {
		return nil, err
	}
	c := d.newCollector(w, req, schemas.StrategyVisualOverlay)
	for _, el := range els {
		if !el.Visible || el.Box.Empty() {
			continue
		}
		if el.Tag == "input" && !labelled(el) {
			continue
		}
		if el.Tag == "label" && el.Associated != "" && wantsValue(req.Target) {
			// Offer the field itself so the value lands on the first tactic.
			control, err := w.Describe(ctx, el.Associated)
			if err == nil && control.IsTextField() {
				origin := el
				c.add(ctx, control, "", &origin, nil)
				continue
			}
		}
		c.add(ctx, el, "", nil, nil)
		if c.full() {
			break
		}
	}
	return c.out, nil
}

// labelled reports whether an input carries any human-readable name.
func labelled(el schemas.ElementSnapshot) bool {
	if el.LabelText != "" || el.Attr("aria-label") != "" || el.Attr("placeholder") != "" || el.Attr("title") != "" {
		return true
	}
	switch el.InputType() {
	case "submit", "button", "reset":
		return el.Attr("value") != ""
	}
	return false
}

func wantsValue(t schemas.TargetDescriptor) bool {
	return t.Kind == schemas.KindFieldFill || (t.Kind == schemas.KindQuantityAdjust && !t.IsQuantityStep())
}
