package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

// tactic is one entry in the cascade. applies is evaluated before pacing so
// tactics that cannot work for the node are recorded as skipped.
type tactic struct {
	kind    schemas.TacticKind
	applies func(j *job) bool
	run     func(ctx context.Context, j *job) (schemas.NodeRef, error)
}

func defaultTactics() []tactic {
	return []tactic{
		{kind: schemas.TacticDirectInvoke, applies: always, run: directInvoke},
		{kind: schemas.TacticFocusInvoke, applies: always, run: focusInvoke},
		{kind: schemas.TacticPointerSequence, applies: pointerApplies, run: pointerSequence},
		{kind: schemas.TacticSetChecked, applies: func(j *job) bool { return j.el.IsChoiceInput() }, run: setChecked},
		{kind: schemas.TacticParentClimb, applies: func(j *job) bool { return j.activates() && j.climb > 0 }, run: parentClimb},
		{kind: schemas.TacticLabelAssociation, applies: always, run: labelAssociation},
	}
}

func always(*job) bool { return true }

// wantsValue reports whether the target is satisfied by writing a value
// rather than by activating something.
func (j *job) wantsValue() bool {
	switch j.target.Kind {
	case schemas.KindFieldFill:
		return true
	case schemas.KindQuantityAdjust:
		return !j.target.IsQuantityStep()
	}
	return false
}

// activates reports whether the cascade is clicking, as opposed to writing.
func (j *job) activates() bool {
	return !j.wantsValue() && j.el.Tag != "select"
}

func writable(el schemas.ElementSnapshot) bool {
	return el.IsTextField() || el.HasAttr("contenteditable") || el.Attr("role") == "textbox"
}

// primary performs the natural operation for el: choose an option, write a
// value, or activate it.
func (j *job) primary(ctx context.Context, el schemas.ElementSnapshot) error {
	page := j.w.Page()
	switch {
	case el.Tag == "select":
		return page.SelectOption(ctx, el.Ref, j.optionValue)
	case j.wantsValue():
		if !writable(el) {
			return fmt.Errorf("cannot write a value to <%s>: %w", el.Tag, errNotApplicable)
		}
		return page.SetValue(ctx, el.Ref, j.target.Value)
	}
	return page.Invoke(ctx, el.Ref)
}

func directInvoke(ctx context.Context, j *job) (schemas.NodeRef, error) {
	return j.el.Ref, j.primary(ctx, j.el)
}

func focusInvoke(ctx context.Context, j *job) (schemas.NodeRef, error) {
	if err := j.w.Page().Focus(ctx, j.el.Ref); err != nil {
		return "", fmt.Errorf("focus: %w", err)
	}
	return j.el.Ref, j.primary(ctx, j.el)
}

// Pointer events land on whatever is on top, so they are only sent to an
// unobscured node with a box, and never for a value write.
func pointerApplies(j *job) bool {
	return j.activates() && !j.el.Obscured && !j.el.Box.Empty()
}

func pointerSequence(ctx context.Context, j *job) (schemas.NodeRef, error) {
	x, y := j.el.Box.Center()
	return j.el.Ref, j.w.Page().DispatchPointer(ctx, x, y)
}

func setChecked(ctx context.Context, j *job) (schemas.NodeRef, error) {
	return j.el.Ref, j.w.Page().SetChecked(ctx, j.el.Ref, true)
}

// parentClimb activates the first clickable ancestor of a decorative node.
// Form submitters are passed over unless the target is a button.
func parentClimb(ctx context.Context, j *job) (schemas.NodeRef, error) {
	chain, err := j.w.Ancestors(ctx, j.el.Ref, j.climb)
	if err != nil && !errors.Is(err, schemas.ErrStaleNode) {
		return "", err
	}
	for _, anc := range chain {
		if climbStopTags[anc.Tag] {
			break
		}
		if pagewalk.IsSubmitLike(anc) && j.target.Kind != schemas.KindButtonClick {
			continue
		}
		if !pagewalk.IsClickable(anc) {
			continue
		}
		return anc.Ref, j.w.Page().Invoke(ctx, anc.Ref)
	}
	return "", errNoAncestor
}

// labelAssociation redirects a label, or a node inside one, to the control it
// names and performs the primary operation there.
func labelAssociation(ctx context.Context, j *job) (schemas.NodeRef, error) {
	label := j.el
	if label.Tag != "label" {
		chain, err := j.w.Ancestors(ctx, j.el.Ref, 3)
		if err != nil && !errors.Is(err, schemas.ErrStaleNode) {
			return "", err
		}
		found := false
		for _, anc := range chain {
			if anc.Tag == "label" {
				label, found = anc, true
				break
			}
		}
		if !found {
			return "", errNotApplicable
		}
	}
	if label.Associated == "" {
		return "", errNoControl
	}
	control, err := j.w.Describe(ctx, label.Associated)
	if err != nil {
		return "", err
	}
	return control.Ref, j.primary(ctx, control)
}
