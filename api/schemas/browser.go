package schemas

import "strings"

// -- Page Snapshot Schemas --

// NodeRef is an opaque handle to a live page node. Refs are only valid for the
// snapshot generation that issued them; PageAccessor.BeginSnapshot invalidates
// every ref handed out before it.
type NodeRef string

// Rect is a bounding box in CSS pixels, relative to the current viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Viewport describes the visible window and its scroll offset into the document.
type Viewport struct {
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
}

// Contains reports whether the center of r lies within the viewport and the box is non-empty.
func (v Viewport) Contains(r Rect) bool {
	if r.Empty() {
		return false
	}
	cx, cy := r.Center()
	return cx >= 0 && cy >= 0 && cx <= v.Width && cy <= v.Height
}

// OptionSnapshot describes one <option> of a native select.
type OptionSnapshot struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Disabled bool   `json:"disabled"`
}

// ElementSnapshot is everything the resolver reads from a node in one round trip.
type ElementSnapshot struct {
	Ref        NodeRef           `json:"ref"`
	Tag        string            `json:"tag"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Box        Rect              `json:"box"`
	Visible    bool              `json:"visible"`
	Obscured   bool              `json:"obscured"`
	Cursor     string            `json:"cursor,omitempty"`
	Checked    bool              `json:"checked,omitempty"`
	Value      string            `json:"value,omitempty"`
	Disabled   bool              `json:"disabled,omitempty"`
	// LabelText is the text of any <label> associated with a form control.
	LabelText string `json:"labelText,omitempty"`
	// Associated is the control a <label> points at, explicitly or by containment.
	Associated NodeRef          `json:"associated,omitempty"`
	Options    []OptionSnapshot `json:"options,omitempty"`
	InShadow   bool             `json:"inShadow,omitempty"`
}

// Attr returns the named attribute or "".
func (e ElementSnapshot) Attr(name string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[name]
}

// HasAttr reports whether the attribute is present, even if empty.
func (e ElementSnapshot) HasAttr(name string) bool {
	_, ok := e.Attributes[name]
	return ok
}

// InputType returns the lowercased type of an <input>, defaulting to "text".
func (e ElementSnapshot) InputType() string {
	if e.Tag != "input" {
		return ""
	}
	if t := e.Attr("type"); t != "" {
		return strings.ToLower(t)
	}
	return "text"
}

// IsChoiceInput reports whether the node is a checkbox or radio input.
func (e ElementSnapshot) IsChoiceInput() bool {
	t := e.InputType()
	return t == "checkbox" || t == "radio"
}

// IsTextField reports whether the node accepts free text.
func (e ElementSnapshot) IsTextField() bool {
	if e.Tag == "textarea" {
		return true
	}
	switch e.InputType() {
	case "text", "email", "tel", "number", "search", "url", "password", "date":
		return true
	}
	return false
}

