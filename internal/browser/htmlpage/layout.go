package htmlpage

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// rowHeight is the height given to every leaf box without an explicit height.
const rowHeight = 24

// layoutBox is the computed geometry of one element, in document coordinates
// unless fixed is set, in which case rect is relative to the viewport.
type layoutBox struct {
	rect    schemas.Rect
	fixed   bool
	visible bool
	pointer bool
	z       int
	order   int
}

// The layout is a single column: every element starts below its previous
// sibling and spans its parent's width unless styled otherwise. Inline
// top/left/width/height/margin-top and position absolute|fixed are honoured,
// which is enough to place headers, overlays and below-the-fold content.
type layoutState struct {
	boxes map[*html.Node]layoutBox
	order int
}

type inherited struct {
	fixed   bool
	hidden  bool // visibility:hidden in effect
	faded   bool // opacity:0 on some ancestor
	pointer bool
	z       int
}

func (p *Page) layout() map[*html.Node]layoutBox {
	if !p.dirty && p.boxes != nil {
		return p.boxes
	}
	st := &layoutState{boxes: make(map[*html.Node]layoutBox)}
	root := p.doc.Nodes[0]
	var top *html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			top = c
		}
	}
	if top != nil {
		st.place(top, 0, 0, p.viewport.Width, inherited{pointer: true})
	}
	p.boxes = st.boxes
	p.dirty = false
	return p.boxes
}

// place lays out n at (x, y) inside a container of the given width and
// returns the vertical space it consumes in its parent's flow.
func (st *layoutState) place(n *html.Node, x, y, width float64, inh inherited) float64 {
	if !rendered(n) {
		return 0
	}
	style := parseStyle(attr(n, "style"))
	st.order++
	order := st.order

	cur := inh
	switch style["visibility"] {
	case "hidden", "collapse":
		cur.hidden = true
	case "visible":
		cur.hidden = false
	}
	if op, ok := style["opacity"]; ok {
		if v, err := strconv.ParseFloat(op, 64); err == nil && v == 0 {
			cur.faded = true
		}
	}
	switch style["pointer-events"] {
	case "none":
		cur.pointer = false
	case "auto":
		cur.pointer = true
	}

	positioned := false
	switch style["position"] {
	case "fixed":
		cur.fixed = true
		positioned = true
		x, y = 0, 0
	case "absolute":
		positioned = true
		x, y = 0, 0
	}
	if z, ok := style["z-index"]; ok {
		if v, err := strconv.Atoi(z); err == nil {
			cur.z = v
		}
	}
	if positioned {
		if v, ok := px(style["left"]); ok {
			x = v
		}
		if v, ok := px(style["top"]); ok {
			y = v
		}
	} else if v, ok := px(style["margin-top"]); ok {
		y += v
	}
	if v, ok := px(style["width"]); ok {
		width = v
	}

	// Children flow from the top of this box.
	consumed := 0.0
	hasChildren := false
	for _, c := range composedChildren(n) {
		if !rendered(c) {
			continue
		}
		hasChildren = true
		consumed += st.place(c, x, y+consumed, width, cur)
	}
	height := consumed
	if !hasChildren {
		height = rowHeight
	}
	if v, ok := px(style["height"]); ok {
		height = v
	}

	st.boxes[n] = layoutBox{
		rect:    schemas.Rect{X: x, Y: y, Width: width, Height: height},
		fixed:   cur.fixed,
		visible: !cur.hidden && !cur.faded,
		pointer: cur.pointer,
		z:       cur.z,
		order:   order,
	}
	if positioned {
		return 0
	}
	margin, _ := px(style["margin-top"])
	return height + margin
}

// rendered reports whether n generates a box at all.
func rendered(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.Data {
	case "head", "script", "style", "noscript", "option", "optgroup", "title", "meta", "link":
		return false
	case "template":
		return isShadowTemplate(n)
	case "input":
		if strings.EqualFold(attr(n, "type"), "hidden") {
			return false
		}
	}
	if _, ok := getAttr(n, "hidden"); ok {
		return false
	}
	return parseStyle(attr(n, "style"))["display"] != "none"
}

// hitTest returns the topmost element under the viewport point (x, y).
func (p *Page) hitTest(x, y float64) *html.Node {
	var best *html.Node
	var bestBox layoutBox
	for n, b := range p.layout() {
		if !b.visible || !b.pointer || b.rect.Empty() {
			continue
		}
		r := p.viewportRect(b)
		if x < r.X || x >= r.X+r.Width || y < r.Y || y >= r.Y+r.Height {
			continue
		}
		if best == nil || b.z > bestBox.z || (b.z == bestBox.z && b.order > bestBox.order) {
			best, bestBox = n, b
		}
	}
	return best
}

func parseStyle(s string) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		out[strings.ToLower(strings.TrimSpace(k))] = strings.ToLower(v)
	}
	return out
}

func px(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}
