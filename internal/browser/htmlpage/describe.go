package htmlpage

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/resolver/textmatch"
)

// -- shadow roots --

func isShadowTemplate(n *html.Node) bool {
	if n.Type != html.ElementNode || n.Data != "template" {
		return false
	}
	_, a := getAttr(n, "shadowrootmode")
	_, b := getAttr(n, "shadowroot")
	return a || b
}

func shadowMode(n *html.Node) string {
	if m := attr(n, "shadowrootmode"); m != "" {
		return strings.ToLower(m)
	}
	return strings.ToLower(attr(n, "shadowroot"))
}

func insideInertTemplate(n *html.Node) bool {
	for c := n.Parent; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && c.Data == "template" && !isShadowTemplate(c) {
			return true
		}
	}
	return false
}

func insideClosedShadow(n *html.Node) bool {
	for c := n.Parent; c != nil; c = c.Parent {
		if isShadowTemplate(c) && shadowMode(c) == "closed" {
			return true
		}
	}
	return false
}

func inShadow(n *html.Node) bool {
	for c := n.Parent; c != nil; c = c.Parent {
		if isShadowTemplate(c) {
			return true
		}
	}
	return false
}

// composedParent steps over a shadow root to its host.
func composedParent(n *html.Node) *html.Node {
	parent := n.Parent
	if parent != nil && isShadowTemplate(parent) {
		return parent.Parent
	}
	return parent
}

// composedChildren returns element children with open shadow root contents
// spliced in place of their template.
func composedChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.Data == "template" {
			if isShadowTemplate(c) && shadowMode(c) != "closed" {
				out = append(out, composedChildren(c)...)
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// -- snapshots --

func (p *Page) describe(n *html.Node, ref schemas.NodeRef) schemas.ElementSnapshot {
	boxes := p.layout()
	box := boxes[n]
	el := schemas.ElementSnapshot{
		Ref:        ref,
		Tag:        strings.ToLower(n.Data),
		Attributes: make(map[string]string, len(n.Attr)),
		Box:        p.viewportRect(box),
		Visible:    box.visible && !box.rect.Empty(),
		Cursor:     cursorOf(n),
		InShadow:   inShadow(n),
	}
	for _, a := range n.Attr {
		el.Attributes[a.Key] = a.Val
	}
	_, el.Checked = getAttr(n, "checked")
	_, el.Disabled = getAttr(n, "disabled")

	switch el.Tag {
	case "input":
		el.Value = attr(n, "value")
		el.LabelText = p.labelText(n)
	case "textarea":
		el.Value = rawText(n)
		el.LabelText = p.labelText(n)
	case "select":
		el.Options = options(n)
		for _, o := range el.Options {
			if o.Selected {
				el.Value = o.Value
				el.Text = o.Text
			}
		}
		el.LabelText = p.labelText(n)
	case "label":
		if control := p.labelControl(n); control != nil {
			el.Associated = p.refFor(control)
		}
		el.Text = visibleText(n)
	case "option":
		el.Value = optionValue(n)
		el.Text = collapse(rawText(n))
		_, el.Checked = getAttr(n, "selected")
	default:
		el.Text = visibleText(n)
	}

	if el.Visible {
		cx, cy := el.Box.Center()
		if hit := p.hitTest(cx, cy); hit != nil && hit != n && !isAncestor(n, hit) && !isAncestor(hit, n) {
			el.Obscured = true
		}
	}
	return el
}

func (p *Page) viewportRect(b layoutBox) schemas.Rect {
	r := b.rect
	if !b.fixed {
		r.X -= p.viewport.ScrollX
		r.Y -= p.viewport.ScrollY
	}
	return r
}

func isAncestor(ancestor, n *html.Node) bool {
	for c := composedParent(n); c != nil; c = composedParent(c) {
		if c == ancestor {
			return true
		}
	}
	return false
}

// cursorOf resolves the inherited inline cursor, defaulting links to pointer.
func cursorOf(n *html.Node) string {
	for c := n; c != nil; c = composedParent(c) {
		if c.Type != html.ElementNode {
			continue
		}
		if v := parseStyle(attr(c, "style"))["cursor"]; v != "" {
			return v
		}
		if c.Data == "a" {
			if _, ok := getAttr(c, "href"); ok {
				return "pointer"
			}
		}
	}
	return "auto"
}

// -- text --

func rawText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	return sb.String()
}

// visibleText approximates innerText: rendered descendants only, whitespace
// collapsed, truncated.
func visibleText(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			if t := strings.TrimSpace(c.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if c != n && (!rendered(c) || parseStyle(attr(c, "style"))["visibility"] == "hidden") {
				return
			}
			if c.Data == "template" && !isShadowTemplate(c) {
				return
			}
			if c.Data == "select" && c != n {
				return
			}
		}
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			walk(k)
		}
	}
	walk(n)
	text := collapse(strings.Join(parts, " "))
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes])
	}
	return text
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func optionValue(n *html.Node) string {
	if v, ok := getAttr(n, "value"); ok {
		return v
	}
	return collapse(rawText(n))
}

func options(sel *html.Node) []schemas.OptionSnapshot {
	var out []schemas.OptionSnapshot
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			if k.Type != html.ElementNode {
				continue
			}
			if k.Data == "option" {
				_, selected := getAttr(k, "selected")
				_, disabled := getAttr(k, "disabled")
				out = append(out, schemas.OptionSnapshot{
					Value:    optionValue(k),
					Text:     collapse(rawText(k)),
					Selected: selected,
					Disabled: disabled,
				})
				continue
			}
			walk(k)
		}
	}
	walk(sel)
	// A single-select with nothing marked shows its first option.
	anySelected := false
	for _, o := range out {
		anySelected = anySelected || o.Selected
	}
	if !anySelected && len(out) > 0 {
		if _, multiple := getAttr(sel, "multiple"); !multiple {
			out[0].Selected = true
		}
	}
	return out
}

// -- labels --

var labelable = map[string]bool{"input": true, "select": true, "textarea": true, "button": true}

func (p *Page) labelControl(label *html.Node) *html.Node {
	if id := attr(label, "for"); id != "" {
		return findByID(rootOf(label), id)
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for k := c.FirstChild; k != nil && found == nil; k = k.NextSibling {
			if k.Type == html.ElementNode && labelable[k.Data] && attr(k, "type") != "hidden" {
				found = k
				return
			}
			walk(k)
		}
	}
	walk(label)
	return found
}

func (p *Page) labelText(control *html.Node) string {
	var parts []string
	if id := attr(control, "id"); id != "" {
		var walk func(*html.Node)
		walk = func(c *html.Node) {
			if c.Type == html.ElementNode && c.Data == "label" && attr(c, "for") == id {
				parts = append(parts, visibleText(c))
			}
			for k := c.FirstChild; k != nil; k = k.NextSibling {
				walk(k)
			}
		}
		walk(rootOf(control))
	}
	for c := control.Parent; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && c.Data == "label" {
			if _, explicit := getAttr(c, "for"); !explicit {
				parts = append(parts, visibleText(c))
			}
			break
		}
	}
	return collapse(strings.Join(parts, " "))
}

// rootOf returns the tree scope of n: its shadow template or the document.
func rootOf(n *html.Node) *html.Node {
	c := n
	for c.Parent != nil {
		if isShadowTemplate(c.Parent) {
			return c.Parent
		}
		c = c.Parent
	}
	return c
}

func findByID(root *html.Node, id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for k := c.FirstChild; k != nil && found == nil; k = k.NextSibling {
			if k.Type != html.ElementNode {
				continue
			}
			if attr(k, "id") == id {
				found = k
				return
			}
			// Shadow trees are separate id scopes.
			if isShadowTemplate(k) {
				continue
			}
			walk(k)
		}
	}
	walk(root)
	return found
}

func matchOption(sel *html.Node, value string) *html.Node {
	var byText *html.Node
	var found *html.Node
	want := textmatch.Normalize(value)
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for k := c.FirstChild; k != nil && found == nil; k = k.NextSibling {
			if k.Type != html.ElementNode {
				continue
			}
			if k.Data == "option" {
				if optionValue(k) == value {
					found = k
					return
				}
				if byText == nil && want != "" && textmatch.Normalize(rawText(k)) == want {
					byText = k
				}
				continue
			}
			walk(k)
		}
	}
	walk(sel)
	if found != nil {
		return found
	}
	return byText
}

func describeNode(n *html.Node) string {
	var sb strings.Builder
	sb.WriteString(n.Data)
	if id := attr(n, "id"); id != "" {
		sb.WriteString("#" + id)
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		sb.WriteString("." + c)
	}
	return sb.String()
}
