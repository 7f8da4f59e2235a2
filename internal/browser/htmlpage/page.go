// Package htmlpage is an in-process PageAccessor over a parsed HTML document.
// It models just enough of a browser for the resolver to run offline: CSS
// selectors, declarative shadow roots, visibility, a deterministic box model,
// scrolling, hit testing, default activation behaviour of form controls and
// links, and registered event handlers. Every dispatched event is logged.
package htmlpage

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

const (
	defaultViewportWidth  = 1280
	defaultViewportHeight = 800
	maxTextRunes          = 200
)

// Page is a mutable, thread-safe in-memory document.
type Page struct {
	mu sync.Mutex

	doc      *goquery.Document
	url      string
	viewport schemas.Viewport

	generation int
	ids        map[*html.Node]int
	nodes      []*html.Node

	boxes map[*html.Node]layoutBox
	dirty bool

	focused  *html.Node
	events   []Event
	handlers []handler
	closed   bool
}

// Option configures a Page.
type Option func(*Page)

// WithURL sets the initial location.
func WithURL(u string) Option {
	return func(p *Page) { p.url = u }
}

// WithViewport sets the window size in CSS pixels.
func WithViewport(width, height float64) Option {
	return func(p *Page) {
		p.viewport.Width = width
		p.viewport.Height = height
	}
}

// New parses src into a Page.
func New(src string, opts ...Option) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	p := &Page{
		doc:      doc,
		url:      "about:blank",
		viewport: schemas.Viewport{Width: defaultViewportWidth, Height: defaultViewportHeight},
		ids:      make(map[*html.Node]int),
		dirty:    true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close makes every subsequent accessor call fail with ErrHostUnavailable,
// like a tab that was closed under the resolver.
func (p *Page) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Find runs a selector against the live document for test assertions and handlers set up outside dispatch.
func (p *Page) Find(selector string) *goquery.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Find(selector)
}

// HTML serializes the current document.
func (p *Page) HTML() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doc.Html()
}

// SetURL changes the location without any events, as a navigation by the host would.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// -- schemas.PageAccessor --

func (p *Page) BeginSnapshot(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	p.generation++
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return "", err
	}
	return p.url, nil
}

func (p *Page) Viewport(ctx context.Context) (schemas.Viewport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return schemas.Viewport{}, err
	}
	return p.viewport, nil
}

func (p *Page) Query(ctx context.Context, scope schemas.NodeRef, selector string) ([]schemas.NodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return nil, err
	}
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	root := p.doc.Selection
	if scope != "" {
		n, err := p.resolve(scope)
		if err != nil {
			return nil, err
		}
		root = goquery.NewDocumentFromNode(n).Selection
	}

	var refs []schemas.NodeRef
	root.FindMatcher(matcher).Each(func(_ int, s *goquery.Selection) {
		n := s.Nodes[0]
		if isShadowTemplate(n) || insideInertTemplate(n) || insideClosedShadow(n) {
			return
		}
		refs = append(refs, p.refFor(n))
	})
	return refs, nil
}

func (p *Page) Describe(ctx context.Context, ref schemas.NodeRef) (schemas.ElementSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return schemas.ElementSnapshot{}, err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return schemas.ElementSnapshot{}, err
	}
	return p.describe(n, ref), nil
}

func (p *Page) Parent(ctx context.Context, ref schemas.NodeRef) (schemas.NodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return "", err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return "", err
	}
	parent := composedParent(n)
	if parent == nil || parent.Type != html.ElementNode {
		return "", nil
	}
	return p.refFor(parent), nil
}

func (p *Page) Children(ctx context.Context, ref schemas.NodeRef) ([]schemas.NodeRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return nil, err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return nil, err
	}
	var refs []schemas.NodeRef
	for _, c := range composedChildren(n) {
		refs = append(refs, p.refFor(c))
	}
	return refs, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, ref schemas.NodeRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return err
	}
	box := p.layout()[n]
	if !box.fixed && !box.rect.Empty() {
		cx, cy := box.rect.Center()
		p.viewport.ScrollY = clampScroll(cy - p.viewport.Height/2)
		p.viewport.ScrollX = clampScroll(cx - p.viewport.Width/2)
	}
	p.record(Event{Type: "scroll", Ref: ref, Node: describeNode(n)})
	return nil
}

func (p *Page) Invoke(ctx context.Context, ref schemas.NodeRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return err
	}
	p.click(n)
	return nil
}

func (p *Page) Focus(ctx context.Context, ref schemas.NodeRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return err
	}
	p.focused = n
	p.fire("focus", n)
	return nil
}

func (p *Page) DispatchPointer(ctx context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n := p.hitTest(x, y)
	if n == nil {
		return fmt.Errorf("no element at (%.0f, %.0f): %w", x, y, schemas.ErrNotFound)
	}
	p.fireAt("mousedown", n, x, y)
	p.fireAt("mouseup", n, x, y)
	p.click(n)
	return nil
}

func (p *Page) SetChecked(ctx context.Context, ref schemas.NodeRef, checked bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return err
	}
	if n.Data != "input" {
		return fmt.Errorf("set checked on <%s>: not an input", n.Data)
	}
	p.setChecked(n, checked)
	p.fire("input", n)
	p.fire("change", n)
	return nil
}

func (p *Page) SelectOption(ctx context.Context, ref schemas.NodeRef, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return err
	}
	return p.selectOption(n, value)
}

func (p *Page) SetValue(ctx context.Context, ref schemas.NodeRef, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return err
	}
	n, err := p.resolve(ref)
	if err != nil {
		return err
	}
	switch n.Data {
	case "select":
		return p.selectOption(n, value)
	case "textarea":
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case "input":
		setAttr(n, "value", value)
	default:
		return fmt.Errorf("set value on <%s>: not a form field", n.Data)
	}
	p.dirty = true
	p.fire("input", n)
	p.fire("change", n)
	return nil
}

// Screenshot returns a tiny placeholder; there is nothing to render offline.
// The clip is validated so callers exercise the same contract as a real driver.
func (p *Page) Screenshot(ctx context.Context, clip schemas.Rect) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.live(ctx); err != nil {
		return nil, err
	}
	if clip.Empty() {
		return nil, fmt.Errorf("screenshot clip is empty")
	}
	return []byte(fmt.Sprintf("htmlpage:%s:%.0fx%.0f", p.url, clip.Width, clip.Height)), nil
}

// -- internals --

func (p *Page) live(ctx context.Context) error {
	if p.closed {
		return fmt.Errorf("page closed: %w", schemas.ErrHostUnavailable)
	}
	return ctx.Err()
}

func (p *Page) refFor(n *html.Node) schemas.NodeRef {
	id, ok := p.ids[n]
	if !ok {
		id = len(p.nodes)
		p.ids[n] = id
		p.nodes = append(p.nodes, n)
	}
	return schemas.NodeRef(fmt.Sprintf("g%d/%d", p.generation, id))
}

func (p *Page) resolve(ref schemas.NodeRef) (*html.Node, error) {
	gen, id, ok := parseRef(ref)
	if !ok {
		return nil, fmt.Errorf("malformed ref %q: %w", ref, schemas.ErrStaleNode)
	}
	if gen != p.generation || id < 0 || id >= len(p.nodes) {
		return nil, fmt.Errorf("ref %q: %w", ref, schemas.ErrStaleNode)
	}
	n := p.nodes[id]
	if !p.attached(n) {
		return nil, fmt.Errorf("ref %q detached: %w", ref, schemas.ErrStaleNode)
	}
	return n, nil
}

func parseRef(ref schemas.NodeRef) (gen, id int, ok bool) {
	s := string(ref)
	if !strings.HasPrefix(s, "g") {
		return 0, 0, false
	}
	genPart, idPart, found := strings.Cut(s[1:], "/")
	if !found {
		return 0, 0, false
	}
	g, err1 := strconv.Atoi(genPart)
	i, err2 := strconv.Atoi(idPart)
	return g, i, err1 == nil && err2 == nil
}

func (p *Page) attached(n *html.Node) bool {
	root := p.doc.Nodes[0]
	for c := n; c != nil; c = c.Parent {
		if c == root {
			return true
		}
	}
	return false
}

func (p *Page) navigate(href string) {
	base, err := url.Parse(p.url)
	if err != nil {
		p.url = href
		return
	}
	target, err := base.Parse(href)
	if err != nil {
		return
	}
	p.url = target.String()
}

func clampScroll(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := getAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
