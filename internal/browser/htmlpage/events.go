package htmlpage

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// Event is one entry in the page's dispatch log.
type Event struct {
	Type string
	Ref  schemas.NodeRef
	Node string
	X, Y float64
}

// Dispatch is passed to handlers registered with On. Handlers run while the
// page is locked, so they must use the Dispatch rather than Page methods.
type Dispatch struct {
	Type    string
	Target  *goquery.Selection
	Current *goquery.Selection

	page      *Page
	prevented bool
	stopped   bool
}

// Doc exposes the live document for mutation.
func (d *Dispatch) Doc() *goquery.Document { return d.page.doc }

// SetURL replaces the page location, as a client-side router would.
func (d *Dispatch) SetURL(u string) { d.page.url = u }

// Navigate resolves href against the current location.
func (d *Dispatch) Navigate(href string) { d.page.navigate(href) }

func (d *Dispatch) PreventDefault()  { d.prevented = true }
func (d *Dispatch) StopPropagation() { d.stopped = true }

type handler struct {
	eventType string
	matcher   cascadia.Matcher
	fn        func(*Dispatch)
}

// On registers fn for events of eventType reaching an element matching
// selector, either as target or while bubbling.
func (p *Page) On(eventType, selector string, fn func(*Dispatch)) error {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler{eventType: eventType, matcher: m, fn: fn})
	return nil
}

// Events returns a copy of the dispatch log.
func (p *Page) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// EventsOfType returns the logged events with the given type.
func (p *Page) EventsOfType(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *Page) ResetEvents() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

func (p *Page) record(e Event) {
	p.events = append(p.events, e)
}

func (p *Page) fire(eventType string, n *html.Node) *Dispatch {
	return p.fireAt(eventType, n, 0, 0)
}

func (p *Page) fireAt(eventType string, n *html.Node, x, y float64) *Dispatch {
	p.record(Event{Type: eventType, Ref: p.refFor(n), Node: describeNode(n), X: x, Y: y})
	d := &Dispatch{Type: eventType, Target: selectionOf(n), page: p}
	for c := n; c != nil && !d.stopped; c = composedParent(c) {
		if c.Type != html.ElementNode {
			continue
		}
		for _, h := range p.handlers {
			if h.eventType != eventType || !h.matcher.Match(c) {
				continue
			}
			d.Current = selectionOf(c)
			h.fn(d)
		}
	}
	p.dirty = true
	return d
}

func selectionOf(n *html.Node) *goquery.Selection {
	return goquery.NewDocumentFromNode(n).Selection
}

func isDisabled(n *html.Node) bool {
	switch n.Data {
	case "button", "input", "select", "textarea", "option":
		_, ok := getAttr(n, "disabled")
		return ok
	}
	return false
}

// click runs the activation behaviour of a trusted click on n.
func (p *Page) click(n *html.Node) {
	if isDisabled(n) {
		return
	}
	kind := strings.ToLower(attr(n, "type"))
	choice := n.Data == "input" && (kind == "checkbox" || kind == "radio")

	var restore func()
	if choice {
		_, was := getAttr(n, "checked")
		snapshot := p.radioGroupState(n)
		if kind == "checkbox" {
			p.setChecked(n, !was)
		} else {
			p.setChecked(n, true)
		}
		restore = func() {
			for node, checked := range snapshot {
				if checked {
					setAttr(node, "checked", "")
				} else {
					removeAttr(node, "checked")
				}
			}
			if was {
				setAttr(n, "checked", "")
			} else {
				removeAttr(n, "checked")
			}
		}
	}

	d := p.fire("click", n)
	if d.prevented {
		if restore != nil {
			restore()
		}
		return
	}
	if choice {
		p.fire("input", n)
		p.fire("change", n)
		return
	}

	for c := n; c != nil; c = composedParent(c) {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "a":
			if href, ok := getAttr(c, "href"); ok {
				p.navigate(href)
				p.record(Event{Type: "navigate", Node: href})
				return
			}
		case "label":
			control := p.labelControl(c)
			if control != nil && control != n && !isAncestor(control, n) {
				p.click(control)
			}
			return
		case "button":
			if t := strings.ToLower(attr(c, "type")); t == "" || t == "submit" {
				p.submit(c)
			}
			return
		case "input":
			if t := strings.ToLower(attr(c, "type")); t == "submit" || t == "image" {
				p.submit(c)
			}
			return
		}
	}
}

func (p *Page) submit(from *html.Node) {
	for c := from.Parent; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && c.Data == "form" {
			p.fire("submit", c)
			return
		}
	}
}

// radioGroupState snapshots the checked state of n's radio group peers.
func (p *Page) radioGroupState(n *html.Node) map[*html.Node]bool {
	out := make(map[*html.Node]bool)
	for _, peer := range p.radioPeers(n) {
		_, checked := getAttr(peer, "checked")
		out[peer] = checked
	}
	return out
}

func (p *Page) radioPeers(n *html.Node) []*html.Node {
	name := attr(n, "name")
	if !strings.EqualFold(attr(n, "type"), "radio") || name == "" {
		return nil
	}
	scope := rootOf(n)
	for c := n.Parent; c != nil; c = c.Parent {
		if c.Type == html.ElementNode && c.Data == "form" {
			scope = c
			break
		}
	}
	var peers []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		for k := c.FirstChild; k != nil; k = k.NextSibling {
			if k.Type == html.ElementNode && k != n && k.Data == "input" &&
				strings.EqualFold(attr(k, "type"), "radio") && attr(k, "name") == name {
				peers = append(peers, k)
			}
			walk(k)
		}
	}
	walk(scope)
	return peers
}

func (p *Page) setChecked(n *html.Node, checked bool) {
	if checked {
		for _, peer := range p.radioPeers(n) {
			removeAttr(peer, "checked")
		}
		setAttr(n, "checked", "")
	} else {
		removeAttr(n, "checked")
	}
	p.dirty = true
}

func (p *Page) selectOption(n *html.Node, value string) error {
	if n.Data != "select" {
		return fmt.Errorf("select option on <%s>: not a select", n.Data)
	}
	if isDisabled(n) {
		return fmt.Errorf("select %s is disabled", describeNode(n))
	}
	opt := matchOption(n, value)
	if opt == nil {
		return fmt.Errorf("option %q in %s: %w", value, describeNode(n), schemas.ErrNotFound)
	}
	if isDisabled(opt) {
		return fmt.Errorf("option %q is disabled", value)
	}
	if _, multiple := getAttr(n, "multiple"); !multiple {
		var unselect func(*html.Node)
		unselect = func(c *html.Node) {
			for k := c.FirstChild; k != nil; k = k.NextSibling {
				if k.Type == html.ElementNode && k.Data == "option" {
					removeAttr(k, "selected")
				}
				unselect(k)
			}
		}
		unselect(n)
	}
	setAttr(opt, "selected", "")
	p.dirty = true
	p.fire("input", n)
	p.fire("change", n)
	return nil
}
