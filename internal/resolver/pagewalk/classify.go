package pagewalk

import (
	"fmt"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

const maxFingerprintText = 64

var hasherPool = sync.Pool{
	New: func() interface{} {
		return fnv.New64a()
	},
}

var interactiveTags = map[string]bool{
	"button": true, "a": true, "input": true, "select": true, "textarea": true,
	"label": true, "option": true, "summary": true,
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "radio": true, "checkbox": true, "option": true,
	"tab": true, "menuitem": true, "menuitemradio": true, "switch": true, "combobox": true,
	"spinbutton": true,
}

// clickableClassHints are class fragments sites use for custom clickable widgets.
var clickableClassHints = []string{"clickable", "selectable", "swatch", "option", "variant", "btn", "button"}

var selectedClasses = map[string]bool{
	"selected": true, "active": true, "is-selected": true, "is-active": true,
	"chosen": true, "checked": true, "current": true,
}

// IsNativelyInteractive reports whether the node is a button, link or control
// by tag or ARIA role.
func IsNativelyInteractive(el schemas.ElementSnapshot) bool {
	if el.Tag == "a" && !el.HasAttr("href") && el.Attr("role") == "" && !el.HasAttr("onclick") {
		return false
	}
	if el.Tag == "input" && el.InputType() == "hidden" {
		return false
	}
	if interactiveTags[el.Tag] {
		return true
	}
	return interactiveRoles[strings.ToLower(el.Attr("role"))]
}

// IsClickable extends IsNativelyInteractive with the softer signals custom
// widgets expose: handlers, pointer cursor, tabindex and known class hints.
func IsClickable(el schemas.ElementSnapshot) bool {
	if IsNativelyInteractive(el) {
		return true
	}
	if el.HasAttr("onclick") || el.Cursor == "pointer" {
		return true
	}
	if ti := el.Attr("tabindex"); ti != "" && !strings.HasPrefix(ti, "-") {
		return true
	}
	cls := strings.ToLower(el.Attr("class"))
	for _, hint := range clickableClassHints {
		if strings.Contains(cls, hint) {
			return true
		}
	}
	return false
}

// IsDisabled follows the same rules as the form controls themselves.
func IsDisabled(el schemas.ElementSnapshot) bool {
	if el.Disabled || el.HasAttr("disabled") {
		return true
	}
	if strings.EqualFold(el.Attr("aria-disabled"), "true") {
		return true
	}
	cls := strings.Fields(strings.ToLower(el.Attr("class")))
	for _, c := range cls {
		if c == "disabled" || c == "is-disabled" || c == "unavailable" || c == "sold-out" {
			return true
		}
	}
	return false
}

// SelectedMarker returns the state marker the node carries ("aria-selected",
// "class:selected", "checked", ...) or "" when it carries none.
func SelectedMarker(el schemas.ElementSnapshot) string {
	for _, attr := range []string{"aria-selected", "aria-pressed", "aria-checked", "aria-current"} {
		v := strings.ToLower(el.Attr(attr))
		if v == "true" || (attr == "aria-current" && v != "" && v != "false") {
			return attr
		}
	}
	if el.IsChoiceInput() && el.Checked {
		return "checked"
	}
	for _, c := range strings.Fields(strings.ToLower(el.Attr("class"))) {
		if selectedClasses[c] {
			return "class:" + c
		}
	}
	return ""
}

// IsLinkLike reports whether the node navigates rather than toggles.
func IsLinkLike(el schemas.ElementSnapshot) bool {
	return el.Tag == "a" || strings.EqualFold(el.Attr("role"), "link")
}

// IsSubmitLike reports whether invoking the node would submit a form.
func IsSubmitLike(el schemas.ElementSnapshot) bool {
	switch el.Tag {
	case "button":
		t := strings.ToLower(el.Attr("type"))
		return t == "" || t == "submit"
	case "input":
		t := el.InputType()
		return t == "submit" || t == "image"
	}
	return false
}

// MarkerTokens is the lowercase text the zone predicates search: class, id,
// role, test ids and aria-label.
func MarkerTokens(el schemas.ElementSnapshot) string {
	parts := []string{el.Attr("class"), el.Attr("id"), el.Attr("role"), el.Attr("data-testid"),
		el.Attr("data-component"), el.Attr("aria-label")}
	return strings.ToLower(strings.Join(parts, " "))
}

var fingerprintAttributes = []string{
	"alt", "aria-label", "data-value", "for", "href", "name", "placeholder", "role", "title", "type",
}

// Fingerprint hashes a node's tag, id, sorted classes, identifying attributes
// and leading text, followed by the same for each given ancestor.
func Fingerprint(el schemas.ElementSnapshot, ancestors ...schemas.ElementSnapshot) string {
	var sb strings.Builder
	describeShape(&sb, el, true)
	for _, a := range ancestors {
		sb.WriteString("<")
		describeShape(&sb, a, false)
	}

	hasher := hasherPool.Get().(hash.Hash64)
	_, _ = hasher.Write([]byte(sb.String()))
	fingerprint := strconv.FormatUint(hasher.Sum64(), 16)
	hasher.Reset()
	hasherPool.Put(hasher)
	return fingerprint
}

func describeShape(sb *strings.Builder, el schemas.ElementSnapshot, withText bool) {
	sb.WriteString(el.Tag)
	if id := el.Attr("id"); id != "" {
		sb.WriteString("#" + id)
	}
	classes := strings.Fields(el.Attr("class"))
	sort.Strings(classes)
	for _, c := range classes {
		// State classes change when the node is selected.
		if selectedClasses[strings.ToLower(c)] {
			continue
		}
		sb.WriteString("." + c)
	}
	for _, attr := range fingerprintAttributes {
		if v := el.Attr(attr); v != "" {
			sb.WriteString(fmt.Sprintf(`[%s="%s"]`, attr, strings.ReplaceAll(v, `"`, `\"`)))
		}
	}
	if el.IsChoiceInput() {
		sb.WriteString(fmt.Sprintf(`[value="%s"]`, el.Attr("value")))
	}
	if withText && el.Text != "" {
		sb.WriteString(fmt.Sprintf(`[text="%s"]`, truncateBytes(el.Text, maxFingerprintText)))
	}
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && n < len(s) && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
