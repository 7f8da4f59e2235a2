package htmlpage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

func mustPage(t *testing.T, src string, opts ...Option) *Page {
	t.Helper()
	p, err := New(src, opts...)
	require.NoError(t, err)
	require.NoError(t, p.BeginSnapshot(context.Background()))
	return p
}

func queryOne(t *testing.T, p *Page, selector string) schemas.NodeRef {
	t.Helper()
	refs, err := p.Query(context.Background(), "", selector)
	require.NoError(t, err)
	require.Len(t, refs, 1, "selector %s", selector)
	return refs[0]
}

func TestQueryAndDescribe(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<html><body>
		<div class="product"><button id="b" aria-label="Add to bag"> Add   to bag </button></div>
		<input id="q" type="number" value="1">
		<label for="q">Quantity</label>
	</body></html>`)

	el, err := p.Describe(ctx, queryOne(t, p, "#b"))
	require.NoError(t, err)
	assert.Equal(t, "button", el.Tag)
	assert.Equal(t, "Add to bag", el.Text)
	assert.Equal(t, "Add to bag", el.Attr("aria-label"))
	assert.True(t, el.Visible)
	assert.False(t, el.Obscured)

	q, err := p.Describe(ctx, queryOne(t, p, "#q"))
	require.NoError(t, err)
	assert.Equal(t, "1", q.Value)
	assert.Equal(t, "Quantity", q.LabelText)
	assert.Equal(t, "number", q.InputType())

	t.Run("invalid selector", func(t *testing.T) {
		_, err := p.Query(ctx, "", "div[")
		assert.Error(t, err)
	})

	t.Run("scoped query", func(t *testing.T) {
		scope := queryOne(t, p, ".product")
		refs, err := p.Query(ctx, scope, "button, input")
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})
}

func TestRefsAreGenerationScoped(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<button id="b">Go</button>`)
	ref := queryOne(t, p, "#b")

	require.NoError(t, p.BeginSnapshot(ctx))
	_, err := p.Describe(ctx, ref)
	assert.ErrorIs(t, err, schemas.ErrStaleNode)

	fresh := queryOne(t, p, "#b")
	assert.NotEqual(t, ref, fresh)
	_, err = p.Describe(ctx, fresh)
	assert.NoError(t, err)
}

func TestDetachedNodeIsStale(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<div id="wrap"><button id="b">Go</button></div>`)
	ref := queryOne(t, p, "#b")
	p.Find("#b").Remove()

	_, err := p.Describe(ctx, ref)
	assert.ErrorIs(t, err, schemas.ErrStaleNode)
}

func TestShadowRoots(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<body>
		<size-picker id="host"><template shadowrootmode="open"><button class="sz">M</button></template></size-picker>
		<locked-picker><template shadowrootmode="closed"><button class="sz">L</button></template></locked-picker>
		<template><button class="sz">XL</button></template>
	</body>`)

	refs, err := p.Query(ctx, "", "button.sz")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	el, err := p.Describe(ctx, refs[0])
	require.NoError(t, err)
	assert.True(t, el.InShadow)
	assert.Equal(t, "M", el.Text)

	parent, err := p.Parent(ctx, refs[0])
	require.NoError(t, err)
	host, err := p.Describe(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, "host", host.Attr("id"))

	children, err := p.Children(ctx, parent)
	require.NoError(t, err)
	assert.Equal(t, refs, children)
}

func TestVisibility(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<body>
		<button id="shown">A</button>
		<button id="none" style="display:none">B</button>
		<button id="attr" hidden>C</button>
		<button id="invisible" style="visibility:hidden">D</button>
		<button id="faded" style="opacity: 0">E</button>
		<input id="h" type="hidden" value="x">
		<button id="flat" style="height:0">F</button>
	</body>`)

	cases := map[string]bool{
		"#shown": true, "#none": false, "#attr": false, "#invisible": false,
		"#faded": false, "#h": false, "#flat": false,
	}
	for sel, want := range cases {
		el, err := p.Describe(ctx, queryOne(t, p, sel))
		require.NoError(t, err)
		assert.Equal(t, want, el.Visible, sel)
	}
}

func TestScrollIntoView(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<body><div style="height:3000px"></div><button id="far">Buy</button></body>`, WithViewport(1000, 600))
	ref := queryOne(t, p, "#far")

	el, err := p.Describe(ctx, ref)
	require.NoError(t, err)
	vp, err := p.Viewport(ctx)
	require.NoError(t, err)
	assert.False(t, vp.Contains(el.Box))

	require.NoError(t, p.ScrollIntoView(ctx, ref))
	el, err = p.Describe(ctx, ref)
	require.NoError(t, err)
	vp, err = p.Viewport(ctx)
	require.NoError(t, err)
	assert.True(t, vp.Contains(el.Box))
	assert.Len(t, p.EventsOfType("scroll"), 1)
}

func TestOverlayObscuresAndReceivesPointer(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<body>
		<button id="under">Buy</button>
		<div id="cover" style="position:fixed; top:0; left:0; width:1280px; height:800px; z-index:10"></div>
	</body>`)

	ref := queryOne(t, p, "#under")
	el, err := p.Describe(ctx, ref)
	require.NoError(t, err)
	assert.True(t, el.Obscured)

	x, y := el.Box.Center()
	require.NoError(t, p.DispatchPointer(ctx, x, y))
	clicks := p.EventsOfType("click")
	require.Len(t, clicks, 1)
	assert.Equal(t, "div#cover", clicks[0].Node)
}

func TestClickActivation(t *testing.T) {
	ctx := context.Background()

	t.Run("radio group", func(t *testing.T) {
		p := mustPage(t, `<form>
			<input type="radio" name="size" id="s" value="S" checked>
			<input type="radio" name="size" id="m" value="M">
		</form>`)
		require.NoError(t, p.Invoke(ctx, queryOne(t, p, "#m")))
		assert.Equal(t, 0, p.Find("#s[checked]").Length())
		assert.Equal(t, 1, p.Find("#m[checked]").Length())
		assert.Len(t, p.EventsOfType("change"), 1)
	})

	t.Run("events carry the ref of their target", func(t *testing.T) {
		p := mustPage(t, `<button id="a">A</button><button id="b">B</button>`)
		ref := queryOne(t, p, "#b")
		require.NoError(t, p.Invoke(ctx, ref))
		clicks := p.EventsOfType("click")
		require.Len(t, clicks, 1)
		assert.Equal(t, ref, clicks[0].Ref)
		assert.Contains(t, clicks[0].Node, "button#b")
	})

	t.Run("label forwards to control", func(t *testing.T) {
		p := mustPage(t, `<input type="checkbox" id="gift"><label for="gift">Gift wrap</label>`)
		require.NoError(t, p.Invoke(ctx, queryOne(t, p, "label")))
		assert.Equal(t, 1, p.Find("#gift[checked]").Length())
	})

	t.Run("link navigates", func(t *testing.T) {
		p := mustPage(t, `<a id="l" href="/cart">Cart</a>`, WithURL("https://shop.test/p/1"))
		require.NoError(t, p.Invoke(ctx, queryOne(t, p, "#l")))
		u, err := p.URL(ctx)
		require.NoError(t, err)
		assert.Equal(t, "https://shop.test/cart", u)
	})

	t.Run("disabled button ignores click", func(t *testing.T) {
		p := mustPage(t, `<button id="b" disabled>Go</button>`)
		require.NoError(t, p.Invoke(ctx, queryOne(t, p, "#b")))
		assert.Empty(t, p.EventsOfType("click"))
	})

	t.Run("prevented checkbox is restored", func(t *testing.T) {
		p := mustPage(t, `<input type="checkbox" id="c">`)
		require.NoError(t, p.On("click", "#c", func(d *Dispatch) { d.PreventDefault() }))
		require.NoError(t, p.Invoke(ctx, queryOne(t, p, "#c")))
		assert.Equal(t, 0, p.Find("#c[checked]").Length())
	})

	t.Run("submit button fires form submit", func(t *testing.T) {
		p := mustPage(t, `<form id="f"><button id="b">Add</button></form>`)
		require.NoError(t, p.Invoke(ctx, queryOne(t, p, "#b")))
		assert.Len(t, p.EventsOfType("submit"), 1)
	})
}

func TestHandlersBubbleAndMutate(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<ul class="swatches"><li data-value="red"><span>Red</span></li></ul>`,
		WithURL("https://shop.test/p/1"))
	require.NoError(t, p.On("click", "li", func(d *Dispatch) {
		d.Current.AddClass("selected")
		d.Navigate("?color=red")
	}))

	require.NoError(t, p.Invoke(ctx, queryOne(t, p, "span")))
	assert.Equal(t, 1, p.Find("li.selected").Length())
	u, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.test/p/1?color=red", u)
}

func TestSelectAndSetValue(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<select id="size">
			<option value="">Choose</option>
			<option value="s">Small</option>
			<option value="m" disabled>Medium</option>
		</select>
		<input id="qty" type="text" value="1">
		<textarea id="note">hi</textarea>`)

	sel := queryOne(t, p, "#size")
	el, err := p.Describe(ctx, sel)
	require.NoError(t, err)
	require.Len(t, el.Options, 3)
	assert.True(t, el.Options[0].Selected)
	assert.Equal(t, "Choose", el.Text)

	require.NoError(t, p.SelectOption(ctx, sel, "Small"))
	el, err = p.Describe(ctx, sel)
	require.NoError(t, err)
	assert.Equal(t, "s", el.Value)

	assert.ErrorIs(t, p.SelectOption(ctx, sel, "XXL"), schemas.ErrNotFound)
	assert.Error(t, p.SelectOption(ctx, sel, "m"))

	qty := queryOne(t, p, "#qty")
	require.NoError(t, p.SetValue(ctx, qty, "3"))
	q, err := p.Describe(ctx, qty)
	require.NoError(t, err)
	assert.Equal(t, "3", q.Value)

	note := queryOne(t, p, "#note")
	require.NoError(t, p.SetValue(ctx, note, "gift"))
	n, err := p.Describe(ctx, note)
	require.NoError(t, err)
	assert.Equal(t, "gift", n.Value)
}

func TestClosedPageIsUnavailable(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<button>Go</button>`)
	p.Close()
	_, err := p.URL(ctx)
	assert.ErrorIs(t, err, schemas.ErrHostUnavailable)
	assert.ErrorIs(t, p.BeginSnapshot(ctx), schemas.ErrHostUnavailable)
}

func TestScreenshotRequiresClip(t *testing.T) {
	ctx := context.Background()
	p := mustPage(t, `<button>Go</button>`)
	_, err := p.Screenshot(ctx, schemas.Rect{})
	assert.Error(t, err)
	img, err := p.Screenshot(ctx, schemas.Rect{Width: 10, Height: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, img)
}
