package pagewalk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/mocks"
)

func TestWalkerMemoizes(t *testing.T) {
	ctx := context.Background()
	page := mocks.NewMockPageAccessor(t)
	page.On("Describe", mock.Anything, schemas.NodeRef("b")).
		Return(schemas.ElementSnapshot{Tag: "button", Text: "Go"}, nil).Twice()
	page.On("Parent", mock.Anything, schemas.NodeRef("b")).Return(schemas.NodeRef("div"), nil).Once()
	page.On("Parent", mock.Anything, schemas.NodeRef("div")).Return(schemas.NodeRef(""), nil).Once()
	page.On("Describe", mock.Anything, schemas.NodeRef("div")).
		Return(schemas.ElementSnapshot{Ref: "div", Tag: "div"}, nil).Once()

	w := New(page)
	el, err := w.Describe(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, schemas.NodeRef("b"), el.Ref, "ref is filled in when the driver omits it")
	_, err = w.Describe(ctx, "b")
	require.NoError(t, err)

	chain, err := w.Ancestors(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "div", chain[0].Tag)
	_, err = w.Ancestors(ctx, "b", 0)
	require.NoError(t, err)

	_, err = w.Refresh(ctx, "b")
	require.NoError(t, err)
}

func TestWalkerWrapsErrors(t *testing.T) {
	ctx := context.Background()
	page := mocks.NewMockPageAccessor(t)
	page.On("Describe", mock.Anything, schemas.NodeRef("gone")).
		Return(schemas.ElementSnapshot{}, schemas.ErrStaleNode)

	_, err := New(page).Describe(ctx, "gone")
	assert.True(t, errors.Is(err, schemas.ErrStaleNode))
	assert.Contains(t, err.Error(), "describe gone")
}

func TestInvalidateDropsCache(t *testing.T) {
	ctx := context.Background()
	page := mocks.NewMockPageAccessor(t)
	page.On("Describe", mock.Anything, schemas.NodeRef("b")).
		Return(schemas.ElementSnapshot{Ref: "b", Tag: "button"}, nil).Twice()

	w := New(page)
	_, _ = w.Describe(ctx, "b")
	w.Invalidate()
	_, _ = w.Describe(ctx, "b")
}

func TestClassify(t *testing.T) {
	el := func(tag string, attrs map[string]string) schemas.ElementSnapshot {
		return schemas.ElementSnapshot{Tag: tag, Attributes: attrs}
	}

	assert.True(t, IsNativelyInteractive(el("button", nil)))
	assert.True(t, IsNativelyInteractive(el("div", map[string]string{"role": "Radio"})))
	assert.False(t, IsNativelyInteractive(el("a", nil)))
	assert.False(t, IsNativelyInteractive(el("input", map[string]string{"type": "hidden"})))

	assert.True(t, IsClickable(el("li", map[string]string{"class": "swatch-item"})))
	assert.True(t, IsClickable(el("div", map[string]string{"tabindex": "0"})))
	assert.False(t, IsClickable(el("div", map[string]string{"tabindex": "-1"})))
	pointer := el("span", nil)
	pointer.Cursor = "pointer"
	assert.True(t, IsClickable(pointer))

	assert.True(t, IsDisabled(el("li", map[string]string{"class": "swatch sold-out"})))
	assert.True(t, IsDisabled(el("button", map[string]string{"aria-disabled": "true"})))

	assert.Equal(t, "aria-selected", SelectedMarker(el("li", map[string]string{"aria-selected": "true"})))
	assert.Equal(t, "class:is-active", SelectedMarker(el("li", map[string]string{"class": "swatch is-active"})))
	checked := el("input", map[string]string{"type": "radio"})
	checked.Checked = true
	assert.Equal(t, "checked", SelectedMarker(checked))
	assert.Empty(t, SelectedMarker(el("li", map[string]string{"aria-selected": "false"})))

	assert.True(t, IsSubmitLike(el("button", nil)))
	assert.False(t, IsSubmitLike(el("button", map[string]string{"type": "button"})))
	assert.True(t, IsLinkLike(el("span", map[string]string{"role": "link"})))
}

func TestFingerprintIgnoresStateClasses(t *testing.T) {
	parent := schemas.ElementSnapshot{Tag: "div", Attributes: map[string]string{"class": "sizes"}}
	plain := schemas.ElementSnapshot{Tag: "button", Text: "L", Attributes: map[string]string{"class": "swatch"}}
	selected := schemas.ElementSnapshot{Tag: "button", Text: "L", Attributes: map[string]string{"class": "selected swatch"}}
	other := schemas.ElementSnapshot{Tag: "div", Attributes: map[string]string{"class": "recommendations"}}

	assert.Equal(t, Fingerprint(plain, parent), Fingerprint(selected, parent))
	assert.NotEqual(t, Fingerprint(plain, parent), Fingerprint(plain, other))
}

func TestTruncateBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateBytes("abc", 10))
	assert.Equal(t, "ab", truncateBytes("abcdef", 2))
	assert.Equal(t, "a", truncateBytes("aé", 2), "never splits a multi-byte rune")
}
