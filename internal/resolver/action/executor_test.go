package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser/htmlpage"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/mocks"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

var viewport = schemas.Viewport{Width: 1280, Height: 800}

func testConfig() config.ActionConfig {
	cfg := config.DefaultResolverConfig().Action
	cfg.TacticInterval = 0
	cfg.ScrollSettle = 0
	return cfg
}

func noSettle(context.Context, time.Duration) error { return nil }

func newExecutor(opts ...Option) *Executor {
	return New(testConfig(), zap.NewNop(), nil, append([]Option{WithSettle(noSettle)}, opts...)...)
}

func buttonMatch(ref schemas.NodeRef) schemas.MatchResult {
	el := schemas.ElementSnapshot{
		Ref: ref, Tag: "button", Text: "L", Visible: true,
		Attributes: map[string]string{},
		Box:        schemas.Rect{X: 10, Y: 10, Width: 40, Height: 20},
	}
	return schemas.MatchResult{Candidate: schemas.CandidateElement{Element: el}, Confidence: 90}
}

var sizeL = schemas.TargetDescriptor{Kind: schemas.KindVariantSelect, Attribute: "size", Value: "L"}

func TestCascadeShortCircuits(t *testing.T) {
	page := mocks.NewMockPageAccessor(t)
	page.On("Viewport", mock.Anything).Return(viewport, nil)
	page.On("Invoke", mock.Anything, schemas.NodeRef("b")).Return(nil).Once()

	out, err := newExecutor().Execute(context.Background(), pagewalk.New(page), sizeL, buttonMatch("b"))
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, schemas.TacticDirectInvoke, out.Attempts[0].Tactic)
	assert.Equal(t, 1, out.Attempts[0].TacticIndex)
	page.AssertNotCalled(t, "Focus", mock.Anything, mock.Anything)
	page.AssertNotCalled(t, "DispatchPointer", mock.Anything, mock.Anything, mock.Anything)
}

func TestCascadeFallsThrough(t *testing.T) {
	page := mocks.NewMockPageAccessor(t)
	page.On("Viewport", mock.Anything).Return(viewport, nil)
	page.On("Invoke", mock.Anything, schemas.NodeRef("b")).Return(errors.New("element not interactable")).Twice()
	page.On("Focus", mock.Anything, schemas.NodeRef("b")).Return(nil).Once()
	page.On("DispatchPointer", mock.Anything, 30.0, 20.0).Return(nil).Once()

	out, err := newExecutor().Execute(context.Background(), pagewalk.New(page), sizeL, buttonMatch("b"))
	require.NoError(t, err)
	assert.True(t, out.Succeeded)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, "element not interactable", out.Attempts[0].Error)
	assert.False(t, out.Attempts[1].SucceededSyntactically)
	assert.Equal(t, schemas.TacticPointerSequence, out.Attempts[2].Tactic)
	assert.True(t, out.Attempts[2].SucceededSyntactically)
}

func TestParentClimb(t *testing.T) {
	page := mocks.NewMockPageAccessor(t)
	page.On("Viewport", mock.Anything).Return(viewport, nil)
	page.On("Invoke", mock.Anything, schemas.NodeRef("img")).Return(errors.New("not clickable")).Twice()
	page.On("Focus", mock.Anything, schemas.NodeRef("img")).Return(nil)
	page.On("Parent", mock.Anything, schemas.NodeRef("img")).Return(schemas.NodeRef("card"), nil)
	page.On("Describe", mock.Anything, schemas.NodeRef("card")).Return(schemas.ElementSnapshot{
		Ref: "card", Tag: "div", Attributes: map[string]string{"onclick": "pick()"},
	}, nil)
	page.On("Parent", mock.Anything, schemas.NodeRef("card")).Return(schemas.NodeRef(""), nil)
	page.On("Invoke", mock.Anything, schemas.NodeRef("card")).Return(nil).Once()

	m := buttonMatch("img")
	m.Candidate.Element.Tag = "img"
	m.Candidate.Element.Obscured = true

	out, err := newExecutor().Execute(context.Background(), pagewalk.New(page), sizeL, m)
	require.NoError(t, err)
	require.True(t, out.Succeeded)
	assert.Equal(t, schemas.NodeRef("card"), out.Node)
	require.Len(t, out.Attempts, 5)
	assert.True(t, out.Attempts[2].Skipped, "pointer skipped for an obscured node")
	assert.True(t, out.Attempts[3].Skipped, "set checked skipped for a non-choice node")
	assert.Equal(t, 5, out.Attempts[4].TacticIndex)
}

func TestExhausted(t *testing.T) {
	page := mocks.NewMockPageAccessor(t)
	page.On("Viewport", mock.Anything).Return(viewport, nil)
	page.On("Invoke", mock.Anything, schemas.NodeRef("b")).Return(errors.New("detached handler"))
	page.On("Focus", mock.Anything, schemas.NodeRef("b")).Return(errors.New("not focusable"))
	page.On("Parent", mock.Anything, schemas.NodeRef("b")).Return(schemas.NodeRef(""), nil)

	m := buttonMatch("b")
	m.Candidate.Element.Obscured = true
	out, err := newExecutor().Execute(context.Background(), pagewalk.New(page), sizeL, m)
	require.NoError(t, err)
	assert.False(t, out.Succeeded)
	require.Len(t, out.Attempts, 6)
	for _, a := range out.Attempts {
		assert.False(t, a.SucceededSyntactically)
	}
}

func TestHostUnavailableAborts(t *testing.T) {
	page := mocks.NewMockPageAccessor(t)
	page.On("Viewport", mock.Anything).Return(viewport, nil)
	page.On("Invoke", mock.Anything, schemas.NodeRef("b")).Return(schemas.ErrHostUnavailable).Once()

	_, err := newExecutor().Execute(context.Background(), pagewalk.New(page), sizeL, buttonMatch("b"))
	assert.ErrorIs(t, err, schemas.ErrHostUnavailable)
}

func TestScrollsAndSettlesBeforeFirstTactic(t *testing.T) {
	ctx := context.Background()
	page, err := htmlpage.New(`<body><div style="height:2400px"></div><button id="far">L</button></body>`)
	require.NoError(t, err)
	require.NoError(t, page.BeginSnapshot(ctx))
	w := pagewalk.New(page)
	refs, err := page.Query(ctx, "", "#far")
	require.NoError(t, err)
	el, err := w.Describe(ctx, refs[0])
	require.NoError(t, err)

	var eventsAtSettle []htmlpage.Event
	var settled time.Duration
	settle := func(_ context.Context, d time.Duration) error {
		eventsAtSettle = page.Events()
		settled = d
		return nil
	}
	cfg := testConfig()
	cfg.ScrollSettle = 1200 * time.Millisecond
	exec := New(cfg, zap.NewNop(), nil, WithSettle(settle))

	out, err := exec.Execute(ctx, w, sizeL, schemas.MatchResult{Candidate: schemas.CandidateElement{Element: el}})
	require.NoError(t, err)
	assert.True(t, out.Scrolled)
	assert.True(t, out.Succeeded)
	assert.Equal(t, 1200*time.Millisecond, settled)

	require.Len(t, eventsAtSettle, 1, "nothing is dispatched before the scroll settles")
	assert.Equal(t, "scroll", eventsAtSettle[0].Type)
	events := page.Events()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, "scroll", events[0].Type)
	assert.Equal(t, "click", events[1].Type)
}

func TestSettleHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestValueTargets(t *testing.T) {
	ctx := context.Background()
	page, err := htmlpage.New(`
		<select id="size"><option value="sz-s">S</option><option value="sz-l">L</option></select>
		<label for="email">Email</label><input id="email" type="email">`)
	require.NoError(t, err)
	require.NoError(t, page.BeginSnapshot(ctx))
	w := pagewalk.New(page)
	describe := func(sel string) schemas.ElementSnapshot {
		refs, err := page.Query(ctx, "", sel)
		require.NoError(t, err)
		el, err := w.Describe(ctx, refs[0])
		require.NoError(t, err)
		return el
	}

	t.Run("select uses the matched option value", func(t *testing.T) {
		m := schemas.MatchResult{
			Candidate:     schemas.CandidateElement{Element: describe("#size")},
			MatchedSignal: schemas.MatchedSignal{Signal: schemas.Signal{Source: schemas.SignalOption, Text: "L", Detail: "sz-l"}},
		}
		out, err := newExecutor().Execute(ctx, w, sizeL, m)
		require.NoError(t, err)
		require.True(t, out.Succeeded)
		assert.Equal(t, 1, page.Find(`option[value="sz-l"][selected]`).Length())
	})

	t.Run("fill through a label lands on tactic six", func(t *testing.T) {
		fill := schemas.TargetDescriptor{Kind: schemas.KindFieldFill, Attribute: "email", Value: "a@b.c"}
		m := schemas.MatchResult{Candidate: schemas.CandidateElement{Element: describe("label")}}
		out, err := newExecutor().Execute(ctx, w, fill, m)
		require.NoError(t, err)
		require.True(t, out.Succeeded)
		assert.Equal(t, 6, out.Attempts[len(out.Attempts)-1].TacticIndex)
		v, _ := page.Find("#email").Attr("value")
		assert.Equal(t, "a@b.c", v)
	})
}
