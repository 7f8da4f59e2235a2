package exclusion

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/browser/htmlpage"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/observability"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
)

const decoyPage = `<body>
	<header class="site-header"><a href="/l">L</a><button id="hdr-btn">L</button></header>
	<div class="product-options"><button id="real">L</button></div>
	<section class="recommendations"><div class="card"><button id="decoy">L</button></div></section>
	<div style="height:400px"></div>
	<nav><a id="low-link" href="/footer-l">L</a></nav>
</body>`

func candidates(t *testing.T, w *pagewalk.Walker, selector string) []schemas.CandidateElement {
	t.Helper()
	ctx := context.Background()
	refs, err := w.Page().Query(ctx, "", selector)
	require.NoError(t, err)
	var out []schemas.CandidateElement
	for i, ref := range refs {
		el, err := w.Describe(ctx, ref)
		require.NoError(t, err)
		out = append(out, schemas.CandidateElement{Element: el, Strategy: schemas.StrategyVisualOverlay, Order: i})
	}
	return out
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	page, err := htmlpage.New(decoyPage)
	require.NoError(t, err)
	require.NoError(t, page.BeginSnapshot(ctx))
	w := pagewalk.New(page)
	vp, err := page.Viewport(ctx)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(reg)
	f := New(config.DefaultResolverConfig().Exclusion, zap.NewNop(), metrics)

	kept, excluded, err := f.Apply(ctx, w, candidates(t, w, "a, button"), vp)
	require.NoError(t, err)

	var keptIDs []string
	for _, c := range kept {
		keptIDs = append(keptIDs, c.Element.Attr("id"))
	}
	// The header button is not link-like, and the nav link sits below the threshold.
	assert.Equal(t, []string{"hdr-btn", "real", "low-link"}, keptIDs)

	require.Len(t, excluded, 2)
	assert.Equal(t, ZoneNavigation, excluded[0].Zone)
	assert.Equal(t, "header", excluded[0].Marker)
	assert.Equal(t, ZoneDecoy, excluded[1].Zone)
	assert.Equal(t, "recommend", excluded[1].Marker)

	expected := `
# HELP pinpoint_exclusion_candidates_excluded_total Candidates dropped by exclusion zones before scoring.
# TYPE pinpoint_exclusion_candidates_excluded_total counter
pinpoint_exclusion_candidates_excluded_total{zone="decoy"} 1
pinpoint_exclusion_candidates_excluded_total{zone="navigation"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pinpoint_exclusion_candidates_excluded_total"))
}

func TestZonesArePureFunctionsOfTheChain(t *testing.T) {
	chain := []schemas.ElementSnapshot{
		{Tag: "button", Attributes: map[string]string{}},
		{Tag: "div", Attributes: map[string]string{"data-testid": "similar-products"}},
	}
	marker, ok := DecoyZone([]string{"Similar"}).Match(chain, 0)
	assert.True(t, ok)
	assert.Equal(t, "similar", marker)

	nav := NavigationZone(200)
	_, ok = nav.Match([]schemas.ElementSnapshot{{Tag: "a"}, {Tag: "div", Attributes: map[string]string{"role": "navigation"}}}, 50)
	assert.True(t, ok)
	_, ok = nav.Match([]schemas.ElementSnapshot{{Tag: "a"}, {Tag: "nav"}}, 250)
	assert.False(t, ok)
}

func TestInZone(t *testing.T) {
	ctx := context.Background()
	page, err := htmlpage.New(decoyPage)
	require.NoError(t, err)
	require.NoError(t, page.BeginSnapshot(ctx))
	w := pagewalk.New(page)
	f := New(config.DefaultResolverConfig().Exclusion, zap.NewNop(), nil)

	for id, want := range map[string]bool{"#decoy": true, "#real": false} {
		refs, err := page.Query(ctx, "", id)
		require.NoError(t, err)
		el, err := w.Describe(ctx, refs[0])
		require.NoError(t, err)
		assert.Equal(t, want, f.InZone(ctx, w, el, schemas.Viewport{}), id)
	}
}
